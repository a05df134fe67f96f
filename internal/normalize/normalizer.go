// Package normalize validates provisional records and turns them into
// canonical transactions.
package normalize

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/fields"
	"github.com/dvloznov/finance-ingest/internal/merchant"
	"github.com/shopspring/decimal"
)

// SignPrecedence decides which signal sets the sign of an amount when a
// signed value and a debit/credit hint disagree.
type SignPrecedence string

const (
	// HintWins applies an explicit debit/credit hint over the sign of the value.
	HintWins SignPrecedence = "hint"
	// SignedWins keeps an explicitly signed value; hints only sign unsigned values.
	SignedWins SignPrecedence = "signed"
)

// DefaultSkipPhrases mark summary and metadata rows that are not transactions.
var DefaultSkipPhrases = []string{
	"opening balance",
	"closing balance",
	"beginning balance",
	"ending balance",
	"previous balance",
	"new balance",
	"balance brought forward",
	"balance carried forward",
	"brought forward",
	"carried forward",
	"account summary",
	"statement total",
	"total debits",
	"total credits",
	"total deposits",
	"total withdrawals",
	"total payments",
	"subtotal",
	"sub total",
}

var (
	pageNumberPattern = regexp.MustCompile(`^page \d+( of \d+)?$`)
	bareLabels        = map[string]bool{"total": true, "balance": true}
)

// Config tunes normalization.
type Config struct {
	DateFormats    []string
	SignPrecedence SignPrecedence
	SkipPhrases    []string
}

// DefaultConfig returns month-first date parsing, hint-wins signs and the default skip phrases.
func DefaultConfig() Config {
	return Config{
		DateFormats:    fields.DefaultDateFormats,
		SignPrecedence: HintWins,
		SkipPhrases:    DefaultSkipPhrases,
	}
}

// Meta is the per-import context stamped on every record.
type Meta struct {
	SourceFile string
	ImportedAt time.Time
}

// Normalizer converts provisional records. It is stateless apart from its
// read-only configuration and safe for concurrent use.
type Normalizer struct {
	cfg        Config
	aliases    *merchant.Table
	categories *CategorySet
	skip       []string
}

// New builds a normalizer. A nil alias table means no aliases; a nil category
// set uses domain.DefaultCategories.
func New(cfg Config, aliases *merchant.Table, categories *CategorySet) *Normalizer {
	if cfg.SignPrecedence == "" {
		cfg.SignPrecedence = HintWins
	}
	if aliases == nil {
		aliases = merchant.NewTable(nil)
	}
	if categories == nil {
		categories = NewCategorySet(domain.DefaultCategories)
	}

	n := &Normalizer{cfg: cfg, aliases: aliases, categories: categories}
	for _, phrase := range cfg.SkipPhrases {
		phrase = fields.NormalizeDescription(phrase)
		if phrase == "" {
			continue
		}
		n.skip = append(n.skip, labelWords(phrase))
	}
	return n
}

// Categories returns the category set used for validation.
func (n *Normalizer) Categories() *CategorySet {
	return n.categories
}

// Normalize validates p and returns its canonical form. Dropped records
// return a *domain.NormalizationError. The result has no ID or fingerprint yet.
func (n *Normalizer) Normalize(p domain.ProvisionalTransaction, meta Meta) (*domain.CanonicalTransaction, error) {
	desc := fields.CollapseWhitespace(p.Description)
	if desc == "" {
		return nil, &domain.NormalizationError{Reason: domain.DropEmptyDescription}
	}
	if n.isNonTransactional(desc, p.Amount) {
		return nil, &domain.NormalizationError{Reason: domain.DropNonTransactional, Value: desc}
	}

	date, err := fields.ParseDate(p.Date, n.cfg.DateFormats)
	if err != nil {
		return nil, &domain.NormalizationError{Reason: domain.DropInvalidDate, Value: p.Date}
	}

	amt, err := fields.ParseAmount(p.Amount)
	if err != nil {
		return nil, &domain.NormalizationError{Reason: domain.DropInvalidAmount, Value: p.Amount}
	}

	tx := &domain.CanonicalTransaction{
		Date:        date,
		Description: desc,
		Amount:      n.signed(amt, fields.ParseSignHint(p.Type)),
		Balance:     parseBalance(p.Balance),
		Category:    n.categories.Resolve(p.Category),
		Merchant:    n.aliases.Resolve(desc),
		SourceFile:  meta.SourceFile,
		ImportedAt:  meta.ImportedAt,
	}

	return tx, nil
}

// signed applies the configured sign precedence. A type-field hint outranks
// a CR/DR marker embedded in the amount text.
func (n *Normalizer) signed(amt fields.Amount, typeHint fields.SignHint) decimal.Decimal {
	hint := typeHint
	if hint == fields.NoHint {
		hint = amt.Hint
	}
	if hint == fields.NoHint {
		return amt.Value
	}
	if n.cfg.SignPrecedence == SignedWins && amt.Explicit {
		return amt.Value
	}
	return applyHint(amt.Value, hint)
}

func applyHint(v decimal.Decimal, hint fields.SignHint) decimal.Decimal {
	switch hint {
	case fields.Debit:
		return v.Abs().Neg()
	case fields.Credit:
		return v.Abs()
	default:
		return v
	}
}

// parseBalance is lenient: an unparseable balance is dropped, never the record.
func parseBalance(s string) *decimal.Decimal {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	amt, err := fields.ParseAmount(s)
	if err != nil {
		return nil
	}
	v := amt.Value
	if amt.Hint == fields.Debit {
		v = v.Abs().Neg()
	}
	return &v
}

// isNonTransactional matches summary rows by their whole label. Trailing
// words after a skip phrase only count when the row carries no amount, so
// merchants such as "New Balance Athletics" are kept.
func (n *Normalizer) isNonTransactional(desc, amount string) bool {
	norm := fields.NormalizeDescription(desc)
	if bareLabels[norm] || pageNumberPattern.MatchString(norm) {
		return true
	}
	words := labelWords(norm)
	for _, phrase := range n.skip {
		if words == phrase {
			return true
		}
		if strings.HasPrefix(words, phrase+" ") && blankAmount(amount) {
			return true
		}
	}
	return false
}

// labelWords keeps the lower-case words of s that contain a letter, with
// surrounding punctuation trimmed. Dates and amounts printed beside a label
// are dropped.
func labelWords(s string) string {
	var out []string
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.TrimFunc(tok, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if strings.IndexFunc(tok, unicode.IsLetter) < 0 {
			continue
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

func blankAmount(s string) bool {
	if strings.TrimSpace(s) == "" {
		return true
	}
	amt, err := fields.ParseAmount(s)
	return err == nil && amt.Value.IsZero()
}
