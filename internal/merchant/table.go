// Package merchant resolves raw statement descriptions to canonical merchant names.
package merchant

import (
	"sort"
	"strings"
	"unicode"

	"github.com/dvloznov/finance-ingest/internal/fields"
)

// DefaultAliases maps description fragments to merchant names. Fragments
// match whole words; a trailing '*' marks a code that banks also glue onto
// the next word, as in AMZNMKTPLACE.
var DefaultAliases = map[string]string{
	"AMZN*":          "Amazon",
	"AMAZON":         "Amazon",
	"AMAZON PRIME":   "Amazon Prime",
	"UBER":           "Uber",
	"UBER EATS":      "Uber Eats",
	"LYFT":           "Lyft",
	"DOORDASH":       "DoorDash",
	"GRUBHUB":        "Grubhub",
	"DELIVEROO":      "Deliveroo",
	"NETFLIX":        "Netflix",
	"SPOTIFY":        "Spotify",
	"HULU":           "Hulu",
	"DISNEY PLUS":    "Disney+",
	"APPLE COM BILL": "Apple",
	"ITUNES":         "Apple",
	"GOOGLE":         "Google",
	"YOUTUBE":        "YouTube",
	"PAYPAL":         "PayPal",
	"WHOLEFDS":       "Whole Foods",
	"WHOLE FOODS":    "Whole Foods",
	"WM SUPERCENTER": "Walmart",
	"WALMART":        "Walmart",
	"TARGET":         "Target",
	"COSTCO":         "Costco",
	"TESCO":          "Tesco",
	"SAINSBURY":      "Sainsbury's",
	"STARBUCKS":      "Starbucks",
	"DUNKIN":         "Dunkin",
	"MCDONALDS":      "McDonalds",
	"CHEVRON":        "Chevron",
	"SHELL OIL":      "Shell",
	"VANGUARD":       "Vanguard",
	"FIDELITY":       "Fidelity",
}

// noiseTokens never name a merchant on their own.
var noiseTokens = map[string]bool{
	"POS": true, "ACH": true, "DEBIT": true, "CREDIT": true, "CARD": true,
	"VISA": true, "MASTERCARD": true, "PURCHASE": true, "PAYMENT": true,
	"RECURRING": true, "ONLINE": true, "CONTACTLESS": true, "DD": true,
	"SO": true, "FPI": true, "FPO": true, "BGC": true, "CHQ": true,
	"REF": true, "TXN": true, "TRX": true, "WWW": true, "COM": true,
	"HTTP": true, "HTTPS": true, "PENDING": true,
}

const maxFallbackTokens = 3

type alias struct {
	spaced  string // cleaned pattern, words separated by one space
	compact string // cleaned pattern without spaces
	name    string
	open    bool // may end inside a word
}

// Table is an immutable alias table. It is safe for concurrent use.
type Table struct {
	aliases []alias
}

// NewTable builds a table from fragment → name pairs. Empty entries are ignored.
func NewTable(aliases map[string]string) *Table {
	t := &Table{aliases: make([]alias, 0, len(aliases))}
	for pattern, name := range aliases {
		pattern = strings.TrimSpace(pattern)
		open := strings.HasSuffix(pattern, "*")
		spaced := clean(strings.TrimSuffix(pattern, "*"))
		name = strings.TrimSpace(name)
		if spaced == "" || name == "" {
			continue
		}
		t.aliases = append(t.aliases, alias{
			spaced:  spaced,
			compact: strings.ReplaceAll(spaced, " ", ""),
			name:    name,
			open:    open,
		})
	}

	// Longest fragment first so the most specific alias wins; ties alphabetical.
	sort.Slice(t.aliases, func(i, j int) bool {
		a, b := t.aliases[i], t.aliases[j]
		if len(a.compact) != len(b.compact) {
			return len(a.compact) > len(b.compact)
		}
		return a.spaced < b.spaced
	})

	return t
}

// DefaultTable returns a table holding DefaultAliases.
func DefaultTable() *Table {
	return NewTable(DefaultAliases)
}

// Len returns the number of aliases.
func (t *Table) Len() int {
	return len(t.aliases)
}

// Resolve returns the canonical merchant for a description, a name derived
// from the leading meaningful words when no alias matches, or nil when
// nothing meaningful is left.
func (t *Table) Resolve(description string) *string {
	spaced := clean(description)
	if spaced == "" {
		return nil
	}

	for _, a := range t.aliases {
		if containsWords(spaced, a.spaced, a.open) || containsWords(spaced, a.compact, a.open) {
			name := a.name
			return &name
		}
	}

	if name := fallbackName(spaced); name != "" {
		return &name
	}
	return nil
}

// Key is the grouping key for a transaction: the merchant when resolved,
// otherwise the normalized description.
func Key(merchant *string, description string) string {
	if merchant != nil && strings.TrimSpace(*merchant) != "" {
		return strings.ToLower(strings.TrimSpace(*merchant))
	}
	return fields.NormalizeDescription(description)
}

// clean upper-cases s and turns every non-alphanumeric run into one space.
func clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return fields.CollapseWhitespace(b.String())
}

// containsWords reports whether fragment occurs in s starting at a word
// boundary and, unless open, ending at one.
func containsWords(s, fragment string, open bool) bool {
	if fragment == "" {
		return false
	}
	for from := 0; from < len(s); {
		idx := strings.Index(s[from:], fragment)
		if idx < 0 {
			return false
		}
		pos := from + idx
		end := pos + len(fragment)
		if (pos == 0 || s[pos-1] == ' ') && (open || end == len(s) || s[end] == ' ') {
			return true
		}
		from = pos + 1
	}
	return false
}

func fallbackName(spaced string) string {
	var words []string
	for _, tok := range strings.Fields(spaced) {
		if isNoise(tok) {
			if len(words) > 0 {
				break
			}
			continue
		}
		words = append(words, titleCase(tok))
		if len(words) == maxFallbackTokens {
			break
		}
	}
	return strings.Join(words, " ")
}

// isNoise flags rail keywords, single letters and reference-like tokens
// where digits dominate.
func isNoise(tok string) bool {
	if noiseTokens[tok] {
		return true
	}
	runes := []rune(tok)
	if len(runes) < 2 {
		return true
	}
	digits := 0
	for _, r := range runes {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return digits*2 > len(runes)
}

func titleCase(tok string) string {
	runes := []rune(strings.ToLower(tok))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
