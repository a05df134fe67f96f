package fields

import (
	"errors"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ErrNotNumeric is returned when an amount is not a number after stripping
// currency symbols, separators and sign markers.
var ErrNotNumeric = errors.New("amount is not numeric")

// SignHint is a debit/credit marker found next to an amount.
type SignHint int

const (
	NoHint SignHint = iota
	Debit
	Credit
)

func (h SignHint) String() string {
	switch h {
	case Debit:
		return "debit"
	case Credit:
		return "credit"
	default:
		return ""
	}
}

// Amount is a parsed monetary value.
type Amount struct {
	Value decimal.Decimal
	// Explicit is true when the text itself carried a sign: a leading + or -,
	// a trailing -, or accounting parentheses.
	Explicit bool
	// Hint is set by a trailing CR/DR marker.
	Hint SignHint
}

var currencySymbols = []string{"R$", "£", "$", "€", "¥", "₹", "₩", "₽", "₺"}

var currencyCodes = map[string]bool{
	"USD": true, "GBP": true, "EUR": true, "INR": true, "CAD": true,
	"AUD": true, "NZD": true, "JPY": true, "CHF": true, "SEK": true,
	"NOK": true, "DKK": true, "PLN": true, "ZAR": true, "SGD": true,
}

// ParseAmount parses statement amount text like "-1,234.56", "(12.50)",
// "£9.99", "12.50 CR", "45,00" or "100.00-".
func ParseAmount(s string) (Amount, error) {
	var out Amount

	s = strings.TrimSpace(s)
	if s == "" {
		return out, ErrNotNumeric
	}

	upper := strings.ToUpper(s)
	for _, suffix := range []struct {
		text string
		hint SignHint
	}{{"CR", Credit}, {"DR", Debit}} {
		if strings.HasSuffix(upper, suffix.text) {
			out.Hint = suffix.hint
			s = strings.TrimSpace(s[:len(s)-len(suffix.text)])
			upper = strings.ToUpper(s)
			break
		}
	}

	for _, word := range strings.Fields(upper) {
		if currencyCodes[strings.Trim(word, ".,")] {
			s = removeWordFold(s, word)
		}
	}
	for _, sym := range currencySymbols {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		out.Explicit = true
		s = s[1 : len(s)-1]
	}
	switch {
	case strings.HasPrefix(s, "-"):
		negative = !negative
		out.Explicit = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		out.Explicit = true
		s = s[1:]
	case strings.HasSuffix(s, "-"):
		negative = true
		out.Explicit = true
		s = s[:len(s)-1]
	}

	s = normalizeSeparators(s)
	if s == "" || !isPlainNumber(s) {
		return Amount{}, ErrNotNumeric
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, ErrNotNumeric
	}
	if negative {
		d = d.Neg()
	}
	out.Value = d

	return out, nil
}

// normalizeSeparators removes thousands separators and turns a decimal comma into a dot.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			// 1.234,56
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		decimals := len(s) - lastComma - 1
		if strings.Count(s, ",") == 1 && decimals > 0 && decimals <= 2 {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	default:
		return s
	}
}

func isPlainNumber(s string) bool {
	digits, dots := 0, 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '.':
			dots++
		default:
			return false
		}
	}
	return digits > 0 && dots <= 1
}

func removeWordFold(s, word string) string {
	idx := strings.Index(strings.ToUpper(s), word)
	if idx < 0 {
		return s
	}
	return s[:idx] + s[idx+len(word):]
}

var signHints = map[string]SignHint{
	"debit":      Debit,
	"dr":         Debit,
	"d":          Debit,
	"withdrawal": Debit,
	"expense":    Debit,
	"out":        Debit,
	"paid out":   Debit,
	"money out":  Debit,
	"purchase":   Debit,
	"payment":    Debit,
	"credit":     Credit,
	"cr":         Credit,
	"c":          Credit,
	"deposit":    Credit,
	"income":     Credit,
	"in":         Credit,
	"paid in":    Credit,
	"money in":   Credit,
	"refund":     Credit,
}

// ParseSignHint maps a transaction-type field to a sign hint.
func ParseSignHint(s string) SignHint {
	return signHints[strings.ToLower(CollapseWhitespace(s))]
}
