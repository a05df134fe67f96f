package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/fields"
)

// Field aliases accepted in model output. Keys are compared after lowering
// and dropping everything but letters and digits.
var (
	dateKeys        = []string{"date", "transaction_date", "transactionDate", "value_date", "posting_date", "booking_date"}
	descriptionKeys = []string{"description", "details", "memo", "payee", "remarks", "narrative", "name"}
	amountKeys      = []string{"amount", "value", "transaction_amount"}
	debitKeys       = []string{"debit", "withdrawal", "paid_out", "money_out"}
	creditKeys      = []string{"credit", "deposit", "paid_in", "money_in"}
	typeKeys        = []string{"type", "direction", "transaction_type", "dr_cr"}
	balanceKeys     = []string{"balance", "balance_after", "running_balance"}
	categoryKeys    = []string{"category"}
)

// Wrapper keys under which a model may nest its transaction list.
var listKeys = []string{"transactions", "data", "items", "records", "result", "results"}

// record is one item from model output: either a provisional transaction or
// the reason it could not be read.
type record struct {
	tx        domain.ProvisionalTransaction
	malformed string
}

// itemsOf finds the transaction list in a decoded response. It accepts a
// top-level array, an object wrapping the list, a single transaction object
// or, failing those, the first nested list.
func itemsOf(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case map[string]any:
		for _, key := range listKeys {
			if inner, ok := lookup(val, []string{key}); ok {
				if list, ok := inner.([]any); ok {
					return list, true
				}
			}
		}
		if looksLikeTransaction(val) {
			return []any{val}, true
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if list, ok := val[k].([]any); ok {
				return list, true
			}
		}
		for _, k := range keys {
			if inner, ok := val[k].(map[string]any); ok {
				if list, ok := itemsOf(inner); ok {
					return list, true
				}
			}
		}
	}
	return nil, false
}

func looksLikeTransaction(m map[string]any) bool {
	_, hasDate := lookup(m, dateKeys)
	_, hasAmount := lookup(m, amountKeys)
	_, hasDebit := lookup(m, debitKeys)
	_, hasCredit := lookup(m, creditKeys)
	return hasDate && (hasAmount || hasDebit || hasCredit)
}

// toRecords converts every element of a model list.
func toRecords(items []any) []record {
	out := make([]record, 0, len(items))
	for i, item := range items {
		tx, err := toProvisional(item)
		if err != nil {
			out = append(out, record{malformed: fmt.Sprintf("item %d: %v", i, err)})
			continue
		}
		out = append(out, record{tx: tx})
	}
	return out
}

// toProvisional reads one model item. Missing values become empty strings and
// are judged later by the normalizer; values of the wrong shape make the whole
// item malformed.
func toProvisional(item any) (domain.ProvisionalTransaction, error) {
	obj, ok := item.(map[string]any)
	if !ok {
		return domain.ProvisionalTransaction{}, fmt.Errorf("element is %T, want object", item)
	}

	tx := domain.ProvisionalTransaction{SourceIndex: -1}
	var err error

	if tx.Date, err = getStringField(obj, dateKeys); err != nil {
		return tx, err
	}
	if tx.Description, err = getStringField(obj, descriptionKeys); err != nil {
		return tx, err
	}
	if tx.Amount, err = getStringField(obj, amountKeys); err != nil {
		return tx, err
	}
	if tx.Type, err = getStringField(obj, typeKeys); err != nil {
		return tx, err
	}
	if tx.Balance, err = getStringField(obj, balanceKeys); err != nil {
		return tx, err
	}
	if tx.Category, err = getStringField(obj, categoryKeys); err != nil {
		return tx, err
	}

	if tx.Amount == "" {
		debit, err := getStringField(obj, debitKeys)
		if err != nil {
			return tx, err
		}
		credit, err := getStringField(obj, creditKeys)
		if err != nil {
			return tx, err
		}
		tx.Amount, tx.Type = splitColumns(debit, credit, tx.Type)
	}

	if tx.Date == "" && tx.Description == "" && tx.Amount == "" {
		return tx, fmt.Errorf("no transaction fields")
	}

	return tx, nil
}

// splitColumns folds separate paid-out / paid-in values into one amount and
// a sign hint. A zero or empty column does not count.
func splitColumns(debit, credit, typ string) (amount, hint string) {
	switch {
	case nonZero(debit) && !nonZero(credit):
		return debit, "debit"
	case nonZero(credit) && !nonZero(debit):
		return credit, "credit"
	case debit != "":
		return debit, "debit"
	case credit != "":
		return credit, "credit"
	default:
		return "", typ
	}
}

func nonZero(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	a, err := fields.ParseAmount(s)
	if err != nil {
		return true
	}
	return !a.Value.IsZero()
}

// getStringField returns the first alias present in m as a string. Numbers
// keep their decimal text; null and absent both yield "".
func getStringField(m map[string]any, aliases []string) (string, error) {
	v, ok := lookup(m, aliases)
	if !ok || v == nil {
		return "", nil
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), nil
	case json.Number:
		return val.String(), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string or number", aliases[0], v)
	}
}

// lookup finds the first alias present in m, matching keys loosely.
func lookup(m map[string]any, aliases []string) (any, bool) {
	for _, alias := range aliases {
		if v, ok := m[alias]; ok {
			return v, true
		}
	}

	folded := make(map[string]string, len(m))
	for k := range m {
		folded[foldKey(k)] = k
	}
	for _, alias := range aliases {
		if k, ok := folded[foldKey(alias)]; ok {
			return m[k], true
		}
	}
	return nil, false
}

func foldKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
