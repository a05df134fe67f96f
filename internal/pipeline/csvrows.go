package pipeline

import (
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/fields"
)

// csvHeaderKeys extends the model field aliases with common bank export headers.
var (
	csvDateKeys        = append([]string{"trans_date", "transaction_posted_date", "posted_date"}, dateKeys...)
	csvDescriptionKeys = append([]string{"transaction_description", "reference", "particulars"}, descriptionKeys...)
	csvAmountKeys      = append([]string{"amount_gbp", "amount_usd", "amount_eur"}, amountKeys...)
)

// columnMap holds the index of each known column, -1 when absent.
type columnMap struct {
	date, description, amount, debit, credit, typ, balance, category int
}

// mapColumns resolves header names to positions. It reports false when the
// header lacks a date or any amount column.
func mapColumns(header []string) (columnMap, bool) {
	find := func(aliases []string) int {
		for _, alias := range aliases {
			want := foldKey(alias)
			for i, h := range header {
				if foldKey(h) == want {
					return i
				}
			}
		}
		return -1
	}

	m := columnMap{
		date:        find(csvDateKeys),
		description: find(csvDescriptionKeys),
		amount:      find(csvAmountKeys),
		debit:       find(debitKeys),
		credit:      find(creditKeys),
		typ:         find(typeKeys),
		balance:     find(balanceKeys),
		category:    find(categoryKeys),
	}
	ok := m.date >= 0 && (m.amount >= 0 || m.debit >= 0 || m.credit >= 0)
	return m, ok
}

func cell(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return cells[i]
}

// csvRowsToProvisional structures CSV rows without the model: one provisional
// record per row, in row order.
func csvRowsToProvisional(lines []domain.RawLine) []domain.ProvisionalTransaction {
	out := make([]domain.ProvisionalTransaction, 0, len(lines))
	for _, line := range lines {
		out = append(out, csvRow(line))
	}
	return out
}

func csvRow(line domain.RawLine) domain.ProvisionalTransaction {
	if line.Columns != nil {
		if m, ok := mapColumns(line.Columns); ok {
			return fromColumns(line, m)
		}
	}
	return inferPositional(line)
}

func fromColumns(line domain.RawLine, m columnMap) domain.ProvisionalTransaction {
	c := line.Fields
	tx := domain.ProvisionalTransaction{
		SourceIndex: line.Index,
		Date:        cell(c, m.date),
		Description: cell(c, m.description),
		Amount:      cell(c, m.amount),
		Type:        cell(c, m.typ),
		Balance:     cell(c, m.balance),
		Category:    cell(c, m.category),
	}
	if tx.Amount == "" {
		tx.Amount, tx.Type = splitColumns(cell(c, m.debit), cell(c, m.credit), tx.Type)
	}
	if tx.Description == "" {
		tx.Description = longestText(c, m.date, m.amount, m.debit, m.credit, m.typ, m.balance, m.category)
	}
	return tx
}

// inferPositional handles headerless rows: the first date-like cell is the
// date, the first amount after it the amount, a later amount the balance, a
// debit/credit word the type and the longest remaining text the description.
func inferPositional(line domain.RawLine) domain.ProvisionalTransaction {
	c := line.Fields
	tx := domain.ProvisionalTransaction{SourceIndex: line.Index}

	dateAt, amountAt, balanceAt, typeAt := -1, -1, -1, -1
	for i, v := range c {
		if dateAt < 0 && fields.LooksLikeDate(v) {
			dateAt = i
			continue
		}
		if _, err := fields.ParseAmount(v); err == nil {
			switch {
			case amountAt < 0:
				amountAt = i
			case balanceAt < 0:
				balanceAt = i
			}
			continue
		}
		if typeAt < 0 && fields.ParseSignHint(v) != fields.NoHint {
			typeAt = i
		}
	}

	tx.Date = cell(c, dateAt)
	tx.Amount = cell(c, amountAt)
	tx.Balance = cell(c, balanceAt)
	tx.Type = cell(c, typeAt)
	tx.Description = longestText(c, dateAt, amountAt, balanceAt, typeAt)
	return tx
}

// longestText returns the longest cell not at one of the skip positions.
func longestText(cells []string, skip ...int) string {
	best := ""
	for i, v := range cells {
		if contains(skip, i) {
			continue
		}
		if len(v) > len(best) {
			best = v
		}
	}
	return best
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
