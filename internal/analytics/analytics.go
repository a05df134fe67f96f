// Package analytics holds the pure reducers behind the dashboard read
// endpoints. Every function works on an already filtered slice of canonical
// transactions and never touches the store.
package analytics

import (
	"fmt"
	"math"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

// Totals summarizes money in and out over a set of transactions.
type Totals struct {
	Income       decimal.Decimal `json:"income"`
	Expenses     decimal.Decimal `json:"expenses"` // positive magnitude
	Net          decimal.Decimal `json:"net"`
	SavingsRate  float64         `json:"savings_rate"` // percent of income kept, 0 without income
	Transactions int             `json:"transactions"`
}

// MonthPoint is one month of the trend series.
type MonthPoint struct {
	Month       string          `json:"month"` // YYYY-MM
	Income      decimal.Decimal `json:"income"`
	Expenses    decimal.Decimal `json:"expenses"`
	Net         decimal.Decimal `json:"net"`
	SavingsRate float64         `json:"savings_rate"`
}

// CategoryAmount is the outflow booked to one category.
type CategoryAmount struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Share    float64         `json:"share"` // percent of all expenses
	Count    int             `json:"count"`
}

// UpcomingPayment is a recurring charge expected within the look-ahead window.
type UpcomingPayment struct {
	domain.RecurrenceGroup
	DaysUntil int `json:"days_until"`
}

// Summarize adds up income and expenses. Transfers are not treated specially:
// a transaction counts by the sign of its amount.
func Summarize(txs []*domain.CanonicalTransaction) Totals {
	var t Totals
	for _, tx := range txs {
		t.add(tx.Amount)
	}
	t.Net = t.Income.Sub(t.Expenses)
	t.SavingsRate = savingsRate(t.Income, t.Expenses)
	t.Transactions = len(txs)
	return t
}

func (t *Totals) add(amount decimal.Decimal) {
	if amount.IsNegative() {
		t.Expenses = t.Expenses.Add(amount.Abs())
	} else {
		t.Income = t.Income.Add(amount)
	}
}

// MonthlyTrend buckets transactions by calendar month, oldest first. Months
// without transactions between the first and last month are included as zeros.
func MonthlyTrend(txs []*domain.CanonicalTransaction) []MonthPoint {
	if len(txs) == 0 {
		return nil
	}
	byMonth := make(map[string]*Totals)
	first, last := txs[0].Date, txs[0].Date
	for _, tx := range txs {
		k := monthKey(tx.Date)
		if byMonth[k] == nil {
			byMonth[k] = &Totals{}
		}
		byMonth[k].add(tx.Amount)
		if tx.Date.Before(first) {
			first = tx.Date
		}
		if tx.Date.After(last) {
			last = tx.Date
		}
	}

	var out []MonthPoint
	cur := civil.Date{Year: first.Year, Month: first.Month, Day: 1}
	end := civil.Date{Year: last.Year, Month: last.Month, Day: 1}
	for !cur.After(end) {
		k := monthKey(cur)
		p := MonthPoint{Month: k}
		if t := byMonth[k]; t != nil {
			p.Income = t.Income
			p.Expenses = t.Expenses
		}
		p.Net = p.Income.Sub(p.Expenses)
		p.SavingsRate = savingsRate(p.Income, p.Expenses)
		out = append(out, p)
		cur = nextMonth(cur)
	}
	return out
}

// SpendingByCategory totals outflows per category, largest first.
func SpendingByCategory(txs []*domain.CanonicalTransaction) []CategoryAmount {
	totals := make(map[string]*CategoryAmount)
	all := decimal.Zero
	for _, tx := range txs {
		if !tx.IsOutflow() {
			continue
		}
		cat := tx.Category
		if cat == "" {
			cat = domain.Uncategorized
		}
		c := totals[cat]
		if c == nil {
			c = &CategoryAmount{Category: cat}
			totals[cat] = c
		}
		c.Amount = c.Amount.Add(tx.Amount.Abs())
		c.Count++
		all = all.Add(tx.Amount.Abs())
	}

	out := make([]CategoryAmount, 0, len(totals))
	for _, c := range totals {
		if all.IsPositive() {
			c.Share = round2(c.Amount.Div(all).InexactFloat64() * 100)
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// LatestBalance returns the running balance of the most recent transaction
// that carries one, or nil when no statement reported a balance.
func LatestBalance(txs []*domain.CanonicalTransaction) *decimal.Decimal {
	var latest *domain.CanonicalTransaction
	for _, tx := range txs {
		if tx.Balance == nil {
			continue
		}
		if latest == nil || !tx.Date.Before(latest.Date) {
			latest = tx
		}
	}
	if latest == nil {
		return nil
	}
	b := *latest.Balance
	return &b
}

// Upcoming lists recurring charges expected from today up to days ahead,
// soonest first. Charges already overdue are included with a negative DaysUntil.
func Upcoming(groups []domain.RecurrenceGroup, today civil.Date, days int) []UpcomingPayment {
	cutoff := today.AddDays(days)
	var out []UpcomingPayment
	for _, g := range groups {
		if !g.NextExpected.IsValid() || g.NextExpected.After(cutoff) {
			continue
		}
		out = append(out, UpcomingPayment{RecurrenceGroup: g, DaysUntil: g.NextExpected.DaysSince(today)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].NextExpected != out[j].NextExpected {
			return out[i].NextExpected.Before(out[j].NextExpected)
		}
		return out[i].MerchantKey < out[j].MerchantKey
	})
	return out
}

// YearlyRecurringCost sums the projected yearly cost of every group.
func YearlyRecurringCost(groups []domain.RecurrenceGroup) decimal.Decimal {
	total := decimal.Zero
	for _, g := range groups {
		total = total.Add(g.YearlyCost)
	}
	return total
}

func savingsRate(income, expenses decimal.Decimal) float64 {
	if !income.IsPositive() {
		return 0
	}
	return round2(income.Sub(expenses).Div(income).InexactFloat64() * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func monthKey(d civil.Date) string {
	return fmt.Sprintf("%04d-%02d", d.Year, int(d.Month))
}

func nextMonth(d civil.Date) civil.Date {
	if d.Month == 12 {
		return civil.Date{Year: d.Year + 1, Month: 1, Day: 1}
	}
	return civil.Date{Year: d.Year, Month: d.Month + 1, Day: 1}
}
