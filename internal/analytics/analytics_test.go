package analytics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tx(date, amount, category string) *domain.CanonicalTransaction {
	d, err := civil.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return &domain.CanonicalTransaction{
		ID:          date + amount,
		Date:        d,
		Description: "ITEM " + amount,
		Amount:      decimal.RequireFromString(amount),
		Category:    category,
	}
}

func withBalance(t *domain.CanonicalTransaction, balance string) *domain.CanonicalTransaction {
	b := decimal.RequireFromString(balance)
	t.Balance = &b
	return t
}

func TestSummarize(t *testing.T) {
	totals := Summarize([]*domain.CanonicalTransaction{
		tx("2024-01-01", "2000.00", "Income"),
		tx("2024-01-02", "-500.00", "Rent"),
		tx("2024-01-03", "-100.00", "Groceries"),
		tx("2024-01-04", "0.00", "Misc"),
	})
	assert.Equal(t, "2000.00", totals.Income.StringFixed(2))
	assert.Equal(t, "600.00", totals.Expenses.StringFixed(2))
	assert.Equal(t, "1400.00", totals.Net.StringFixed(2))
	assert.Equal(t, 70.0, totals.SavingsRate)
	assert.Equal(t, 4, totals.Transactions)
}

func TestSummarize_NoIncome(t *testing.T) {
	totals := Summarize([]*domain.CanonicalTransaction{tx("2024-01-02", "-50.00", "Dining")})
	assert.Zero(t, totals.SavingsRate)
	assert.Equal(t, "-50.00", totals.Net.StringFixed(2))

	empty := Summarize(nil)
	assert.True(t, empty.Net.IsZero())
}

func TestMonthlyTrend_FillsGaps(t *testing.T) {
	points := MonthlyTrend([]*domain.CanonicalTransaction{
		tx("2024-03-05", "-30.00", "Dining"),
		tx("2023-12-20", "1000.00", "Income"),
		tx("2023-12-21", "-250.00", "Rent"),
	})
	require.Len(t, points, 4)
	assert.Equal(t, []string{"2023-12", "2024-01", "2024-02", "2024-03"},
		[]string{points[0].Month, points[1].Month, points[2].Month, points[3].Month})
	assert.Equal(t, "750.00", points[0].Net.StringFixed(2))
	assert.Equal(t, 75.0, points[0].SavingsRate)
	assert.True(t, points[1].Income.IsZero())
	assert.Equal(t, "30.00", points[3].Expenses.StringFixed(2))

	assert.Nil(t, MonthlyTrend(nil))
}

func TestSpendingByCategory(t *testing.T) {
	out := SpendingByCategory([]*domain.CanonicalTransaction{
		tx("2024-01-01", "-75.00", "Groceries"),
		tx("2024-01-02", "-25.00", "Dining"),
		tx("2024-01-03", "2000.00", "Income"),
		tx("2024-01-04", "-25.00", "Groceries"),
		tx("2024-01-05", "-100.00", ""),
	})
	require.Len(t, out, 3)
	assert.Equal(t, "Groceries", out[0].Category)
	assert.Equal(t, "100.00", out[0].Amount.StringFixed(2))
	assert.Equal(t, 2, out[0].Count)
	assert.Equal(t, 44.44, out[0].Share)
	assert.Equal(t, domain.Uncategorized, out[1].Category)
	assert.Equal(t, "Dining", out[2].Category)
}

func TestLatestBalance(t *testing.T) {
	assert.Nil(t, LatestBalance([]*domain.CanonicalTransaction{tx("2024-01-01", "-1.00", "")}))

	got := LatestBalance([]*domain.CanonicalTransaction{
		withBalance(tx("2024-02-01", "-10.00", ""), "90.00"),
		withBalance(tx("2024-01-01", "100.00", ""), "100.00"),
		tx("2024-03-01", "-5.00", ""),
	})
	require.NotNil(t, got)
	assert.Equal(t, "90.00", got.StringFixed(2))
}

func TestUpcoming(t *testing.T) {
	today := civil.Date{Year: 2024, Month: 4, Day: 10}
	groups := []domain.RecurrenceGroup{
		{MerchantKey: "gym", NextExpected: today.AddDays(20), YearlyCost: decimal.NewFromInt(300)},
		{MerchantKey: "netflix", NextExpected: today.AddDays(3), YearlyCost: decimal.NewFromInt(185)},
		{MerchantKey: "insurance", NextExpected: today.AddDays(200), YearlyCost: decimal.NewFromInt(600)},
		{MerchantKey: "late", NextExpected: today.AddDays(-2), YearlyCost: decimal.NewFromInt(12)},
	}
	out := Upcoming(groups, today, 30)
	require.Len(t, out, 3)
	assert.Equal(t, "late", out[0].MerchantKey)
	assert.Equal(t, -2, out[0].DaysUntil)
	assert.Equal(t, "netflix", out[1].MerchantKey)
	assert.Equal(t, 3, out[1].DaysUntil)
	assert.Equal(t, "gym", out[2].MerchantKey)

	assert.Equal(t, "1097", YearlyRecurringCost(groups).String())
}

func TestWriteCSV(t *testing.T) {
	merchant := "Netflix"
	first := withBalance(tx("2024-01-03", "-15.49", "Subscriptions"), "984.51")
	first.Description = "NETFLIX.COM, monthly"
	first.Merchant = &merchant
	first.SourceFile = "jan.csv"
	first.ImportedAt = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []*domain.CanonicalTransaction{first, tx("2024-01-04", "20", "Income")}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Date,Description,Amount,Balance,Category,Merchant,Source File,Imported At", lines[0])
	assert.Equal(t, `2024-01-03,"NETFLIX.COM, monthly",-15.49,984.51,Subscriptions,Netflix,jan.csv,2024-02-01T09:00:00Z`, lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "2024-01-04,ITEM 20,20.00,,Income,,"))
}
