package normalize

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/merchant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMeta = Meta{SourceFile: "jan.csv", ImportedAt: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)}

func newTestNormalizer(precedence SignPrecedence) *Normalizer {
	cfg := DefaultConfig()
	cfg.SignPrecedence = precedence
	return New(cfg, merchant.DefaultTable(), NewCategorySet([]string{"Dining", "Subscriptions", "Income"}))
}

func TestNormalize_Valid(t *testing.T) {
	n := newTestNormalizer(HintWins)

	tx, err := n.Normalize(domain.ProvisionalTransaction{
		Date:        "01/15/2024",
		Description: "  AMZNMKTPLACE*1A2B3 ",
		Amount:      "-$1,234.56",
		Balance:     "2,000.00",
		Category:    "dining",
	}, testMeta)
	require.NoError(t, err)

	assert.Equal(t, civil.Date{Year: 2024, Month: 1, Day: 15}, tx.Date)
	assert.Equal(t, "AMZNMKTPLACE*1A2B3", tx.Description)
	assert.Equal(t, "-1234.56", tx.Amount.String())
	require.NotNil(t, tx.Balance)
	assert.Equal(t, "2000", tx.Balance.String())
	assert.Equal(t, "Dining", tx.Category)
	require.NotNil(t, tx.Merchant)
	assert.Equal(t, "Amazon", *tx.Merchant)
	assert.Equal(t, "jan.csv", tx.SourceFile)
	assert.Equal(t, testMeta.ImportedAt, tx.ImportedAt)
	assert.Empty(t, tx.ID)
	assert.Empty(t, tx.Fingerprint)
}

func TestNormalize_Drops(t *testing.T) {
	n := newTestNormalizer(HintWins)

	tests := []struct {
		name   string
		input  domain.ProvisionalTransaction
		reason domain.DropReason
	}{
		{
			name:   "invalid date",
			input:  domain.ProvisionalTransaction{Date: "32/13/2024", Description: "Coffee", Amount: "3.00"},
			reason: domain.DropInvalidDate,
		},
		{
			name:   "invalid amount",
			input:  domain.ProvisionalTransaction{Date: "2024-01-02", Description: "Coffee", Amount: "three"},
			reason: domain.DropInvalidAmount,
		},
		{
			name:   "missing amount",
			input:  domain.ProvisionalTransaction{Date: "2024-01-02", Description: "Coffee"},
			reason: domain.DropInvalidAmount,
		},
		{
			name:   "empty description",
			input:  domain.ProvisionalTransaction{Date: "2024-01-02", Description: "   ", Amount: "3.00"},
			reason: domain.DropEmptyDescription,
		},
		{
			name:   "opening balance row",
			input:  domain.ProvisionalTransaction{Date: "2024-01-01", Description: "Opening Balance", Amount: "1500.00"},
			reason: domain.DropNonTransactional,
		},
		{
			name:   "page footer",
			input:  domain.ProvisionalTransaction{Date: "2024-01-01", Description: "Page 2 of 3", Amount: "2"},
			reason: domain.DropNonTransactional,
		},
		{
			name:   "bare total",
			input:  domain.ProvisionalTransaction{Date: "2024-01-31", Description: "TOTAL", Amount: "812.44"},
			reason: domain.DropNonTransactional,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := n.Normalize(tt.input, testMeta)
			assert.Nil(t, tx)
			reason, ok := domain.DropReasonOf(err)
			require.True(t, ok, "expected NormalizationError, got %v", err)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestNormalize_KeepsMerchantsThatMentionTotals(t *testing.T) {
	n := newTestNormalizer(HintWins)

	tx, err := n.Normalize(domain.ProvisionalTransaction{Date: "2024-01-02", Description: "TOTALENERGIES FUEL 123", Amount: "-40"}, testMeta)
	require.NoError(t, err)
	assert.Equal(t, "-40", tx.Amount.String())
}

func TestNormalize_SummaryLabelsMatchWholeDescription(t *testing.T) {
	n := newTestNormalizer(HintWins)

	tests := []struct {
		name        string
		description string
		amount      string
		dropped     bool
	}{
		{name: "merchant starting with a label", description: "NEW BALANCE ATHLETICS #123", amount: "-89.99"},
		{name: "cafe starting with subtotal", description: "SUBTOTAL CAFE LONDON", amount: "-6.20"},
		{name: "merchant containing a label", description: "CAFE OPENING BALANCE", amount: "-3.00"},
		{name: "label with printed amount", description: "Balance brought forward: 1,234.56", amount: "1234.56", dropped: true},
		{name: "label with trailing date", description: "Closing balance 31/01/2024", amount: "980.00", dropped: true},
		{name: "label with words and no amount", description: "New balance as of statement date", amount: "", dropped: true},
		{name: "label with words and zero amount", description: "Total debits this period", amount: "0.00", dropped: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := n.Normalize(domain.ProvisionalTransaction{Date: "2024-03-01", Description: tt.description, Amount: tt.amount}, testMeta)
			if !tt.dropped {
				require.NoError(t, err)
				assert.Equal(t, tt.amount, tx.Amount.StringFixed(2))
				return
			}
			reason, ok := domain.DropReasonOf(err)
			require.True(t, ok, "expected NormalizationError, got %v", err)
			assert.Equal(t, domain.DropNonTransactional, reason)
		})
	}
}

func TestNormalize_SignPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		precedence SignPrecedence
		amount     string
		txType     string
		want       string
	}{
		{name: "unsigned debit hint", precedence: HintWins, amount: "15.49", txType: "debit", want: "-15.49"},
		{name: "unsigned credit hint", precedence: HintWins, amount: "2500", txType: "Credit", want: "2500"},
		{name: "no hint trusts sign", precedence: HintWins, amount: "-8.20", want: "-8.2"},
		{name: "no hint unsigned stays positive", precedence: HintWins, amount: "8.20", want: "8.2"},
		{name: "hint overrides signed value", precedence: HintWins, amount: "-30.00", txType: "deposit", want: "30"},
		{name: "signed value overrides hint", precedence: SignedWins, amount: "-30.00", txType: "deposit", want: "-30"},
		{name: "signed mode still signs unsigned values", precedence: SignedWins, amount: "30.00", txType: "withdrawal", want: "-30"},
		{name: "embedded CR marker", precedence: HintWins, amount: "99.00 CR", want: "99"},
		{name: "embedded DR marker", precedence: HintWins, amount: "99.00 DR", want: "-99"},
		{name: "type field outranks embedded marker", precedence: HintWins, amount: "99.00 DR", txType: "credit", want: "99"},
		{name: "parentheses", precedence: SignedWins, amount: "(45.10)", want: "-45.1"},
		{name: "zero amount preserved", precedence: HintWins, amount: "0.00", txType: "debit", want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNormalizer(tt.precedence)
			tx, err := n.Normalize(domain.ProvisionalTransaction{
				Date:        "2024-03-01",
				Description: "ITEM",
				Amount:      tt.amount,
				Type:        tt.txType,
			}, testMeta)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tx.Amount.String())
		})
	}
}

func TestNormalize_CategoryFallback(t *testing.T) {
	n := newTestNormalizer(HintWins)

	for _, label := range []string{"", "Gambling", "  subscriptions  "} {
		tx, err := n.Normalize(domain.ProvisionalTransaction{Date: "2024-03-01", Description: "Spotify", Amount: "-9.99", Category: label}, testMeta)
		require.NoError(t, err)
		if label == "  subscriptions  " {
			assert.Equal(t, "Subscriptions", tx.Category)
		} else {
			assert.Equal(t, domain.Uncategorized, tx.Category)
		}
	}
}

func TestNormalize_BadBalanceIsNotFatal(t *testing.T) {
	n := newTestNormalizer(HintWins)

	tx, err := n.Normalize(domain.ProvisionalTransaction{Date: "2024-03-01", Description: "Rent", Amount: "-1200", Balance: "n/a"}, testMeta)
	require.NoError(t, err)
	assert.Nil(t, tx.Balance)
}

func TestNormalize_Idempotent(t *testing.T) {
	n := newTestNormalizer(HintWins)
	in := domain.ProvisionalTransaction{Date: "Jan 5, 2024", Description: "NETFLIX.COM   866", Amount: "15.49", Type: "DR", Balance: "100.01", Category: "subscriptions"}

	first, err := n.Normalize(in, testMeta)
	require.NoError(t, err)

	again := domain.ProvisionalTransaction{
		Date:        first.Date.String(),
		Description: first.Description,
		Amount:      first.Amount.String(),
		Balance:     first.Balance.String(),
		Category:    first.Category,
	}
	second, err := n.Normalize(again, testMeta)
	require.NoError(t, err)

	assert.Equal(t, first.Date, second.Date)
	assert.Equal(t, first.Description, second.Description)
	assert.True(t, first.Amount.Equal(second.Amount), "%s != %s", first.Amount, second.Amount)
	assert.True(t, first.Balance.Equal(*second.Balance))
	assert.Equal(t, first.Category, second.Category)
	assert.Equal(t, first.Merchant, second.Merchant)
}

func TestCategorySet(t *testing.T) {
	set := NewCategorySet([]string{"Rent", " rent ", "Groceries", ""})

	assert.Equal(t, []string{"Rent", "Groceries", domain.Uncategorized}, set.Labels())
	assert.True(t, set.Valid("GROCERIES"))
	assert.True(t, set.Valid("uncategorized"))
	assert.False(t, set.Valid("Travel"))
	assert.Equal(t, "Rent", set.Resolve("  RENT"))
	assert.Equal(t, domain.Uncategorized, set.Resolve("Travel"))
}
