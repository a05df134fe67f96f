package fields

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		formats []string
		want    civil.Date
		wantErr bool
	}{
		{name: "iso", input: "2024-01-15", want: civil.Date{Year: 2024, Month: 1, Day: 15}},
		{name: "us slash", input: "01/15/2024", want: civil.Date{Year: 2024, Month: 1, Day: 15}},
		{name: "ambiguous slash resolves month first", input: "03/04/2024", want: civil.Date{Year: 2024, Month: 3, Day: 4}},
		{name: "day first when month is out of range", input: "15/01/2024", want: civil.Date{Year: 2024, Month: 1, Day: 15}},
		{name: "day first configured", input: "03/04/2024", formats: []string{"02/01/2006"}, want: civil.Date{Year: 2024, Month: 4, Day: 3}},
		{name: "text month", input: "15 Jan 2024", want: civil.Date{Year: 2024, Month: 1, Day: 15}},
		{name: "long text month", input: "January 5, 2024", want: civil.Date{Year: 2024, Month: 1, Day: 5}},
		{name: "surrounding whitespace", input: "  2024-02-29 ", want: civil.Date{Year: 2024, Month: 2, Day: 29}},
		{name: "date with time suffix", input: "2024-01-15 10:32", want: civil.Date{Year: 2024, Month: 1, Day: 15}},
		{name: "impossible date", input: "32/13/2024", wantErr: true},
		{name: "not a date", input: "yesterday", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.input, tt.formats)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDate)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		want         string
		wantExplicit bool
		wantHint     SignHint
		wantErr      bool
	}{
		{name: "plain", input: "12.50", want: "12.5"},
		{name: "negative", input: "-45.00", want: "-45", wantExplicit: true},
		{name: "positive sign", input: "+9.99", want: "9.99", wantExplicit: true},
		{name: "thousands", input: "1,234.56", want: "1234.56"},
		{name: "currency symbol", input: "$1,200.00", want: "1200"},
		{name: "pound with minus", input: "-£15.49", want: "-15.49", wantExplicit: true},
		{name: "currency code", input: "15.49 GBP", want: "15.49"},
		{name: "parentheses", input: "(12.50)", want: "-12.5", wantExplicit: true},
		{name: "trailing minus", input: "100.00-", want: "-100", wantExplicit: true},
		{name: "credit suffix", input: "250.00 CR", want: "250", wantHint: Credit},
		{name: "debit suffix", input: "80.10DR", want: "80.1", wantHint: Debit},
		{name: "decimal comma", input: "45,90", want: "45.9"},
		{name: "european thousands", input: "1.234,56", want: "1234.56"},
		{name: "zero", input: "0.00", want: "0"},
		{name: "letters", input: "N/A", wantErr: true},
		{name: "mixed garbage", input: "12a34", wantErr: true},
		{name: "empty", input: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNotNumeric)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Value.String())
			assert.Equal(t, tt.wantExplicit, got.Explicit)
			assert.Equal(t, tt.wantHint, got.Hint)
		})
	}
}

func TestParseSignHint(t *testing.T) {
	assert.Equal(t, Debit, ParseSignHint("DEBIT"))
	assert.Equal(t, Debit, ParseSignHint(" Withdrawal "))
	assert.Equal(t, Debit, ParseSignHint("paid  out"))
	assert.Equal(t, Credit, ParseSignHint("Cr"))
	assert.Equal(t, Credit, ParseSignHint("deposit"))
	assert.Equal(t, NoHint, ParseSignHint(""))
	assert.Equal(t, NoHint, ParseSignHint("transfer"))
}

func TestNormalizeDescription(t *testing.T) {
	assert.Equal(t, "netflix.com subscription", NormalizeDescription("  NETFLIX.COM \t Subscription "))
}
