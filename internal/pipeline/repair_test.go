package pipeline

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeModelJSON(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantRepaired bool
		wantErr      bool
		wantItems    int // -1 when the value is not an array
	}{
		{name: "strict array", raw: `[{"a":1},{"a":2}]`, wantItems: 2},
		{name: "strict object", raw: `{"transactions":[]}`, wantItems: -1},
		{name: "fenced", raw: "```json\n[1,2,3]\n```", wantItems: 3},
		{name: "bare fence", raw: "```\n[1]\n```", wantItems: 1},
		{name: "leading prose", raw: "Here are the rows:\n[1,2]", wantRepaired: true, wantItems: 2},
		{name: "trailing prose", raw: "[1,2] hope that helps", wantRepaired: true, wantItems: 2},
		{name: "truncated", raw: `[{"a":1},{"a":2},{"a"`, wantRepaired: true, wantItems: 2},
		{name: "list inside prose wrapper", raw: `Result: {"transactions":[{"a":1}]} done`, wantRepaired: true, wantItems: 1},
		{name: "object in prose", raw: `Result: {"date":"2024-01-01","amount":3} done`, wantRepaired: true, wantItems: -1},
		{name: "empty", raw: "", wantErr: true},
		{name: "whitespace", raw: " \n\t", wantErr: true},
		{name: "prose", raw: "no json here", wantErr: true},
		{name: "unterminated object", raw: `{"a": "unterminated`, wantRepaired: true, wantItems: -1},
		{name: "single quotes and trailing commas", raw: `[{'date': '2024-01-01', 'amount': -4.5,},]`, wantRepaired: true, wantItems: 1},
		{name: "python literals", raw: `{"transactions": [{"date": "2024-01-01", "balance": None}]}`, wantRepaired: true, wantItems: -1},
		{name: "missing closing brackets", raw: `[{"date": "2024-01-01", "amount": "-3.00"}`, wantRepaired: true, wantItems: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, repaired, err := decodeModelJSON(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRepaired, repaired)

			items, isArray := v.([]any)
			if tt.wantItems < 0 {
				assert.False(t, isArray)
				return
			}
			require.True(t, isArray)
			assert.Len(t, items, tt.wantItems)
		})
	}
}

func TestDecodeModelJSON_KeepsNumberText(t *testing.T) {
	v, _, err := decodeModelJSON(`[{"amount": 1234.50}]`)
	require.NoError(t, err)

	obj := v.([]any)[0].(map[string]any)
	assert.Equal(t, json.Number("1234.50"), obj["amount"])
}

func TestLargestSubstructure_PrefersLongest(t *testing.T) {
	v, ok := largestSubstructure(`x {"a":1} y {"b":[1,2,3],"c":"long"} z`)
	require.True(t, ok)
	obj := v.(map[string]any)
	assert.Contains(t, obj, "b")
}

func TestEcho(t *testing.T) {
	assert.Equal(t, "a b c", echo("a\n  b\tc"))

	long := strings.Repeat("x", maxEchoedChars+50)
	out := echo(long)
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.Len(t, out, maxEchoedChars+3)

	// "€" is three bytes; the cut falls inside one and must back off.
	multi := "x" + strings.Repeat("€", maxEchoedChars)
	out = echo(multi)
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasSuffix(out, "€..."))
	assert.LessOrEqual(t, len(out), maxEchoedChars+3)
}

func TestItemsOf(t *testing.T) {
	decode := func(s string) any {
		v, ok := decodeStrict(s)
		require.True(t, ok, s)
		return v
	}

	tests := []struct {
		name   string
		raw    string
		want   int
		wantOK bool
	}{
		{name: "array", raw: `[{}, {}]`, want: 2, wantOK: true},
		{name: "wrapper key", raw: `{"Transactions": [{}, {}, {}]}`, want: 3, wantOK: true},
		{name: "single transaction", raw: `{"date": "2024-01-01", "amount": "5"}`, want: 1, wantOK: true},
		{name: "unknown list key", raw: `{"rows": [{}]}`, want: 1, wantOK: true},
		{name: "nested wrapper", raw: `{"response": {"data": [{}, {}]}}`, want: 2, wantOK: true},
		{name: "scalar", raw: `"hello"`},
		{name: "object without list", raw: `{"message": "none"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, ok := itemsOf(decode(tt.raw))
			assert.Equal(t, tt.wantOK, ok)
			assert.Len(t, items, tt.want)
		})
	}
}

func TestSplitColumns(t *testing.T) {
	tests := []struct {
		name, debit, credit, typ string
		wantAmount, wantHint     string
	}{
		{name: "debit only", debit: "12.00", wantAmount: "12.00", wantHint: "debit"},
		{name: "credit only", credit: "100", wantAmount: "100", wantHint: "credit"},
		{name: "zero debit column", debit: "0.00", credit: "50", wantAmount: "50", wantHint: "credit"},
		{name: "neither keeps type", typ: "DR", wantAmount: "", wantHint: "DR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, hint := splitColumns(tt.debit, tt.credit, tt.typ)
			assert.Equal(t, tt.wantAmount, amount)
			assert.Equal(t, tt.wantHint, hint)
		})
	}
}

func TestCSVRowsToProvisional(t *testing.T) {
	t.Run("mapped header", func(t *testing.T) {
		header := []string{"Transaction Date", "Memo", "Paid out", "Paid in", "Balance"}
		lines := []domain.RawLine{
			{Index: 0, Fields: []string{"03/01/2024", "NETFLIX.COM", "15.49", "", "984.51"}, Columns: header},
			{Index: 1, Fields: []string{"04/01/2024", "REFUND", "", "20.00", "1004.51"}, Columns: header},
		}

		rows := csvRowsToProvisional(lines)
		require.Len(t, rows, 2)
		assert.Equal(t, domain.ProvisionalTransaction{
			SourceIndex: 0, Date: "03/01/2024", Description: "NETFLIX.COM", Amount: "15.49", Type: "debit", Balance: "984.51",
		}, rows[0])
		assert.Equal(t, "20.00", rows[1].Amount)
		assert.Equal(t, "credit", rows[1].Type)
		assert.Equal(t, 1, rows[1].SourceIndex)
	})

	t.Run("headerless row", func(t *testing.T) {
		lines := []domain.RawLine{
			{Index: 7, Fields: []string{"2024-01-05", "TESCO STORES 1234", "-42.10", "957.90"}},
		}

		rows := csvRowsToProvisional(lines)
		require.Len(t, rows, 1)
		assert.Equal(t, 7, rows[0].SourceIndex)
		assert.Equal(t, "2024-01-05", rows[0].Date)
		assert.Equal(t, "TESCO STORES 1234", rows[0].Description)
		assert.Equal(t, "-42.10", rows[0].Amount)
		assert.Equal(t, "957.90", rows[0].Balance)
	})

	t.Run("unmappable header falls back to positions", func(t *testing.T) {
		header := []string{"When", "What", "How much"}
		lines := []domain.RawLine{
			{Index: 0, Fields: []string{"2024-02-01", "COFFEE", "-3.20"}, Columns: header},
		}

		rows := csvRowsToProvisional(lines)
		require.Len(t, rows, 1)
		assert.Equal(t, "2024-02-01", rows[0].Date)
		assert.Equal(t, "COFFEE", rows[0].Description)
		assert.Equal(t, "-3.20", rows[0].Amount)
	})

	t.Run("missing description uses longest text", func(t *testing.T) {
		header := []string{"Date", "Amount", "Ref", "Notes"}
		lines := []domain.RawLine{
			{Index: 0, Fields: []string{"2024-02-01", "-3.20", "X1", "CORNER SHOP"}, Columns: header},
		}

		rows := csvRowsToProvisional(lines)
		assert.Equal(t, "CORNER SHOP", rows[0].Description)
	})
}
