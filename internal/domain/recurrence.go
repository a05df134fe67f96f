package domain

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Frequency of a recurring payment.
type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyYearly    Frequency = "yearly"
	FrequencyIrregular Frequency = "irregular"
)

// OccurrencesPerYear returns how many charges a year the frequency implies.
// Irregular returns 0.
func (f Frequency) OccurrencesPerYear() int64 {
	switch f {
	case FrequencyWeekly:
		return 52
	case FrequencyMonthly:
		return 12
	case FrequencyYearly:
		return 1
	default:
		return 0
	}
}

// RecurrenceGroup is a derived view over stored transactions describing one
// recurring payment. It is recomputed on demand and never persisted.
type RecurrenceGroup struct {
	MerchantKey   string          `json:"merchant_key"`
	Merchant      string          `json:"merchant"` // display name
	Category      string          `json:"category"`
	TypicalAmount decimal.Decimal `json:"typical_amount"` // magnitude of one charge
	Frequency     Frequency       `json:"frequency"`
	Occurrences   int             `json:"occurrences"`
	FirstPaid     civil.Date      `json:"first_paid"`
	LastPaid      civil.Date      `json:"last_paid"`
	NextExpected  civil.Date      `json:"next_expected"`
	YearlyCost    decimal.Decimal `json:"yearly_cost"`
	Confidence    float64         `json:"confidence"` // 0..1
}
