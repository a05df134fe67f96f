// Package recurrence finds recurring payments (subscriptions) in the stored
// transaction history. Groups are a derived view and are recomputed on every call.
package recurrence

import (
	"math"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/merchant"
	"github.com/shopspring/decimal"
)

// band is the accepted interval range, in days, for one frequency.
type band struct {
	freq     domain.Frequency
	min, max int
}

var bands = []band{
	{freq: domain.FrequencyWeekly, min: 5, max: 9},
	{freq: domain.FrequencyMonthly, min: 25, max: 35},
	{freq: domain.FrequencyYearly, min: 355, max: 375},
}

// Config tunes detection.
type Config struct {
	// AmountTolerancePct and AmountToleranceAbs bound how far a charge may
	// drift from the first charge of its cluster; the larger bound applies.
	AmountTolerancePct float64
	AmountToleranceAbs decimal.Decimal
	// MinOccurrences is the smallest cluster reported.
	MinOccurrences int
	// StrongOccurrences is the cluster size from which confidence is not reduced.
	StrongOccurrences int
	// IncludeInflows also reports recurring income such as salaries.
	IncludeInflows bool
}

// DefaultConfig returns a 5% / 1.00 amount band, at least two occurrences
// and full confidence from three.
func DefaultConfig() Config {
	return Config{
		AmountTolerancePct: 0.05,
		AmountToleranceAbs: decimal.NewFromInt(1),
		MinOccurrences:     2,
		StrongOccurrences:  3,
	}
}

// Detector classifies recurring payments. It holds no state between calls.
type Detector struct {
	cfg Config
}

// New returns a detector. Non-positive occurrence settings fall back to the defaults.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.MinOccurrences < 2 {
		cfg.MinOccurrences = def.MinOccurrences
	}
	if cfg.StrongOccurrences < cfg.MinOccurrences {
		cfg.StrongOccurrences = cfg.MinOccurrences
	}
	if cfg.AmountTolerancePct < 0 {
		cfg.AmountTolerancePct = 0
	}
	if cfg.AmountToleranceAbs.IsNegative() {
		cfg.AmountToleranceAbs = decimal.Zero
	}
	return &Detector{cfg: cfg}
}

// Detect runs a detector with DefaultConfig.
func Detect(history []*domain.CanonicalTransaction) []domain.RecurrenceGroup {
	return New(DefaultConfig()).Detect(history)
}

type groupKey struct {
	merchant string
	inflow   bool
}

// Detect groups history by merchant, splits each group into clusters of
// similar amounts and reports the clusters paid on a weekly, monthly or
// yearly cadence. The result is sorted by projected yearly cost, highest first.
func (d *Detector) Detect(history []*domain.CanonicalTransaction) []domain.RecurrenceGroup {
	groups := make(map[groupKey][]*domain.CanonicalTransaction)
	for _, tx := range history {
		if tx == nil || tx.Amount.IsZero() {
			continue
		}
		inflow := tx.Amount.IsPositive()
		if inflow && !d.cfg.IncludeInflows {
			continue
		}
		k := groupKey{merchant: merchant.Key(tx.Merchant, tx.Description), inflow: inflow}
		if k.merchant == "" {
			continue
		}
		groups[k] = append(groups[k], tx)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].merchant != keys[j].merchant {
			return keys[i].merchant < keys[j].merchant
		}
		return !keys[i].inflow && keys[j].inflow
	})

	var out []domain.RecurrenceGroup
	for _, k := range keys {
		for _, cluster := range d.clusters(groups[k]) {
			if g, ok := d.classify(k.merchant, cluster); ok {
				out = append(out, g)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].YearlyCost.Cmp(out[j].YearlyCost); c != 0 {
			return c > 0
		}
		if out[i].MerchantKey != out[j].MerchantKey {
			return out[i].MerchantKey < out[j].MerchantKey
		}
		return out[i].TypicalAmount.LessThan(out[j].TypicalAmount)
	})
	return out
}

// clusters splits one merchant's charges into runs of similar magnitude.
// Charges are visited smallest first; a charge joins the current cluster when
// it is within tolerance of the cluster's first charge.
func (d *Detector) clusters(txs []*domain.CanonicalTransaction) [][]*domain.CanonicalTransaction {
	sorted := make([]*domain.CanonicalTransaction, len(txs))
	copy(sorted, txs)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i].Amount.Abs(), sorted[j].Amount.Abs()
		if c := a.Cmp(b); c != 0 {
			return c < 0
		}
		return lessByDate(sorted[i], sorted[j])
	})

	var (
		out    [][]*domain.CanonicalTransaction
		cur    []*domain.CanonicalTransaction
		anchor decimal.Decimal
	)
	for _, tx := range sorted {
		amt := tx.Amount.Abs()
		if len(cur) > 0 && amt.Sub(anchor).GreaterThan(d.tolerance(anchor)) {
			out = append(out, cur)
			cur = nil
		}
		if len(cur) == 0 {
			anchor = amt
		}
		cur = append(cur, tx)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func (d *Detector) tolerance(anchor decimal.Decimal) decimal.Decimal {
	pct := anchor.Mul(decimal.NewFromFloat(d.cfg.AmountTolerancePct))
	if pct.GreaterThan(d.cfg.AmountToleranceAbs) {
		return pct
	}
	return d.cfg.AmountToleranceAbs
}

func (d *Detector) classify(key string, cluster []*domain.CanonicalTransaction) (domain.RecurrenceGroup, bool) {
	if len(cluster) < d.cfg.MinOccurrences {
		return domain.RecurrenceGroup{}, false
	}
	byDate := make([]*domain.CanonicalTransaction, len(cluster))
	copy(byDate, cluster)
	sort.Slice(byDate, func(i, j int) bool { return lessByDate(byDate[i], byDate[j]) })

	intervals := make([]int, 0, len(byDate)-1)
	for i := 1; i < len(byDate); i++ {
		intervals = append(intervals, daysBetween(byDate[i-1].Date, byDate[i].Date))
	}
	freq := Classify(intervals)
	if freq == domain.FrequencyIrregular {
		return domain.RecurrenceGroup{}, false
	}

	amounts := make([]decimal.Decimal, len(byDate))
	for i, tx := range byDate {
		amounts[i] = tx.Amount.Abs()
	}
	typical := Representative(amounts)
	latest := byDate[len(byDate)-1]

	name := latest.MerchantName()
	if name == "" {
		name = latest.Description
	}
	conf := consistency(intervals)
	if len(byDate) < d.cfg.StrongOccurrences {
		conf *= 0.75
	}

	return domain.RecurrenceGroup{
		MerchantKey:   key,
		Merchant:      name,
		Category:      latest.Category,
		TypicalAmount: typical,
		Frequency:     freq,
		Occurrences:   len(byDate),
		FirstPaid:     byDate[0].Date,
		LastPaid:      latest.Date,
		NextExpected:  NextDate(latest.Date, freq),
		YearlyCost:    typical.Mul(decimal.NewFromInt(freq.OccurrencesPerYear())),
		Confidence:    math.Round(conf*100) / 100,
	}, true
}

// Classify maps payment intervals, in days, to a frequency. Every interval
// must fall inside the same band; anything else is irregular.
func Classify(intervals []int) domain.Frequency {
	if len(intervals) == 0 {
		return domain.FrequencyIrregular
	}
	for _, b := range bands {
		fits := true
		for _, days := range intervals {
			if days < b.min || days > b.max {
				fits = false
				break
			}
		}
		if fits {
			return b.freq
		}
	}
	return domain.FrequencyIrregular
}

// Representative picks the typical charge: the most common amount, with ties
// going to the amount closest to the median and then to the smaller one.
func Representative(amounts []decimal.Decimal) decimal.Decimal {
	if len(amounts) == 0 {
		return decimal.Zero
	}
	counts := make(map[string]int, len(amounts))
	values := make(map[string]decimal.Decimal, len(amounts))
	for _, a := range amounts {
		k := a.StringFixed(2)
		counts[k]++
		values[k] = a.Round(2)
	}
	med := median(amounts)

	var (
		best      decimal.Decimal
		bestCount int
		found     bool
	)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, n := values[k], counts[k]
		switch {
		case !found, n > bestCount:
		case n < bestCount:
			continue
		default:
			dv, db := v.Sub(med).Abs(), best.Sub(med).Abs()
			if dv.GreaterThan(db) || (dv.Equal(db) && !v.LessThan(best)) {
				continue
			}
		}
		best, bestCount, found = v, n, true
	}
	return best
}

func median(amounts []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(amounts))
	copy(sorted, amounts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

// NextDate projects the next charge one period after last.
func NextDate(last civil.Date, freq domain.Frequency) civil.Date {
	switch freq {
	case domain.FrequencyWeekly:
		return last.AddDays(7)
	case domain.FrequencyMonthly:
		return addMonths(last, 1)
	case domain.FrequencyYearly:
		return addMonths(last, 12)
	default:
		return civil.Date{}
	}
}

// addMonths moves d by n months, clamping the day to the target month's
// length so Jan 31 is followed by Feb 28/29.
func addMonths(d civil.Date, n int) civil.Date {
	first := time.Date(d.Year, d.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	lastDay := first.AddDate(0, 1, -1).Day()
	day := d.Day
	if day > lastDay {
		day = lastDay
	}
	return civil.Date{Year: first.Year(), Month: first.Month(), Day: day}
}

// consistency is 1 minus the coefficient of variation of the intervals,
// clamped to [0, 1]. A single interval scores 0.8.
func consistency(intervals []int) float64 {
	if len(intervals) < 2 {
		return 0.8
	}
	var sum float64
	for _, v := range intervals {
		sum += float64(v)
	}
	mean := sum / float64(len(intervals))
	if mean <= 0 {
		return 0
	}
	var variance float64
	for _, v := range intervals {
		variance += (float64(v) - mean) * (float64(v) - mean)
	}
	variance /= float64(len(intervals))
	return math.Max(0, math.Min(1, 1-math.Sqrt(variance)/mean))
}

func daysBetween(a, b civil.Date) int {
	return b.DaysSince(a)
}

func lessByDate(a, b *domain.CanonicalTransaction) bool {
	if a.Date != b.Date {
		return a.Date.Before(b.Date)
	}
	if !a.ImportedAt.Equal(b.ImportedAt) {
		return a.ImportedAt.Before(b.ImportedAt)
	}
	return a.ID < b.ID
}
