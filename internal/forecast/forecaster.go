// Package forecast projects monthly category expenses with a linear trend.
package forecast

import (
	"sort"
	"time"

	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/stats"
	"github.com/shopspring/decimal"
)

const (
	DefaultHorizon       = 3
	DefaultHistoryMonths = 6

	// MinObservations is the fewest monthly totals a category needs to be projected.
	MinObservations = 2
)

// degenerateBand is the relative half-width used when the history has no spread.
var degenerateBand = decimal.NewFromFloat(0.1)

// Series is one category's monthly expense totals in chronological order.
// Months with no spending are absent rather than zero.
type Series struct {
	Category string
	Months   []time.Time
	Totals   []decimal.Decimal
}

// MonthStart returns the first day of t's month at midnight UTC.
func MonthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// HistoryRange returns the inclusive date range covering the given number of complete
// months before asOf's month.
func HistoryRange(asOf time.Time, months int) (time.Time, time.Time) {
	current := MonthStart(asOf)
	return current.AddDate(0, -months, 0), current.AddDate(0, 0, -1)
}

// BuildSeries aggregates expenses into monthly absolute totals per category, keeping
// only months inside HistoryRange.
func BuildSeries(txns []domain.CanonicalTransaction, asOf time.Time, months int) []Series {
	start, end := HistoryRange(asOf, months)

	totals := make(map[string]map[time.Time]decimal.Decimal)
	for _, t := range txns {
		if !t.IsExpense() {
			continue
		}
		day := domain.Date(t.PostedAt)
		if day.Before(start) || day.After(end) {
			continue
		}
		month := MonthStart(day)
		if totals[t.CategoryNormalized] == nil {
			totals[t.CategoryNormalized] = make(map[time.Time]decimal.Decimal)
		}
		totals[t.CategoryNormalized][month] = totals[t.CategoryNormalized][month].Add(t.Amount.Abs())
	}

	out := make([]Series, 0, len(totals))
	for category, byMonth := range totals {
		s := Series{Category: category}
		for m := range byMonth {
			s.Months = append(s.Months, m)
		}
		sort.Slice(s.Months, func(i, j int) bool { return s.Months[i].Before(s.Months[j]) })
		for _, m := range s.Months {
			s.Totals = append(s.Totals, byMonth[m])
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// Forecaster turns monthly series into forecast records. The zero value uses the
// default horizon.
type Forecaster struct {
	Horizon int
	Now     func() time.Time
}

// Forecast projects every series with enough history for horizons 1..Horizon past
// asOf's month. Categories with fewer than MinObservations months are skipped.
func (f *Forecaster) Forecast(series []Series, asOf time.Time, runID string) []domain.ForecastRecord {
	horizon := f.Horizon
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	createdAt := f.now()
	base := MonthStart(asOf)

	var out []domain.ForecastRecord
	for _, s := range series {
		n := len(s.Totals)
		if n < MinObservations {
			continue
		}

		first, last := s.Totals[0], s.Totals[n-1]
		slope := last.Sub(first).Div(decimal.NewFromInt(int64(n - 1)))

		values := make([]float64, n)
		for i, v := range s.Totals {
			values[i] = v.InexactFloat64()
		}
		std := stats.SampleStd(values)
		degenerate := flat(s.Totals)

		quality := domain.QualityTrend
		switch {
		case degenerate:
			quality = domain.QualityFlatSeries
		case n < 3:
			quality = domain.QualityShortHistory
		}

		for h := 1; h <= horizon; h++ {
			point := decimal.Max(decimal.Zero, last.Add(slope.Mul(decimal.NewFromInt(int64(h)))))

			width := decimal.NewFromFloat(std)
			if degenerate {
				width = point.Mul(degenerateBand)
			}

			out = append(out, domain.ForecastRecord{
				ForecastDate:    base.AddDate(0, h, 0),
				Category:        s.Category,
				Horizon:         h,
				ForecastAmount:  point.Round(2),
				LowerBound:      decimal.Max(decimal.Zero, point.Sub(width)).Round(2),
				UpperBound:      point.Add(width).Round(2),
				ConfidenceLevel: domain.ConfidenceLevel,
				QualityTag:      quality,
				RunID:           runID,
				CreatedAt:       createdAt,
			})
		}
	}
	return out
}

// flat reports whether every total equals the first. Float spread is not
// reliable here since most cent amounts have no exact binary form.
func flat(totals []decimal.Decimal) bool {
	for _, v := range totals[1:] {
		if !v.Equal(totals[0]) {
			return false
		}
	}
	return true
}

func (f *Forecaster) now() time.Time {
	if f.Now != nil {
		return f.Now().UTC()
	}
	return time.Now().UTC()
}
