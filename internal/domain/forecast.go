package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConfidenceLevel is the nominal confidence attached to every forecast band.
const ConfidenceLevel = 0.8

// Forecast quality tags.
const (
	QualityTrend        = "trend"
	QualityShortHistory = "short_history"
	QualityFlatSeries   = "flat_series"
)

// ForecastRecord is a projected monthly expense total for one category.
// Records are append-only; a later CreatedAt supersedes earlier ones.
type ForecastRecord struct {
	ForecastDate    time.Time       `json:"forecast_date"` // first day of the projected month
	Category        string          `json:"category"`
	Horizon         int             `json:"horizon"`
	ForecastAmount  decimal.Decimal `json:"forecast_amount"`
	LowerBound      decimal.Decimal `json:"lower_bound"`
	UpperBound      decimal.Decimal `json:"upper_bound"`
	ConfidenceLevel float64         `json:"confidence_level"`
	QualityTag      string          `json:"quality_tag"`
	RunID           string          `json:"run_id"`
	CreatedAt       time.Time       `json:"created_at"`
}
