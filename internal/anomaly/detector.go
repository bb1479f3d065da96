// Package anomaly flags unusual expenses in a trailing window of transactions.
package anomaly

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/stats"
	"github.com/google/uuid"
)

const (
	// MinObservations is the smallest per-category sample the outlier pass will score.
	MinObservations = 3

	MediumThreshold = 2.0
	HighThreshold   = 3.0
)

const (
	outlierDriver      = "Z-score outlier"
	outlierRemediation = "Verify transaction amount and necessity"
	novelRemediation   = "Review transaction and categorize appropriately"
)

// Window is the analysis frame for one detection run.
type Window struct {
	AsOf          time.Time
	TrailingStart time.Time // inclusive
	LookbackStart time.Time // inclusive; the lookback ends the day before TrailingStart
}

// NewWindow derives the trailing and lookback windows ending on asOf.
func NewWindow(asOf time.Time, trailingDays, lookbackDays int) Window {
	end := domain.Date(asOf)
	trailingStart := end.AddDate(0, 0, -(trailingDays - 1))
	return Window{
		AsOf:          end,
		TrailingStart: trailingStart,
		LookbackStart: trailingStart.AddDate(0, 0, -lookbackDays),
	}
}

// LookbackEnd is the last day of the lookback window.
func (w Window) LookbackEnd() time.Time {
	return w.TrailingStart.AddDate(0, 0, -1)
}

// Classify maps a z-score onto a severity. ok is false when the score is not anomalous.
func Classify(z float64) (domain.Severity, bool) {
	switch {
	case z > HighThreshold:
		return domain.SeverityHigh, true
	case z > MediumThreshold:
		return domain.SeverityMedium, true
	default:
		return "", false
	}
}

// DefaultLookbackDays is the comparison window used when none is configured.
const DefaultLookbackDays = 90

// Detector produces anomaly records. The zero value is usable.
type Detector struct {
	// LookbackDays only feeds the novel-merchant driver text.
	LookbackDays int

	Now   func() time.Time
	NewID func() string
}

// Detect runs both passes. trailing holds the transactions posted in the trailing
// window; only expenses among them are scored. lookback holds every transaction
// from the comparison window. The result is deterministic in content and order.
func (d *Detector) Detect(trailing, lookback []domain.CanonicalTransaction, runID string) []domain.AnomalyRecord {
	expenses := make([]domain.CanonicalTransaction, 0, len(trailing))
	for _, t := range trailing {
		if t.IsExpense() {
			expenses = append(expenses, t)
		}
	}
	if len(expenses) == 0 {
		return nil
	}

	flaggedAt := d.now()
	var out []domain.AnomalyRecord
	for _, f := range outliers(expenses) {
		out = append(out, d.record(f.txn, domain.AnomalyStatisticalOutlier, f.severity, f.z, runID, flaggedAt))
	}
	for _, t := range novelMerchants(expenses, lookback) {
		out = append(out, d.record(t, domain.AnomalyNovelMerchant, domain.SeverityMedium, 0, runID, flaggedAt))
	}
	return out
}

type finding struct {
	txn      domain.CanonicalTransaction
	z        float64
	severity domain.Severity
}

// outliers scores each category's absolute amounts against that category's own
// mean and population spread.
func outliers(expenses []domain.CanonicalTransaction) []finding {
	byCategory := make(map[string][]domain.CanonicalTransaction)
	for _, t := range expenses {
		byCategory[t.CategoryNormalized] = append(byCategory[t.CategoryNormalized], t)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var out []finding
	for _, c := range categories {
		txns := byCategory[c]
		if len(txns) < MinObservations {
			continue
		}
		if noSpread(txns) {
			continue
		}
		amounts := make([]float64, len(txns))
		for i, t := range txns {
			amounts[i] = t.Amount.Abs().InexactFloat64()
		}
		mean, std := stats.MeanStd(amounts)
		if std == 0 {
			continue
		}
		for i, t := range txns {
			z := stats.ZScore(amounts[i], mean, std)
			if sev, ok := Classify(z); ok {
				out = append(out, finding{txn: t, z: z, severity: sev})
			}
		}
	}
	return out
}

// noSpread reports whether every absolute amount in txns is the same.
func noSpread(txns []domain.CanonicalTransaction) bool {
	first := txns[0].Amount.Abs()
	for _, t := range txns[1:] {
		if !t.Amount.Abs().Equal(first) {
			return false
		}
	}
	return true
}

// novelMerchants returns every trailing expense whose merchant never appears in lookback.
func novelMerchants(expenses, lookback []domain.CanonicalTransaction) []domain.CanonicalTransaction {
	seen := make(map[string]struct{}, len(lookback))
	for _, t := range lookback {
		seen[MerchantKey(t.MerchantRaw)] = struct{}{}
	}

	var out []domain.CanonicalTransaction
	flagged := make(map[string]struct{})
	for _, t := range expenses {
		if _, ok := seen[MerchantKey(t.MerchantRaw)]; ok {
			continue
		}
		if _, dup := flagged[t.Identity]; dup {
			continue
		}
		flagged[t.Identity] = struct{}{}
		out = append(out, t)
	}
	return out
}

// MerchantKey folds case and whitespace so cosmetic differences do not make a
// merchant look new.
func MerchantKey(merchant string) string {
	return strings.ToLower(strings.Join(strings.Fields(merchant), " "))
}

func (d *Detector) record(t domain.CanonicalTransaction, typ domain.AnomalyType, sev domain.Severity, z float64, runID string, at time.Time) domain.AnomalyRecord {
	rec := domain.AnomalyRecord{
		ID:          d.newID(),
		TxnIdentity: t.Identity,
		Type:        typ,
		Severity:    sev,
		Category:    t.CategoryNormalized,
		MerchantRaw: t.MerchantRaw,
		Amount:      t.Amount,
		ZScore:      z,
		RunID:       runID,
		FlaggedAt:   at,
	}
	switch typ {
	case domain.AnomalyStatisticalOutlier:
		rec.Driver, rec.RemediationHint = outlierDriver, outlierRemediation
	case domain.AnomalyNovelMerchant:
		days := d.LookbackDays
		if days <= 0 {
			days = DefaultLookbackDays
		}
		rec.Driver = fmt.Sprintf("Merchant not seen in last %d days", days)
		rec.RemediationHint = novelRemediation
	}
	return rec
}

func (d *Detector) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Detector) newID() string {
	if d.NewID != nil {
		return d.NewID()
	}
	return uuid.NewString()
}
