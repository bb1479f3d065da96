package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/findataops/internal/anomaly"
	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/forecast"
	"github.com/dvloznov/findataops/internal/metrics"
)

// Default analysis windows.
const (
	DefaultTrailingDays = 30
)

// DetectStage runs the anomaly detector over the stored history.
type DetectStage struct {
	Store        DetectStore
	Detector     *anomaly.Detector
	Metrics      *metrics.Metrics
	TrailingDays int
	LookbackDays int
}

// Run scores the trailing window ending on asOf, persists new anomalies in a
// single write and returns only those. Anomalies an earlier run already stored
// are not repeated.
func (s *DetectStage) Run(ctx context.Context, asOf time.Time) (*domain.RunRecord, []domain.AnomalyRecord, error) {
	trailingDays := s.TrailingDays
	if trailingDays <= 0 {
		trailingDays = DefaultTrailingDays
	}
	lookbackDays := s.LookbackDays
	if lookbackDays <= 0 {
		lookbackDays = anomaly.DefaultLookbackDays
	}
	w := anomaly.NewWindow(asOf, trailingDays, lookbackDays)

	src := fmt.Sprintf("%s..%s", w.TrailingStart.Format(domain.DateLayout), w.AsOf.Format(domain.DateLayout))
	rc, ctx, err := StartRun(ctx, s.Store, s.Metrics, domain.StageAnomaly, src)
	if err != nil {
		return nil, nil, err
	}

	recs, err := s.detect(ctx, rc, w, lookbackDays)
	return rc.Run, recs, rc.Close(ctx, err)
}

func (s *DetectStage) detect(ctx context.Context, rc *RunContext, w anomaly.Window, lookbackDays int) ([]domain.AnomalyRecord, error) {
	txns, err := s.Store.TransactionsBetween(ctx, w.LookbackStart, w.AsOf)
	if err != nil {
		return nil, fmt.Errorf("Detect: reading history: %w", err)
	}
	rc.Run.RowsRead = len(txns)

	var trailing, lookback []domain.CanonicalTransaction
	for _, t := range txns {
		if t.PostedAt.Before(w.TrailingStart) {
			lookback = append(lookback, t)
		} else {
			trailing = append(trailing, t)
		}
	}

	var detector anomaly.Detector
	if s.Detector != nil {
		detector = *s.Detector
	}
	if detector.LookbackDays == 0 {
		detector.LookbackDays = lookbackDays
	}
	recs := detector.Detect(trailing, lookback, rc.Run.RunID)

	inserted, err := s.Store.InsertAnomalies(ctx, recs)
	if err != nil {
		return nil, fmt.Errorf("Detect: persisting anomalies: %w", err)
	}
	rc.Run.AnomaliesFlagged = len(inserted)
	rc.Metrics.ObserveAnomalies(inserted)
	if skipped := len(recs) - len(inserted); skipped > 0 {
		rc.Log.Debug().Int("skipped", skipped).Msg("Anomalies already flagged by an earlier run")
	}

	for _, a := range inserted {
		rc.Log.Debug().
			Str("txn_identity", a.TxnIdentity).
			Str("anomaly_type", string(a.Type)).
			Str("severity", string(a.Severity)).
			Float64("z_score", a.ZScore).
			Msg("Anomaly flagged")
	}
	return inserted, nil
}

// ForecastStage projects category spending from the stored history.
type ForecastStage struct {
	Store         ForecastStore
	Forecaster    *forecast.Forecaster
	Metrics       *metrics.Metrics
	HistoryMonths int
}

// Run forecasts from the complete months before asOf and appends the results in
// a single write.
func (s *ForecastStage) Run(ctx context.Context, asOf time.Time) (*domain.RunRecord, []domain.ForecastRecord, error) {
	months := s.HistoryMonths
	if months <= 0 {
		months = forecast.DefaultHistoryMonths
	}
	start, end := forecast.HistoryRange(asOf, months)

	src := fmt.Sprintf("%s..%s", start.Format(domain.DateLayout), end.Format(domain.DateLayout))
	rc, ctx, err := StartRun(ctx, s.Store, s.Metrics, domain.StageForecast, src)
	if err != nil {
		return nil, nil, err
	}

	recs, err := s.forecast(ctx, rc, asOf, start, end, months)
	return rc.Run, recs, rc.Close(ctx, err)
}

func (s *ForecastStage) forecast(ctx context.Context, rc *RunContext, asOf, start, end time.Time, months int) ([]domain.ForecastRecord, error) {
	txns, err := s.Store.TransactionsBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("Forecast: reading history: %w", err)
	}
	rc.Run.RowsRead = len(txns)

	series := forecast.BuildSeries(txns, asOf, months)
	forecaster := s.Forecaster
	if forecaster == nil {
		forecaster = &forecast.Forecaster{}
	}
	recs := forecaster.Forecast(series, asOf, rc.Run.RunID)

	n, err := s.Store.InsertForecasts(ctx, recs)
	if err != nil {
		return nil, fmt.Errorf("Forecast: persisting forecasts: %w", err)
	}
	rc.Run.ForecastsProduced = n
	rc.Metrics.ObserveForecasts(recs)

	rc.Log.Info().
		Int("categories", len(series)).
		Int("forecasts", n).
		Msg("Forecasts produced")
	return recs, nil
}
