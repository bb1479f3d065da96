package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/logger"
	"github.com/dvloznov/findataops/internal/metrics"
	"github.com/dvloznov/findataops/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunContext carries the batch-scoped logger, metrics and ledger row for one
// stage run. It is created by StartRun and must be finished with Close.
type RunContext struct {
	Run     *domain.RunRecord
	Log     zerolog.Logger
	Metrics *metrics.Metrics

	ledger store.RunLedger
}

// StartRun records a RUNNING row for stage and returns the run context together
// with a context carrying the run's logger.
func StartRun(ctx context.Context, ledger store.RunLedger, m *metrics.Metrics, stage domain.Stage, source string) (*RunContext, context.Context, error) {
	run := &domain.RunRecord{
		RunID:     uuid.NewString(),
		Stage:     stage,
		Source:    source,
		StartedAt: time.Now().UTC(),
	}
	log := logger.FromContext(ctx).With().
		Str("run_id", run.RunID).
		Str("stage", string(stage)).
		Str("source", source).
		Logger()

	if err := ledger.StartRun(ctx, run); err != nil {
		return nil, ctx, fmt.Errorf("StartRun: %w", err)
	}
	log.Info().Msg("Run started")

	rc := &RunContext{Run: run, Log: log, Metrics: m, ledger: ledger}
	return rc, logger.WithContext(ctx, log), nil
}

// SetInstitution stamps the resolved institution on the run and its logger.
func (rc *RunContext) SetInstitution(name string) {
	rc.Run.Institution = name
	rc.Log = rc.Log.With().Str("institution", name).Logger()
}

// Close marks the run SUCCESS or FAILED, persists it and logs the run summary.
// It returns runErr, or the ledger error when runErr is nil.
func (rc *RunContext) Close(ctx context.Context, runErr error) error {
	finished := time.Now().UTC()
	rc.Run.FinishedAt = &finished
	if runErr != nil {
		rc.Run.Status = domain.RunFailed
		rc.Run.ErrorMessage = store.TruncateError(runErr)
	} else {
		rc.Run.Status = domain.RunSuccess
		rc.Run.ErrorMessage = ""
	}

	// A cancelled batch still records its failure.
	ledgerErr := rc.ledger.FinishRun(context.WithoutCancel(ctx), rc.Run)
	rc.Metrics.ObserveRun(rc.Run)

	ev := rc.Log.Info()
	if runErr != nil {
		ev = rc.Log.Error().Err(runErr)
	}
	ev.Str("status", string(rc.Run.Status)).
		Int("rows_read", rc.Run.RowsRead).
		Int("rows_loaded", rc.Run.RowsLoaded).
		Int("rows_dropped", rc.Run.RowsDropped).
		Int("rows_duplicate", rc.Run.RowsDuplicate).
		Int("anomalies_flagged", rc.Run.AnomaliesFlagged).
		Int("forecasts_produced", rc.Run.ForecastsProduced).
		Dur("duration", finished.Sub(rc.Run.StartedAt)).
		Msg("Run summary")

	if ledgerErr != nil {
		rc.Log.Error().Err(ledgerErr).Msg("Failed to record run outcome")
		if runErr == nil {
			return fmt.Errorf("Close: %w", ledgerErr)
		}
	}
	return runErr
}
