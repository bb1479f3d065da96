package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/store"
)

const runColumns = `run_id, stage, source, institution, status, rows_read, rows_loaded,
	rows_dropped, rows_duplicate, anomalies_flagged, forecasts_produced,
	error_message, started_at, finished_at`

// StartRun records run with status RUNNING.
func (s *Store) StartRun(ctx context.Context, run *domain.RunRecord) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = domain.RunRunning

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO runs (run_id, stage, source, institution, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), run.RunID, string(run.Stage), run.Source, run.Institution, string(run.Status), s.ts(run.StartedAt))
	return store.Wrap("StartRun", err)
}

// FinishRun writes the final status, counters and error message of run.
func (s *Store) FinishRun(ctx context.Context, run *domain.RunRecord) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	if len(run.ErrorMessage) > store.MaxErrorMessageLen {
		run.ErrorMessage = run.ErrorMessage[:store.MaxErrorMessageLen]
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE runs
		SET status = ?,
		    institution = ?,
		    rows_read = ?,
		    rows_loaded = ?,
		    rows_dropped = ?,
		    rows_duplicate = ?,
		    anomalies_flagged = ?,
		    forecasts_produced = ?,
		    error_message = ?,
		    finished_at = ?
		WHERE run_id = ?
	`),
		string(run.Status),
		run.Institution,
		run.RowsRead,
		run.RowsLoaded,
		run.RowsDropped,
		run.RowsDuplicate,
		run.AnomaliesFlagged,
		run.ForecastsProduced,
		run.ErrorMessage,
		s.ts(*run.FinishedAt),
		run.RunID,
	)
	if err != nil {
		return store.Wrap("FinishRun", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("FinishRun %s: %w", run.RunID, store.ErrNotFound)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY started_at DESC, run_id"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, store.Wrap("ListRuns", err)
	}
	defer rows.Close()

	var out []domain.RunRecord
	for rows.Next() {
		var r domain.RunRecord
		var stage, status string
		var started, finished timeValue
		if err := rows.Scan(
			&r.RunID,
			&stage,
			&r.Source,
			&r.Institution,
			&status,
			&r.RowsRead,
			&r.RowsLoaded,
			&r.RowsDropped,
			&r.RowsDuplicate,
			&r.AnomaliesFlagged,
			&r.ForecastsProduced,
			&r.ErrorMessage,
			&started,
			&finished,
		); err != nil {
			return nil, store.Wrap("ListRuns", fmt.Errorf("scan: %w", err))
		}
		r.Stage = domain.Stage(stage)
		r.Status = domain.RunStatus(status)
		r.StartedAt = started.Time
		r.FinishedAt = finished.ptr()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("ListRuns", err)
	}
	return out, nil
}

// Summary counts the rows in each table.
func (s *Store) Summary(ctx context.Context) (*domain.Summary, error) {
	var sum domain.Summary
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT
			(SELECT COUNT(*) FROM transactions),
			(SELECT COUNT(*) FROM anomalies),
			(SELECT COUNT(*) FROM anomalies WHERE acknowledged = ?),
			(SELECT COUNT(*) FROM forecasts),
			(SELECT COUNT(*) FROM runs)
	`), false).Scan(&sum.Transactions, &sum.Anomalies, &sum.UnacknowledgedAnomaly, &sum.Forecasts, &sum.Runs)
	if err != nil {
		return nil, store.Wrap("Summary", err)
	}
	return &sum, nil
}
