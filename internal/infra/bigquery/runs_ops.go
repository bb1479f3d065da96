package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/logger"
	"github.com/dvloznov/findataops/internal/store"
	"google.golang.org/api/iterator"
)

// StartRunWithClient inserts run into <dataset>.runs with status=RUNNING.
func StartRunWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, run *domain.RunRecord) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = domain.RunRunning

	q := client.Query(fmt.Sprintf(`
		INSERT %s (
			run_id, stage, source, institution, status,
			rows_read, rows_loaded, rows_dropped, rows_duplicate,
			anomalies_flagged, forecasts_produced, error_message, started_at
		)
		VALUES (
			@run_id, @stage, @source, @institution, @status,
			0, 0, 0, 0, 0, 0, "", @started_at
		)
	`, ds.Table(runsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: run.RunID},
		{Name: "stage", Value: string(run.Stage)},
		{Name: "source", Value: run.Source},
		{Name: "institution", Value: run.Institution},
		{Name: "status", Value: string(run.Status)},
		{Name: "started_at", Value: run.StartedAt},
	}

	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("StartRun: %w", err)
	}
	return nil
}

// FinishRunWithClient sets the final status, counters, finished_at and error_message.
func FinishRunWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, run *domain.RunRecord) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	if len(run.ErrorMessage) > store.MaxErrorMessageLen {
		run.ErrorMessage = run.ErrorMessage[:store.MaxErrorMessageLen]
	}

	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    institution = @institution,
		    rows_read = @rows_read,
		    rows_loaded = @rows_loaded,
		    rows_dropped = @rows_dropped,
		    rows_duplicate = @rows_duplicate,
		    anomalies_flagged = @anomalies_flagged,
		    forecasts_produced = @forecasts_produced,
		    error_message = @error_message,
		    finished_at = @finished_at
		WHERE run_id = @run_id
	`, ds.Table(runsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: string(run.Status)},
		{Name: "institution", Value: run.Institution},
		{Name: "rows_read", Value: run.RowsRead},
		{Name: "rows_loaded", Value: run.RowsLoaded},
		{Name: "rows_dropped", Value: run.RowsDropped},
		{Name: "rows_duplicate", Value: run.RowsDuplicate},
		{Name: "anomalies_flagged", Value: run.AnomaliesFlagged},
		{Name: "forecasts_produced", Value: run.ForecastsProduced},
		{Name: "error_message", Value: run.ErrorMessage},
		{Name: "finished_at", Value: *run.FinishedAt},
		{Name: "run_id", Value: run.RunID},
	}

	n, err := runDML(ctx, q)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().
			Err(err).
			Str("run_id", run.RunID).
			Msg("FinishRun: running update query")
		return fmt.Errorf("FinishRun: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("FinishRun %s: %w", run.RunID, store.ErrNotFound)
	}
	return nil
}

// ListRunsWithClient lists the most recent runs first.
func ListRunsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, limit int) ([]domain.RunRecord, error) {
	sql := fmt.Sprintf(`
		SELECT run_id, stage, source, institution, status, rows_read, rows_loaded,
		       rows_dropped, rows_duplicate, anomalies_flagged, forecasts_produced,
		       error_message, started_at, finished_at
		FROM %s
		ORDER BY started_at DESC, run_id
	`, ds.Table(runsTable))
	var params []bigquery.QueryParameter
	if limit > 0 {
		sql += " LIMIT @limit"
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: limit})
	}

	q := client.Query(sql)
	q.Parameters = params
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: query read: %w", err)
	}

	var out []domain.RunRecord
	for {
		var r RunRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRuns: iter next: %w", err)
		}
		out = append(out, r.Domain())
	}
	return out, nil
}

// SummaryWithClient counts rows in each table.
func SummaryWithClient(ctx context.Context, client *bigquery.Client, ds Dataset) (*domain.Summary, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			(SELECT COUNT(*) FROM %s) AS transactions,
			(SELECT COUNT(*) FROM %s) AS anomalies,
			(SELECT COUNTIF(NOT acknowledged) FROM %s) AS unacknowledged,
			(SELECT COUNT(*) FROM %s) AS forecasts,
			(SELECT COUNT(*) FROM %s) AS runs
	`,
		ds.Table(transactionsTable),
		ds.Table(anomaliesTable),
		ds.Table(anomaliesTable),
		ds.Table(forecastsTable),
		ds.Table(runsTable),
	))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("Summary: query read: %w", err)
	}

	var row struct {
		Transactions   int64 `bigquery:"transactions"`
		Anomalies      int64 `bigquery:"anomalies"`
		Unacknowledged int64 `bigquery:"unacknowledged"`
		Forecasts      int64 `bigquery:"forecasts"`
		Runs           int64 `bigquery:"runs"`
	}
	if err := it.Next(&row); err != nil {
		return nil, fmt.Errorf("Summary: iter next: %w", err)
	}

	return &domain.Summary{
		Transactions:          int(row.Transactions),
		Anomalies:             int(row.Anomalies),
		UnacknowledgedAnomaly: int(row.Unacknowledged),
		Forecasts:             int(row.Forecasts),
		Runs:                  int(row.Runs),
	}, nil
}
