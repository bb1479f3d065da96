// Package bigquery implements store.Store on Google BigQuery.
package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/migrate"
	"github.com/dvloznov/findataops/internal/store"
)

// Table names inside the dataset.
const (
	transactionsTable = "transactions"
	anomaliesTable    = "anomalies"
	forecastsTable    = "forecasts"
	runsTable         = "runs"
	migrationsTable   = "schema_migrations"
)

// Dataset addresses a BigQuery dataset in a project.
type Dataset struct {
	Project string
	ID      string
}

// Table returns the back-quoted fully qualified table name.
func (d Dataset) Table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", d.Project, d.ID, name)
}

// Repository is the BigQuery store.Store. It holds a shared client so every
// operation reuses one connection.
type Repository struct {
	client *bigquery.Client
	ds     Dataset
}

var _ store.Store = (*Repository)(nil)

// NewRepository creates a client for project and addresses dataset within it.
func NewRepository(ctx context.Context, project, dataset, location string) (*Repository, error) {
	if project == "" {
		return nil, fmt.Errorf("NewRepository: project is required")
	}
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	if location != "" {
		client.Location = location
	}
	return NewRepositoryWithClient(client, Dataset{Project: project, ID: dataset}), nil
}

// NewRepositoryWithClient wraps an existing client.
func NewRepositoryWithClient(client *bigquery.Client, ds Dataset) *Repository {
	return &Repository{client: client, ds: ds}
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Migrate applies the embedded BigQuery migrations.
func (r *Repository) Migrate(ctx context.Context) (int, error) {
	n, err := migrate.Run(ctx, r, migrate.DefaultAppliedBy)
	return n, store.Wrap("Migrate", err)
}

// Dialect implements migrate.Target.
func (r *Repository) Dialect() string { return "bigquery" }

// Placeholders implements migrate.Target.
func (r *Repository) Placeholders() map[string]string {
	return map[string]string{"PROJECT_ID": r.ds.Project, "DATASET_ID": r.ds.ID}
}

// EnsureMigrationsTable implements migrate.Target.
func (r *Repository) EnsureMigrationsTable(ctx context.Context) error {
	return EnsureMigrationsTableWithClient(ctx, r.client, r.ds)
}

// AppliedMigrations implements migrate.Target.
func (r *Repository) AppliedMigrations(ctx context.Context) ([]migrate.Applied, error) {
	return AppliedMigrationsWithClient(ctx, r.client, r.ds)
}

// ApplyMigration implements migrate.Target.
func (r *Repository) ApplyMigration(ctx context.Context, m migrate.Migration, appliedBy string) error {
	return ApplyMigrationWithClient(ctx, r.client, r.ds, m, appliedBy)
}

// InsertTransactions delegates to InsertTransactionsWithClient with the shared client.
func (r *Repository) InsertTransactions(ctx context.Context, txns []domain.CanonicalTransaction) (int, error) {
	n, err := InsertTransactionsWithClient(ctx, r.client, r.ds, txns)
	return n, store.Wrap("InsertTransactions", err)
}

// TransactionsBetween delegates to QueryTransactionsByDateRangeWithClient with the shared client.
func (r *Repository) TransactionsBetween(ctx context.Context, start, end time.Time) ([]domain.CanonicalTransaction, error) {
	txns, err := QueryTransactionsByDateRangeWithClient(ctx, r.client, r.ds, start, end)
	return txns, store.Wrap("TransactionsBetween", err)
}

// InsertAnomalies delegates to InsertAnomaliesWithClient with the shared client.
func (r *Repository) InsertAnomalies(ctx context.Context, recs []domain.AnomalyRecord) ([]domain.AnomalyRecord, error) {
	inserted, err := InsertAnomaliesWithClient(ctx, r.client, r.ds, recs)
	return inserted, store.Wrap("InsertAnomalies", err)
}

// ListAnomalies delegates to ListAnomaliesWithClient with the shared client.
func (r *Repository) ListAnomalies(ctx context.Context, f store.AnomalyFilter) ([]domain.AnomalyRecord, error) {
	recs, err := ListAnomaliesWithClient(ctx, r.client, r.ds, f)
	return recs, store.Wrap("ListAnomalies", err)
}

// GetAnomaly delegates to GetAnomalyWithClient with the shared client.
func (r *Repository) GetAnomaly(ctx context.Context, id string) (*domain.AnomalyRecord, error) {
	rec, err := GetAnomalyWithClient(ctx, r.client, r.ds, id)
	return rec, store.Wrap("GetAnomaly", err)
}

// AcknowledgeAnomaly delegates to AcknowledgeAnomalyWithClient with the shared client.
func (r *Repository) AcknowledgeAnomaly(ctx context.Context, id, by string) (*domain.AnomalyRecord, error) {
	rec, err := AcknowledgeAnomalyWithClient(ctx, r.client, r.ds, id, by)
	return rec, store.Wrap("AcknowledgeAnomaly", err)
}

// InsertForecasts delegates to InsertForecastsWithClient with the shared client.
func (r *Repository) InsertForecasts(ctx context.Context, recs []domain.ForecastRecord) (int, error) {
	n, err := InsertForecastsWithClient(ctx, r.client, r.ds, recs)
	return n, store.Wrap("InsertForecasts", err)
}

// ListForecasts delegates to ListForecastsWithClient with the shared client.
func (r *Repository) ListForecasts(ctx context.Context, f store.ForecastFilter) ([]domain.ForecastRecord, error) {
	recs, err := ListForecastsWithClient(ctx, r.client, r.ds, f)
	return recs, store.Wrap("ListForecasts", err)
}

// StartRun delegates to StartRunWithClient with the shared client.
func (r *Repository) StartRun(ctx context.Context, run *domain.RunRecord) error {
	return store.Wrap("StartRun", StartRunWithClient(ctx, r.client, r.ds, run))
}

// FinishRun delegates to FinishRunWithClient with the shared client.
func (r *Repository) FinishRun(ctx context.Context, run *domain.RunRecord) error {
	return store.Wrap("FinishRun", FinishRunWithClient(ctx, r.client, r.ds, run))
}

// ListRuns delegates to ListRunsWithClient with the shared client.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	runs, err := ListRunsWithClient(ctx, r.client, r.ds, limit)
	return runs, store.Wrap("ListRuns", err)
}

// Summary delegates to SummaryWithClient with the shared client.
func (r *Repository) Summary(ctx context.Context) (*domain.Summary, error) {
	sum, err := SummaryWithClient(ctx, r.client, r.ds)
	return sum, store.Wrap("Summary", err)
}

// runDML runs q to completion and returns the number of rows it changed.
func runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}
