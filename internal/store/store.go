// Package store defines the persistence contract for normalized transactions,
// anomaly records, forecasts and the run ledger.
package store

import (
	"context"
	"time"

	"github.com/dvloznov/findataops/internal/domain"
)

// AnomalyFilter narrows ListAnomalies. Zero values mean no restriction.
type AnomalyFilter struct {
	Severity           domain.Severity
	UnacknowledgedOnly bool
	Limit              int
}

// ForecastFilter narrows ListForecasts. LatestOnly keeps, per category and
// forecast date, only the row from the most recent run.
type ForecastFilter struct {
	Category   string
	LatestOnly bool
}

// TransactionWriter inserts canonical transactions. Rows whose identity already
// exists are skipped; the returned count is the number actually written.
type TransactionWriter interface {
	InsertTransactions(ctx context.Context, txns []domain.CanonicalTransaction) (int, error)
}

// TransactionReader returns transactions posted between start and end, both inclusive.
type TransactionReader interface {
	TransactionsBetween(ctx context.Context, start, end time.Time) ([]domain.CanonicalTransaction, error)
}

// AnomalyWriter inserts anomaly records. A record whose (txn_identity, anomaly_type)
// already exists is skipped; the returned slice holds only the records stored.
type AnomalyWriter interface {
	InsertAnomalies(ctx context.Context, recs []domain.AnomalyRecord) ([]domain.AnomalyRecord, error)
}

// Acknowledger marks an anomaly as reviewed. Acknowledging twice is a no-op that
// returns the record as first acknowledged.
type Acknowledger interface {
	AcknowledgeAnomaly(ctx context.Context, id, by string) (*domain.AnomalyRecord, error)
}

// ForecastWriter appends forecast rows.
type ForecastWriter interface {
	InsertForecasts(ctx context.Context, recs []domain.ForecastRecord) (int, error)
}

// RunLedger records the lifecycle of pipeline runs.
type RunLedger interface {
	StartRun(ctx context.Context, run *domain.RunRecord) error
	FinishRun(ctx context.Context, run *domain.RunRecord) error
}

// Reader is the read side used by the serving API.
type Reader interface {
	TransactionReader
	ListAnomalies(ctx context.Context, f AnomalyFilter) ([]domain.AnomalyRecord, error)
	GetAnomaly(ctx context.Context, id string) (*domain.AnomalyRecord, error)
	ListForecasts(ctx context.Context, f ForecastFilter) ([]domain.ForecastRecord, error)
	ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)
	Summary(ctx context.Context) (*domain.Summary, error)
}

// Store is the full persistence surface implemented by every backend.
type Store interface {
	Reader
	TransactionWriter
	AnomalyWriter
	ForecastWriter
	Acknowledger
	RunLedger
	Migrate(ctx context.Context) (int, error)
	Close() error
}
