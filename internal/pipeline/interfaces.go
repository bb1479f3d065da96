package pipeline

import "github.com/dvloznov/findataops/internal/store"

// IngestStore is the store surface the ingest stage writes to.
type IngestStore interface {
	store.TransactionWriter
	store.RunLedger
}

// DetectStore is the store surface the anomaly stage reads and writes.
type DetectStore interface {
	store.TransactionReader
	store.AnomalyWriter
	store.RunLedger
}

// ForecastStore is the store surface the forecast stage reads and writes.
type ForecastStore interface {
	store.TransactionReader
	store.ForecastWriter
	store.RunLedger
}
