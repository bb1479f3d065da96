package domain

import "time"

type Stage string

const (
	StageIngest   Stage = "ingest"
	StageAnomaly  Stage = "anomaly"
	StageForecast Stage = "forecast"
)

type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
)

// RunRecord is the ledger entry for one batch stage execution.
type RunRecord struct {
	RunID             string     `json:"run_id"`
	Stage             Stage      `json:"stage"`
	Source            string     `json:"source"`
	Institution       string     `json:"institution,omitempty"`
	Status            RunStatus  `json:"status"`
	RowsRead          int        `json:"rows_read"`
	RowsLoaded        int        `json:"rows_loaded"`
	RowsDropped       int        `json:"rows_dropped"`
	RowsDuplicate     int        `json:"rows_duplicate"`
	AnomaliesFlagged  int        `json:"anomalies_flagged"`
	ForecastsProduced int        `json:"forecasts_produced"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

// Summary is the roll-up of what the store currently holds.
type Summary struct {
	Transactions          int `json:"transactions"`
	Anomalies             int `json:"anomalies"`
	UnacknowledgedAnomaly int `json:"unacknowledged_anomalies"`
	Forecasts             int `json:"forecasts"`
	Runs                  int `json:"runs"`
}
