package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/findataops/internal/domain"
	"github.com/shopspring/decimal"
)

// TransactionRow maps to <dataset>.transactions.
type TransactionRow struct {
	Identity    string `bigquery:"identity"`    // REQUIRED
	Institution string `bigquery:"institution"` // REQUIRED
	AccountID   string `bigquery:"account_id"`  // NULLABLE, written as ""

	PostedAt civil.Date `bigquery:"posted_at"` // REQUIRED, partition column

	Amount   *big.Rat `bigquery:"amount"`   // REQUIRED NUMERIC
	Currency string   `bigquery:"currency"` // REQUIRED

	MerchantRaw  string `bigquery:"merchant_raw"`
	MerchantHash string `bigquery:"merchant_hash"`
	Description  string `bigquery:"description"`

	CategoryRaw        string `bigquery:"category_raw"`
	CategoryNormalized string `bigquery:"category_normalized"`
	Channel            string `bigquery:"channel"`

	IngestBatchID string    `bigquery:"ingest_batch_id"`
	CreatedAt     time.Time `bigquery:"created_at"`
}

// AnomalyRow maps to <dataset>.anomalies.
type AnomalyRow struct {
	ID              string   `bigquery:"id"`
	TxnIdentity     string   `bigquery:"txn_identity"`
	AnomalyType     string   `bigquery:"anomaly_type"`
	Severity        string   `bigquery:"severity"`
	Driver          string   `bigquery:"driver"`
	RemediationHint string   `bigquery:"remediation_hint"`
	Category        string   `bigquery:"category"`
	MerchantRaw     string   `bigquery:"merchant_raw"`
	Amount          *big.Rat `bigquery:"amount"`
	ZScore          float64  `bigquery:"z_score"`
	RunID           string   `bigquery:"run_id"`

	FlaggedAt time.Time `bigquery:"flagged_at"`

	Acknowledged   bool                   `bigquery:"acknowledged"`
	AcknowledgedBy bigquery.NullString    `bigquery:"acknowledged_by"` // NULLABLE
	AcknowledgedAt bigquery.NullTimestamp `bigquery:"acknowledged_at"` // NULLABLE
}

// ForecastRow maps to <dataset>.forecasts.
type ForecastRow struct {
	ForecastDate    civil.Date `bigquery:"forecast_date"`
	Category        string     `bigquery:"category"`
	Horizon         int64      `bigquery:"horizon"`
	ForecastAmount  *big.Rat   `bigquery:"forecast_amount"`
	LowerBound      *big.Rat   `bigquery:"lower_bound"`
	UpperBound      *big.Rat   `bigquery:"upper_bound"`
	ConfidenceLevel float64    `bigquery:"confidence_level"`
	QualityTag      string     `bigquery:"quality_tag"`
	RunID           string     `bigquery:"run_id"`
	CreatedAt       time.Time  `bigquery:"created_at"`
}

// RunRow maps to <dataset>.runs.
type RunRow struct {
	RunID       string `bigquery:"run_id"`
	Stage       string `bigquery:"stage"`
	Source      string `bigquery:"source"`
	Institution string `bigquery:"institution"`
	Status      string `bigquery:"status"`

	RowsRead          int64 `bigquery:"rows_read"`
	RowsLoaded        int64 `bigquery:"rows_loaded"`
	RowsDropped       int64 `bigquery:"rows_dropped"`
	RowsDuplicate     int64 `bigquery:"rows_duplicate"`
	AnomaliesFlagged  int64 `bigquery:"anomalies_flagged"`
	ForecastsProduced int64 `bigquery:"forecasts_produced"`

	ErrorMessage string                 `bigquery:"error_message"`
	StartedAt    time.Time              `bigquery:"started_at"`
	FinishedAt   bigquery.NullTimestamp `bigquery:"finished_at"` // NULLABLE
}

func ratToDecimal(r *big.Rat) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(r.FloatString(2))
	if err != nil {
		return decimal.Zero, fmt.Errorf("ratToDecimal: %w", err)
	}
	return d, nil
}

// NewTransactionRow converts a canonical transaction for BigQuery.
func NewTransactionRow(t domain.CanonicalTransaction) TransactionRow {
	return TransactionRow{
		Identity:           t.Identity,
		Institution:        t.Institution,
		AccountID:          t.AccountID,
		PostedAt:           civil.DateOf(t.PostedAt),
		Amount:             t.Amount.Round(2).Rat(),
		Currency:           t.Currency,
		MerchantRaw:        t.MerchantRaw,
		MerchantHash:       t.MerchantHash,
		Description:        t.Description,
		CategoryRaw:        t.CategoryRaw,
		CategoryNormalized: t.CategoryNormalized,
		Channel:            string(t.Channel),
		IngestBatchID:      t.IngestBatchID,
		CreatedAt:          t.CreatedAt.UTC(),
	}
}

// Domain converts the row back into a canonical transaction.
func (r TransactionRow) Domain() (domain.CanonicalTransaction, error) {
	amount, err := ratToDecimal(r.Amount)
	if err != nil {
		return domain.CanonicalTransaction{}, fmt.Errorf("transaction %s: %w", r.Identity, err)
	}
	return domain.CanonicalTransaction{
		Identity:           r.Identity,
		Institution:        r.Institution,
		AccountID:          r.AccountID,
		PostedAt:           r.PostedAt.In(time.UTC),
		Amount:             amount,
		Currency:           r.Currency,
		MerchantRaw:        r.MerchantRaw,
		MerchantHash:       r.MerchantHash,
		Description:        r.Description,
		CategoryRaw:        r.CategoryRaw,
		CategoryNormalized: r.CategoryNormalized,
		Channel:            domain.Channel(r.Channel),
		IngestBatchID:      r.IngestBatchID,
		CreatedAt:          r.CreatedAt.UTC(),
	}, nil
}

// NewAnomalyRow converts an anomaly record for BigQuery.
func NewAnomalyRow(a domain.AnomalyRecord) AnomalyRow {
	row := AnomalyRow{
		ID:              a.ID,
		TxnIdentity:     a.TxnIdentity,
		AnomalyType:     string(a.Type),
		Severity:        string(a.Severity),
		Driver:          a.Driver,
		RemediationHint: a.RemediationHint,
		Category:        a.Category,
		MerchantRaw:     a.MerchantRaw,
		Amount:          a.Amount.Round(2).Rat(),
		ZScore:          a.ZScore,
		RunID:           a.RunID,
		FlaggedAt:       a.FlaggedAt.UTC(),
		Acknowledged:    a.Acknowledged,
	}
	if a.Acknowledged {
		row.AcknowledgedBy = bigquery.NullString{StringVal: a.AcknowledgedBy, Valid: true}
	}
	if a.AcknowledgedAt != nil {
		row.AcknowledgedAt = bigquery.NullTimestamp{Timestamp: a.AcknowledgedAt.UTC(), Valid: true}
	}
	return row
}

// Domain converts the row back into an anomaly record.
func (r AnomalyRow) Domain() (domain.AnomalyRecord, error) {
	amount, err := ratToDecimal(r.Amount)
	if err != nil {
		return domain.AnomalyRecord{}, fmt.Errorf("anomaly %s: %w", r.ID, err)
	}
	a := domain.AnomalyRecord{
		ID:              r.ID,
		TxnIdentity:     r.TxnIdentity,
		Type:            domain.AnomalyType(r.AnomalyType),
		Severity:        domain.Severity(r.Severity),
		Driver:          r.Driver,
		RemediationHint: r.RemediationHint,
		Category:        r.Category,
		MerchantRaw:     r.MerchantRaw,
		Amount:          amount,
		ZScore:          r.ZScore,
		RunID:           r.RunID,
		FlaggedAt:       r.FlaggedAt.UTC(),
		Acknowledged:    r.Acknowledged,
	}
	if r.AcknowledgedBy.Valid {
		a.AcknowledgedBy = r.AcknowledgedBy.StringVal
	}
	if r.AcknowledgedAt.Valid {
		ts := r.AcknowledgedAt.Timestamp.UTC()
		a.AcknowledgedAt = &ts
	}
	return a, nil
}

// NewForecastRow converts a forecast record for BigQuery.
func NewForecastRow(f domain.ForecastRecord) ForecastRow {
	return ForecastRow{
		ForecastDate:    civil.DateOf(f.ForecastDate),
		Category:        f.Category,
		Horizon:         int64(f.Horizon),
		ForecastAmount:  f.ForecastAmount.Round(2).Rat(),
		LowerBound:      f.LowerBound.Round(2).Rat(),
		UpperBound:      f.UpperBound.Round(2).Rat(),
		ConfidenceLevel: f.ConfidenceLevel,
		QualityTag:      f.QualityTag,
		RunID:           f.RunID,
		CreatedAt:       f.CreatedAt.UTC(),
	}
}

// Domain converts the row back into a forecast record.
func (r ForecastRow) Domain() (domain.ForecastRecord, error) {
	point, err := ratToDecimal(r.ForecastAmount)
	if err != nil {
		return domain.ForecastRecord{}, err
	}
	lower, err := ratToDecimal(r.LowerBound)
	if err != nil {
		return domain.ForecastRecord{}, err
	}
	upper, err := ratToDecimal(r.UpperBound)
	if err != nil {
		return domain.ForecastRecord{}, err
	}
	return domain.ForecastRecord{
		ForecastDate:    r.ForecastDate.In(time.UTC),
		Category:        r.Category,
		Horizon:         int(r.Horizon),
		ForecastAmount:  point,
		LowerBound:      lower,
		UpperBound:      upper,
		ConfidenceLevel: r.ConfidenceLevel,
		QualityTag:      r.QualityTag,
		RunID:           r.RunID,
		CreatedAt:       r.CreatedAt.UTC(),
	}, nil
}

// Domain converts the row into a run record.
func (r RunRow) Domain() domain.RunRecord {
	run := domain.RunRecord{
		RunID:             r.RunID,
		Stage:             domain.Stage(r.Stage),
		Source:            r.Source,
		Institution:       r.Institution,
		Status:            domain.RunStatus(r.Status),
		RowsRead:          int(r.RowsRead),
		RowsLoaded:        int(r.RowsLoaded),
		RowsDropped:       int(r.RowsDropped),
		RowsDuplicate:     int(r.RowsDuplicate),
		AnomaliesFlagged:  int(r.AnomaliesFlagged),
		ForecastsProduced: int(r.ForecastsProduced),
		ErrorMessage:      r.ErrorMessage,
		StartedAt:         r.StartedAt.UTC(),
	}
	if r.FinishedAt.Valid {
		ts := r.FinishedAt.Timestamp.UTC()
		run.FinishedAt = &ts
	}
	return run
}
