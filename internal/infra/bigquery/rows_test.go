package bigquery

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/findataops/internal/domain"
	"github.com/shopspring/decimal"
)

func TestDatasetTable(t *testing.T) {
	ds := Dataset{Project: "proj", ID: "findataops"}
	if got := ds.Table(transactionsTable); got != "`proj.findataops.transactions`" {
		t.Errorf("Table = %s", got)
	}
}

func TestTransactionRow_RoundTrip(t *testing.T) {
	in := domain.CanonicalTransaction{
		Identity:           "abc",
		Institution:        "Chase",
		AccountID:          "acct-1",
		PostedAt:           time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		Amount:             decimal.RequireFromString("-4.50"),
		Currency:           "USD",
		MerchantRaw:        "STARBUCKS",
		MerchantHash:       "0123456789abcdef",
		Description:        "STARBUCKS #123 POS",
		CategoryNormalized: "Dining",
		Channel:            domain.ChannelPOS,
		IngestBatchID:      "batch",
		CreatedAt:          time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC),
	}

	row := NewTransactionRow(in)
	if row.PostedAt != (civil.Date{Year: 2024, Month: time.January, Day: 5}) {
		t.Errorf("PostedAt = %v", row.PostedAt)
	}
	if row.Amount.FloatString(2) != "-4.50" {
		t.Errorf("Amount = %s", row.Amount.FloatString(2))
	}

	out, err := row.Domain()
	if err != nil {
		t.Fatalf("Domain failed: %v", err)
	}
	if !out.Amount.Equal(in.Amount) || !out.PostedAt.Equal(in.PostedAt) || out.Channel != in.Channel {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestAnomalyRow_Acknowledgement(t *testing.T) {
	ackAt := time.Date(2024, 7, 2, 10, 0, 0, 0, time.UTC)
	in := domain.AnomalyRecord{
		ID:             "a1",
		TxnIdentity:    "t1",
		Type:           domain.AnomalyNovelMerchant,
		Severity:       domain.SeverityLow,
		Amount:         decimal.RequireFromString("-80"),
		FlaggedAt:      ackAt.Add(-time.Hour),
		Acknowledged:   true,
		AcknowledgedBy: "alice",
		AcknowledgedAt: &ackAt,
	}

	row := NewAnomalyRow(in)
	if !row.AcknowledgedBy.Valid || !row.AcknowledgedAt.Valid {
		t.Fatalf("acknowledgement not carried: %+v", row)
	}

	out, err := row.Domain()
	if err != nil {
		t.Fatalf("Domain failed: %v", err)
	}
	if out.AcknowledgedBy != "alice" || out.AcknowledgedAt == nil || !out.AcknowledgedAt.Equal(ackAt) {
		t.Errorf("acknowledgement lost: %+v", out)
	}

	fresh := NewAnomalyRow(domain.AnomalyRecord{ID: "a2", Amount: decimal.NewFromInt(-1)})
	if fresh.AcknowledgedBy.Valid || fresh.AcknowledgedAt.Valid {
		t.Error("unacknowledged anomaly should have NULL acknowledgement columns")
	}
}

func TestForecastRow_RoundTrip(t *testing.T) {
	in := domain.ForecastRecord{
		ForecastDate:    time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC),
		Category:        "Rent",
		Horizon:         1,
		ForecastAmount:  decimal.RequireFromString("1500.00"),
		LowerBound:      decimal.RequireFromString("1350.00"),
		UpperBound:      decimal.RequireFromString("1650.00"),
		ConfidenceLevel: domain.ConfidenceLevel,
		QualityTag:      domain.QualityFlatSeries,
		RunID:           "run-1",
	}
	out, err := NewForecastRow(in).Domain()
	if err != nil {
		t.Fatalf("Domain failed: %v", err)
	}
	if !out.ForecastDate.Equal(in.ForecastDate) || !out.LowerBound.Equal(in.LowerBound) || out.Horizon != 1 {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestRatToDecimal_Nil(t *testing.T) {
	d, err := ratToDecimal(nil)
	if err != nil || !d.IsZero() {
		t.Errorf("ratToDecimal(nil) = (%s, %v)", d, err)
	}
}
