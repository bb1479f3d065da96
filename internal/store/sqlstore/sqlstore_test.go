package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/store"
	"github.com/shopspring/decimal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, DialectSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if _, err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return s
}

func day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func txn(identity, date, amount, category string) domain.CanonicalTransaction {
	return domain.CanonicalTransaction{
		Identity:           identity,
		Institution:        "Chase",
		PostedAt:           day(date),
		Amount:             decimal.RequireFromString(amount),
		Currency:           "USD",
		MerchantRaw:        "STARBUCKS",
		MerchantHash:       "abcdef0123456789",
		Description:        "STARBUCKS #123",
		CategoryNormalized: category,
		Channel:            domain.ChannelPOS,
		IngestBatchID:      "batch-1",
		CreatedAt:          time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestOpen_UnsupportedDialect(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "x"); err == nil {
		t.Error("expected error for unsupported dialect")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	n, err := s.Migrate(context.Background())
	if err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	if n != 0 {
		t.Errorf("second Migrate applied %d migrations, want 0", n)
	}

	applied, err := s.AppliedMigrations(context.Background())
	if err != nil {
		t.Fatalf("AppliedMigrations failed: %v", err)
	}
	if len(applied) == 0 || applied[0].Version != 1 || applied[0].Checksum == "" {
		t.Errorf("unexpected ledger: %+v", applied)
	}
}

func TestRebind(t *testing.T) {
	pg := New(nil, DialectPostgres)
	if got := pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"); got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Errorf("postgres rebind = %q", got)
	}
	lite := New(nil, DialectSQLite)
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestInsertTransactions_InsertIfAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := []domain.CanonicalTransaction{
		txn("id-1", "2024-01-05", "-4.50", "Dining"),
		txn("id-2", "2024-01-06", "-12.00", "Dining"),
	}
	n, err := s.InsertTransactions(ctx, batch)
	if err != nil {
		t.Fatalf("InsertTransactions failed: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted %d, want 2", n)
	}

	// Re-ingesting the same file plus one new row only adds the new row.
	batch = append(batch, txn("id-3", "2024-01-07", "-3.00", "Dining"))
	n, err = s.InsertTransactions(ctx, batch)
	if err != nil {
		t.Fatalf("InsertTransactions failed: %v", err)
	}
	if n != 1 {
		t.Errorf("inserted %d on re-ingest, want 1", n)
	}

	sum, err := s.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if sum.Transactions != 3 {
		t.Errorf("Transactions = %d, want 3", sum.Transactions)
	}
}

func TestInsertTransactions_Empty(t *testing.T) {
	s := newTestStore(t)
	n, err := s.InsertTransactions(context.Background(), nil)
	if err != nil || n != 0 {
		t.Errorf("InsertTransactions(nil) = (%d, %v)", n, err)
	}
}

func TestTransactionsBetween(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertTransactions(ctx, []domain.CanonicalTransaction{
		txn("a", "2023-12-31", "-1.00", "Dining"),
		txn("b", "2024-01-01", "-2.00", "Dining"),
		txn("c", "2024-01-15", "-3.25", "Groceries"),
		txn("d", "2024-01-31", "100.00", "Income"),
		txn("e", "2024-02-01", "-5.00", "Dining"),
	}); err != nil {
		t.Fatalf("InsertTransactions failed: %v", err)
	}

	got, err := s.TransactionsBetween(ctx, day("2024-01-01"), day("2024-01-31"))
	if err != nil {
		t.Fatalf("TransactionsBetween failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d transactions, want 3 (bounds inclusive)", len(got))
	}
	if got[0].Identity != "b" || got[2].Identity != "d" {
		t.Errorf("unexpected order: %s, %s, %s", got[0].Identity, got[1].Identity, got[2].Identity)
	}

	c := got[1]
	if !c.Amount.Equal(decimal.RequireFromString("-3.25")) {
		t.Errorf("Amount = %s, want -3.25", c.Amount)
	}
	if !c.PostedAt.Equal(day("2024-01-15")) {
		t.Errorf("PostedAt = %v", c.PostedAt)
	}
	if c.Channel != domain.ChannelPOS || c.CategoryNormalized != "Groceries" || c.Currency != "USD" {
		t.Errorf("fields not round-tripped: %+v", c)
	}
	if !c.CreatedAt.Equal(time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", c.CreatedAt)
	}
}

func anomaly(id, identity string, typ domain.AnomalyType, severity domain.Severity, flagged time.Time) domain.AnomalyRecord {
	return domain.AnomalyRecord{
		ID:              id,
		TxnIdentity:     identity,
		Type:            typ,
		Severity:        severity,
		Driver:          "Z-score outlier",
		RemediationHint: "Verify transaction amount and necessity",
		Category:        "Dining",
		MerchantRaw:     "STARBUCKS",
		Amount:          decimal.RequireFromString("-300.00"),
		ZScore:          2.24,
		RunID:           "run-1",
		FlaggedAt:       flagged,
	}
}

func TestInsertAnomalies_DedupByIdentityAndType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 30, 10, 0, 0, 0, time.UTC)

	inserted, err := s.InsertAnomalies(ctx, []domain.AnomalyRecord{
		anomaly("a1", "txn-1", domain.AnomalyStatisticalOutlier, domain.SeverityMedium, now),
		anomaly("a2", "txn-1", domain.AnomalyNovelMerchant, domain.SeverityLow, now),
	})
	if err != nil {
		t.Fatalf("InsertAnomalies failed: %v", err)
	}
	if len(inserted) != 2 {
		t.Errorf("inserted %d, want 2", len(inserted))
	}

	// A later detection run flags the same transaction again under new ids,
	// alongside one anomaly that is genuinely new.
	inserted, err = s.InsertAnomalies(ctx, []domain.AnomalyRecord{
		anomaly("a3", "txn-1", domain.AnomalyStatisticalOutlier, domain.SeverityMedium, now.Add(time.Hour)),
		anomaly("a4", "txn-2", domain.AnomalyNovelMerchant, domain.SeverityLow, now.Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("InsertAnomalies failed: %v", err)
	}
	if len(inserted) != 1 || inserted[0].ID != "a4" {
		t.Fatalf("inserted = %+v, want only a4", inserted)
	}
	if _, err := s.GetAnomaly(ctx, inserted[0].ID); err != nil {
		t.Errorf("returned record should be stored: %v", err)
	}
	if _, err := s.GetAnomaly(ctx, "a3"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("duplicate should not be stored, got %v", err)
	}
}

func TestListAnomalies_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 30, 10, 0, 0, 0, time.UTC)

	if _, err := s.InsertAnomalies(ctx, []domain.AnomalyRecord{
		anomaly("a1", "t1", domain.AnomalyStatisticalOutlier, domain.SeverityHigh, base),
		anomaly("a2", "t2", domain.AnomalyStatisticalOutlier, domain.SeverityMedium, base.Add(time.Minute)),
		anomaly("a3", "t3", domain.AnomalyNovelMerchant, domain.SeverityLow, base.Add(2*time.Minute)),
	}); err != nil {
		t.Fatalf("InsertAnomalies failed: %v", err)
	}
	if _, err := s.AcknowledgeAnomaly(ctx, "a2", "alice"); err != nil {
		t.Fatalf("AcknowledgeAnomaly failed: %v", err)
	}

	tests := []struct {
		name   string
		filter store.AnomalyFilter
		want   []string
	}{
		{"all newest first", store.AnomalyFilter{}, []string{"a3", "a2", "a1"}},
		{"severity", store.AnomalyFilter{Severity: domain.SeverityHigh}, []string{"a1"}},
		{"unacknowledged", store.AnomalyFilter{UnacknowledgedOnly: true}, []string{"a3", "a1"}},
		{"limit", store.AnomalyFilter{Limit: 1}, []string{"a3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListAnomalies(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListAnomalies failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d anomalies, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("position %d = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestAcknowledgeAnomaly_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertAnomalies(ctx, []domain.AnomalyRecord{
		anomaly("a1", "t1", domain.AnomalyNovelMerchant, domain.SeverityLow, time.Now()),
	}); err != nil {
		t.Fatalf("InsertAnomalies failed: %v", err)
	}

	first, err := s.AcknowledgeAnomaly(ctx, "a1", "alice")
	if err != nil {
		t.Fatalf("AcknowledgeAnomaly failed: %v", err)
	}
	if !first.Acknowledged || first.AcknowledgedBy != "alice" || first.AcknowledgedAt == nil {
		t.Fatalf("unexpected record after ack: %+v", first)
	}

	second, err := s.AcknowledgeAnomaly(ctx, "a1", "bob")
	if err != nil {
		t.Fatalf("second AcknowledgeAnomaly failed: %v", err)
	}
	if second.AcknowledgedBy != "alice" {
		t.Errorf("AcknowledgedBy = %q, want first acknowledger", second.AcknowledgedBy)
	}
	if !second.AcknowledgedAt.Equal(*first.AcknowledgedAt) {
		t.Errorf("AcknowledgedAt changed: %v -> %v", first.AcknowledgedAt, second.AcknowledgedAt)
	}
}

func TestAcknowledgeAnomaly_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AcknowledgeAnomaly(context.Background(), "missing", "alice")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func forecast(category, date string, horizon int, amount string, runID string, created time.Time) domain.ForecastRecord {
	a := decimal.RequireFromString(amount)
	return domain.ForecastRecord{
		ForecastDate:    day(date),
		Category:        category,
		Horizon:         horizon,
		ForecastAmount:  a,
		LowerBound:      a.Mul(decimal.RequireFromString("0.9")).Round(2),
		UpperBound:      a.Mul(decimal.RequireFromString("1.1")).Round(2),
		ConfidenceLevel: domain.ConfidenceLevel,
		QualityTag:      domain.QualityFlatSeries,
		RunID:           runID,
		CreatedAt:       created,
	}
}

func TestForecasts_AppendAndLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t1 := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)

	if _, err := s.InsertForecasts(ctx, []domain.ForecastRecord{
		forecast("Rent", "2024-08-01", 1, "1500.00", "run-1", t1),
		forecast("Rent", "2024-09-01", 2, "1500.00", "run-1", t1),
		forecast("Dining", "2024-08-01", 1, "200.00", "run-1", t1),
	}); err != nil {
		t.Fatalf("InsertForecasts failed: %v", err)
	}
	n, err := s.InsertForecasts(ctx, []domain.ForecastRecord{
		forecast("Rent", "2024-08-01", 1, "1550.00", "run-2", t2),
	})
	if err != nil || n != 1 {
		t.Fatalf("InsertForecasts = (%d, %v)", n, err)
	}

	all, err := s.ListForecasts(ctx, store.ForecastFilter{Category: "Rent"})
	if err != nil {
		t.Fatalf("ListForecasts failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d Rent forecasts, want 3 (append-only)", len(all))
	}

	latest, err := s.ListForecasts(ctx, store.ForecastFilter{Category: "Rent", LatestOnly: true})
	if err != nil {
		t.Fatalf("ListForecasts failed: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("got %d latest Rent forecasts, want 2", len(latest))
	}
	if latest[0].RunID != "run-2" || !latest[0].ForecastAmount.Equal(decimal.RequireFromString("1550")) {
		t.Errorf("August forecast should come from run-2: %+v", latest[0])
	}
	if !latest[0].LowerBound.Equal(decimal.RequireFromString("1395")) {
		t.Errorf("LowerBound = %s", latest[0].LowerBound)
	}
	if latest[1].RunID != "run-1" || !latest[1].ForecastDate.Equal(day("2024-09-01")) {
		t.Errorf("September forecast should remain from run-1: %+v", latest[1])
	}

	everything, err := s.ListForecasts(ctx, store.ForecastFilter{})
	if err != nil {
		t.Fatalf("ListForecasts failed: %v", err)
	}
	if len(everything) != 4 || everything[0].Category != "Dining" {
		t.Errorf("unexpected unfiltered listing: %d rows", len(everything))
	}
}

func TestRuns_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &domain.RunRecord{
		RunID:     "run-1",
		Stage:     domain.StageIngest,
		Source:    "chase.csv",
		StartedAt: time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC),
	}
	if err := s.StartRun(ctx, run); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if run.Status != domain.RunRunning {
		t.Errorf("Status = %s, want RUNNING", run.Status)
	}

	later := &domain.RunRecord{RunID: "run-2", Stage: domain.StageAnomaly, StartedAt: run.StartedAt.Add(time.Hour)}
	if err := s.StartRun(ctx, later); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	run.Status = domain.RunSuccess
	run.Institution = "Chase"
	run.RowsRead, run.RowsLoaded, run.RowsDropped, run.RowsDuplicate = 10, 7, 2, 1
	if err := s.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-2" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
	got := runs[1]
	if got.Status != domain.RunSuccess || got.Institution != "Chase" || got.RowsLoaded != 7 || got.RowsDuplicate != 1 {
		t.Errorf("run not updated: %+v", got)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
	if runs[0].FinishedAt != nil || runs[0].Status != domain.RunRunning {
		t.Errorf("running run should have no FinishedAt: %+v", runs[0])
	}

	limited, err := s.ListRuns(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("ListRuns(1) = (%d, %v)", len(limited), err)
	}
}

func TestFinishRun_Unknown(t *testing.T) {
	s := newTestStore(t)
	err := s.FinishRun(context.Background(), &domain.RunRecord{RunID: "nope", Status: domain.RunFailed})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTimeValue_Scan(t *testing.T) {
	want := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	for _, src := range []any{want, "2024-01-05", []byte("2024-01-05T00:00:00.000000Z"), "2024-01-05 00:00:00+00:00"} {
		var v timeValue
		if err := v.Scan(src); err != nil {
			t.Errorf("Scan(%v) failed: %v", src, err)
			continue
		}
		if !v.Valid || !v.Time.Equal(want) {
			t.Errorf("Scan(%v) = %v", src, v.Time)
		}
	}

	var v timeValue
	if err := v.Scan(nil); err != nil || v.Valid || v.ptr() != nil {
		t.Errorf("Scan(nil) = %+v, %v", v, err)
	}
	if err := v.Scan(42); err == nil {
		t.Error("expected error for int source")
	}
}
