package bigquery

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/findataops/internal/domain"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
)

func offlineClient(t *testing.T) *bigquery.Client {
	t.Helper()
	client, err := bigquery.NewClient(context.Background(), "proj", option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestWriteQueries_OneStatementPerSet(t *testing.T) {
	client := offlineClient(t)
	ds := Dataset{Project: "proj", ID: "findataops"}
	at := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

	for _, size := range []int{1, 500, 501, 1200} {
		txns := make([]TransactionRow, size)
		anomalies := make([]AnomalyRow, size)
		forecasts := make([]ForecastRow, size)
		for i := 0; i < size; i++ {
			txns[i] = NewTransactionRow(domain.CanonicalTransaction{
				Identity: fmt.Sprintf("t%d", i),
				PostedAt: at,
				Amount:   decimal.RequireFromString("-1.00"),
			})
			anomalies[i] = NewAnomalyRow(domain.AnomalyRecord{
				ID:          fmt.Sprintf("a%d", i),
				TxnIdentity: fmt.Sprintf("t%d", i),
				Type:        domain.AnomalyNovelMerchant,
				FlaggedAt:   at,
			})
			forecasts[i] = NewForecastRow(domain.ForecastRecord{
				ForecastDate: at,
				Category:     fmt.Sprintf("c%d", i),
				Horizon:      1,
				CreatedAt:    at,
			})
		}

		tests := []struct {
			name   string
			q      *bigquery.Query
			verb   string
			rowsOf func(any) int
		}{
			{"transactions", transactionsMergeQuery(client, ds, txns), "MERGE",
				func(v any) int { return len(v.([]TransactionRow)) }},
			{"anomalies", anomaliesMergeQuery(client, ds, anomalies), "MERGE",
				func(v any) int { return len(v.([]AnomalyRow)) }},
			{"forecasts", forecastsInsertQuery(client, ds, forecasts), "INSERT INTO",
				func(v any) int { return len(v.([]ForecastRow)) }},
		}
		for _, tt := range tests {
			t.Run(fmt.Sprintf("%s/%d", tt.name, size), func(t *testing.T) {
				if n := strings.Count(tt.q.Q, tt.verb); n != 1 {
					t.Errorf("statement has %d %s clauses, want 1:\n%s", n, tt.verb, tt.q.Q)
				}
				if len(tt.q.Parameters) != 1 || tt.q.Parameters[0].Name != "rows" {
					t.Fatalf("parameters = %+v, want a single rows parameter", tt.q.Parameters)
				}
				if got := tt.rowsOf(tt.q.Parameters[0].Value); got != size {
					t.Errorf("statement carries %d rows, want %d", got, size)
				}
			})
		}
	}
}
