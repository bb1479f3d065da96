package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/store"
	"google.golang.org/api/iterator"
)

const anomalyColumns = `id, txn_identity, anomaly_type, severity, driver, remediation_hint,
	category, merchant_raw, amount, z_score, run_id, flagged_at,
	acknowledged, acknowledged_by, acknowledged_at`

// InsertAnomaliesWithClient merges recs into <dataset>.anomalies keyed on
// (txn_identity, anomaly_type) and returns the records that were stored.
func InsertAnomaliesWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, recs []domain.AnomalyRecord) ([]domain.AnomalyRecord, error) {
	type key struct {
		identity string
		typ      domain.AnomalyType
	}
	seen := make(map[key]bool, len(recs))
	rows := make([]AnomalyRow, 0, len(recs))
	byID := make(map[string]domain.AnomalyRecord, len(recs))
	ids := make([]string, 0, len(recs))
	for _, a := range recs {
		k := key{a.TxnIdentity, a.Type}
		if seen[k] {
			continue
		}
		seen[k] = true
		rows = append(rows, NewAnomalyRow(a))
		byID[a.ID] = a
		ids = append(ids, a.ID)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	n, err := runDML(ctx, anomaliesMergeQuery(client, ds, rows))
	if err != nil {
		return nil, fmt.Errorf("InsertAnomalies: merge %d rows: %w", len(rows), err)
	}
	if n == 0 {
		return nil, nil
	}

	// Ids are fresh per run, so the ones present now are the ones just merged.
	found := client.Query(fmt.Sprintf("SELECT id FROM %s WHERE id IN UNNEST(@ids)", ds.Table(anomaliesTable)))
	found.Parameters = []bigquery.QueryParameter{{Name: "ids", Value: ids}}
	it, err := found.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("InsertAnomalies: reading merged ids: %w", err)
	}

	stored := make(map[string]bool, n)
	for {
		var row struct {
			ID string `bigquery:"id"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("InsertAnomalies: iterating merged ids: %w", err)
		}
		stored[row.ID] = true
	}

	inserted := make([]domain.AnomalyRecord, 0, len(stored))
	for _, id := range ids {
		if stored[id] {
			inserted = append(inserted, byID[id])
		}
	}
	return inserted, nil
}

// anomaliesMergeQuery builds one MERGE carrying every row, so a failure leaves
// none of them visible.
func anomaliesMergeQuery(client *bigquery.Client, ds Dataset, rows []AnomalyRow) *bigquery.Query {
	q := client.Query(fmt.Sprintf(`
		MERGE %s T
		USING (SELECT * FROM UNNEST(@rows)) S
		ON T.txn_identity = S.txn_identity AND T.anomaly_type = S.anomaly_type
		WHEN NOT MATCHED THEN
		  INSERT (%s)
		  VALUES (S.id, S.txn_identity, S.anomaly_type, S.severity, S.driver, S.remediation_hint,
		          S.category, S.merchant_raw, S.amount, S.z_score, S.run_id, S.flagged_at,
		          S.acknowledged, S.acknowledged_by, S.acknowledged_at)
	`, ds.Table(anomaliesTable), anomalyColumns))
	q.Parameters = []bigquery.QueryParameter{{Name: "rows", Value: rows}}
	return q
}

// ListAnomaliesWithClient lists anomalies most recently flagged first.
func ListAnomaliesWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, f store.AnomalyFilter) ([]domain.AnomalyRecord, error) {
	var where []string
	var params []bigquery.QueryParameter
	if f.Severity != "" {
		where = append(where, "severity = @severity")
		params = append(params, bigquery.QueryParameter{Name: "severity", Value: string(f.Severity)})
	}
	if f.UnacknowledgedOnly {
		where = append(where, "acknowledged = FALSE")
	}

	sql := fmt.Sprintf("SELECT %s FROM %s", anomalyColumns, ds.Table(anomaliesTable))
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY flagged_at DESC, id ASC"
	if f.Limit > 0 {
		sql += " LIMIT @limit"
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: f.Limit})
	}

	q := client.Query(sql)
	q.Parameters = params
	return readAnomalies(ctx, q)
}

// GetAnomalyWithClient returns the anomaly with id or store.ErrNotFound.
func GetAnomalyWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, id string) (*domain.AnomalyRecord, error) {
	q := client.Query(fmt.Sprintf("SELECT %s FROM %s WHERE id = @id LIMIT 1", anomalyColumns, ds.Table(anomaliesTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "id", Value: id}}

	recs, err := readAnomalies(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("GetAnomaly %s: %w", id, store.ErrNotFound)
	}
	return &recs[0], nil
}

// AcknowledgeAnomalyWithClient sets acknowledged on an unacknowledged anomaly and
// returns the stored record.
func AcknowledgeAnomalyWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, id, by string) (*domain.AnomalyRecord, error) {
	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET acknowledged = TRUE,
		    acknowledged_by = @by,
		    acknowledged_at = @at
		WHERE id = @id AND acknowledged = FALSE
	`, ds.Table(anomaliesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "by", Value: by},
		{Name: "at", Value: time.Now().UTC()},
		{Name: "id", Value: id},
	}

	if _, err := runDML(ctx, q); err != nil {
		return nil, fmt.Errorf("AcknowledgeAnomaly: %w", err)
	}
	return GetAnomalyWithClient(ctx, client, ds, id)
}

func readAnomalies(ctx context.Context, q *bigquery.Query) ([]domain.AnomalyRecord, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("readAnomalies: query read: %w", err)
	}

	var out []domain.AnomalyRecord
	for {
		var r AnomalyRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("readAnomalies: iter next: %w", err)
		}
		a, err := r.Domain()
		if err != nil {
			return nil, fmt.Errorf("readAnomalies: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}
