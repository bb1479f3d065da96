package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/findataops/internal/domain"
	"google.golang.org/api/iterator"
)

const transactionColumns = `identity, institution, account_id, posted_at, amount, currency,
	merchant_raw, merchant_hash, description, category_raw, category_normalized,
	channel, ingest_batch_id, created_at`

// InsertTransactionsWithClient merges txns into <dataset>.transactions, inserting
// only identities that are not already present. It returns the number of new rows.
func InsertTransactionsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, txns []domain.CanonicalTransaction) (int, error) {
	seen := make(map[string]bool, len(txns))
	rows := make([]TransactionRow, 0, len(txns))
	for _, t := range txns {
		if seen[t.Identity] {
			continue
		}
		seen[t.Identity] = true
		rows = append(rows, NewTransactionRow(t))
	}

	if len(rows) == 0 {
		return 0, nil
	}

	n, err := runDML(ctx, transactionsMergeQuery(client, ds, rows))
	if err != nil {
		return 0, fmt.Errorf("InsertTransactions: merge %d rows: %w", len(rows), err)
	}
	return int(n), nil
}

// transactionsMergeQuery builds one MERGE carrying every row, so a failure
// leaves none of them visible.
func transactionsMergeQuery(client *bigquery.Client, ds Dataset, rows []TransactionRow) *bigquery.Query {
	q := client.Query(fmt.Sprintf(`
		MERGE %s T
		USING (SELECT * FROM UNNEST(@rows)) S
		ON T.identity = S.identity
		WHEN NOT MATCHED THEN
		  INSERT (%s)
		  VALUES (S.identity, S.institution, S.account_id, S.posted_at, S.amount, S.currency,
		          S.merchant_raw, S.merchant_hash, S.description, S.category_raw,
		          S.category_normalized, S.channel, S.ingest_batch_id, S.created_at)
	`, ds.Table(transactionsTable), transactionColumns))
	q.Parameters = []bigquery.QueryParameter{{Name: "rows", Value: rows}}
	return q
}

// QueryTransactionsByDateRangeWithClient queries transactions posted within
// [startDate, endDate].
func QueryTransactionsByDateRangeWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, startDate, endDate time.Time) ([]domain.CanonicalTransaction, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE posted_at >= @start_date
		  AND posted_at <= @end_date
		ORDER BY posted_at, identity
	`, transactionColumns, ds.Table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "start_date", Value: startDate.Format(domain.DateLayout)},
		{Name: "end_date", Value: endDate.Format(domain.DateLayout)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryTransactionsByDateRange: query read: %w", err)
	}

	var out []domain.CanonicalTransaction
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryTransactionsByDateRange: iter next: %w", err)
		}
		t, err := r.Domain()
		if err != nil {
			return nil, fmt.Errorf("QueryTransactionsByDateRange: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}
