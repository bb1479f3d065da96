package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/store"
	"google.golang.org/api/iterator"
)

const forecastColumns = `forecast_date, category, horizon, forecast_amount, lower_bound,
	upper_bound, confidence_level, quality_tag, run_id, created_at`

// InsertForecastsWithClient appends recs to <dataset>.forecasts in one DML
// statement, so a failed run leaves none of its forecasts behind.
func InsertForecastsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, recs []domain.ForecastRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	rows := make([]ForecastRow, len(recs))
	for i, f := range recs {
		rows[i] = NewForecastRow(f)
	}

	n, err := runDML(ctx, forecastsInsertQuery(client, ds, rows))
	if err != nil {
		return 0, fmt.Errorf("InsertForecasts: inserting %d rows: %w", len(rows), err)
	}
	return int(n), nil
}

func forecastsInsertQuery(client *bigquery.Client, ds Dataset, rows []ForecastRow) *bigquery.Query {
	q := client.Query(fmt.Sprintf(`
		INSERT INTO %s (%s)
		SELECT %s FROM UNNEST(@rows)
	`, ds.Table(forecastsTable), forecastColumns, forecastColumns))
	q.Parameters = []bigquery.QueryParameter{{Name: "rows", Value: rows}}
	return q
}

// ListForecastsWithClient lists forecasts by category, date and horizon.
func ListForecastsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, f store.ForecastFilter) ([]domain.ForecastRecord, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE (@category = '' OR category = @category)
	`, forecastColumns, ds.Table(forecastsTable))
	if f.LatestOnly {
		sql += " QUALIFY created_at = MAX(created_at) OVER (PARTITION BY category, forecast_date)"
	}
	sql += " ORDER BY category, forecast_date, horizon, created_at"

	q := client.Query(sql)
	q.Parameters = []bigquery.QueryParameter{{Name: "category", Value: f.Category}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListForecasts: query read: %w", err)
	}

	var out []domain.ForecastRecord
	for {
		var r ForecastRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListForecasts: iter next: %w", err)
		}
		rec, err := r.Domain()
		if err != nil {
			return nil, fmt.Errorf("ListForecasts: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
