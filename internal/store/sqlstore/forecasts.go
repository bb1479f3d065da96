package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/store"
)

const forecastColumns = `forecast_date, category, horizon, forecast_amount, lower_bound,
	upper_bound, confidence_level, quality_tag, run_id, created_at`

// InsertForecasts appends recs in one transaction. Earlier runs are kept.
func (s *Store) InsertForecasts(ctx context.Context, recs []domain.ForecastRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.rebind(`
			INSERT INTO forecasts (`+forecastColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`))
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for i := range recs {
			r := &recs[i]
			if _, err := stmt.ExecContext(ctx,
				dateArg(r.ForecastDate),
				r.Category,
				r.Horizon,
				r.ForecastAmount.StringFixed(2),
				r.LowerBound.StringFixed(2),
				r.UpperBound.StringFixed(2),
				r.ConfidenceLevel,
				r.QualityTag,
				r.RunID,
				s.ts(r.CreatedAt),
			); err != nil {
				return fmt.Errorf("insert %s/%d: %w", r.Category, r.Horizon, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, store.Wrap("InsertForecasts", err)
	}
	return len(recs), nil
}

// ListForecasts returns forecasts ordered by category, date and horizon.
func (s *Store) ListForecasts(ctx context.Context, f store.ForecastFilter) ([]domain.ForecastRecord, error) {
	var where []string
	var args []any
	if f.Category != "" {
		where = append(where, "f.category = ?")
		args = append(args, f.Category)
	}
	if f.LatestOnly {
		where = append(where, `f.created_at = (
			SELECT MAX(f2.created_at) FROM forecasts f2
			WHERE f2.category = f.category AND f2.forecast_date = f.forecast_date)`)
	}

	query := "SELECT " + prefixed("f.", forecastColumns) + " FROM forecasts f"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY f.category, f.forecast_date, f.horizon, f.created_at"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, store.Wrap("ListForecasts", err)
	}
	defer rows.Close()

	var out []domain.ForecastRecord
	for rows.Next() {
		var r domain.ForecastRecord
		var date, created timeValue
		if err := rows.Scan(
			&date,
			&r.Category,
			&r.Horizon,
			&r.ForecastAmount,
			&r.LowerBound,
			&r.UpperBound,
			&r.ConfidenceLevel,
			&r.QualityTag,
			&r.RunID,
			&created,
		); err != nil {
			return nil, store.Wrap("ListForecasts", fmt.Errorf("scan: %w", err))
		}
		r.ForecastDate = domain.Date(date.Time)
		r.CreatedAt = created.Time
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("ListForecasts", err)
	}
	return out, nil
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
