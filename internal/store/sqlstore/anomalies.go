package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/store"
)

const anomalyColumns = `id, txn_identity, anomaly_type, severity, driver, remediation_hint,
	category, merchant_raw, amount, z_score, run_id, flagged_at,
	acknowledged, acknowledged_by, acknowledged_at`

// InsertAnomalies writes recs in one transaction and returns the ones stored. A
// record is skipped when an anomaly of the same type already exists for its
// transaction.
func (s *Store) InsertAnomalies(ctx context.Context, recs []domain.AnomalyRecord) ([]domain.AnomalyRecord, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	var inserted []domain.AnomalyRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.rebind(`
			INSERT INTO anomalies (`+anomalyColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (txn_identity, anomaly_type) DO NOTHING
		`))
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for i := range recs {
			r := &recs[i]
			res, err := stmt.ExecContext(ctx,
				r.ID,
				r.TxnIdentity,
				string(r.Type),
				string(r.Severity),
				r.Driver,
				r.RemediationHint,
				r.Category,
				r.MerchantRaw,
				r.Amount.StringFixed(2),
				r.ZScore,
				r.RunID,
				s.ts(r.FlaggedAt),
				r.Acknowledged,
				sql.NullString{String: r.AcknowledgedBy, Valid: r.Acknowledged},
				s.nullTS(r.AcknowledgedAt),
			)
			if err != nil {
				return fmt.Errorf("insert %s: %w", r.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			if n > 0 {
				inserted = append(inserted, *r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, store.Wrap("InsertAnomalies", err)
	}
	return inserted, nil
}

// ListAnomalies returns anomalies most recently flagged first.
func (s *Store) ListAnomalies(ctx context.Context, f store.AnomalyFilter) ([]domain.AnomalyRecord, error) {
	var where []string
	var args []any
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if f.UnacknowledgedOnly {
		where = append(where, "acknowledged = ?")
		args = append(args, false)
	}

	query := "SELECT " + anomalyColumns + " FROM anomalies"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY flagged_at DESC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, store.Wrap("ListAnomalies", err)
	}
	defer rows.Close()

	var out []domain.AnomalyRecord
	for rows.Next() {
		r, err := scanAnomaly(rows)
		if err != nil {
			return nil, store.Wrap("ListAnomalies", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("ListAnomalies", err)
	}
	return out, nil
}

// GetAnomaly returns the anomaly with id, or store.ErrNotFound.
func (s *Store) GetAnomaly(ctx context.Context, id string) (*domain.AnomalyRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+anomalyColumns+" FROM anomalies WHERE id = ?"), id)
	r, err := scanAnomaly(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetAnomaly %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, store.Wrap("GetAnomaly", err)
	}
	return r, nil
}

// AcknowledgeAnomaly marks the anomaly reviewed by by. A second call leaves the
// first acknowledgement in place and returns it.
func (s *Store) AcknowledgeAnomaly(ctx context.Context, id, by string) (*domain.AnomalyRecord, error) {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE anomalies
		SET acknowledged = ?, acknowledged_by = ?, acknowledged_at = ?
		WHERE id = ? AND acknowledged = ?
	`), true, by, s.ts(time.Now()), id, false)
	if err != nil {
		return nil, store.Wrap("AcknowledgeAnomaly", err)
	}
	return s.GetAnomaly(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnomaly(row rowScanner) (*domain.AnomalyRecord, error) {
	var r domain.AnomalyRecord
	var typ, severity string
	var flagged, ackAt timeValue
	var ackBy sql.NullString
	if err := row.Scan(
		&r.ID,
		&r.TxnIdentity,
		&typ,
		&severity,
		&r.Driver,
		&r.RemediationHint,
		&r.Category,
		&r.MerchantRaw,
		&r.Amount,
		&r.ZScore,
		&r.RunID,
		&flagged,
		&r.Acknowledged,
		&ackBy,
		&ackAt,
	); err != nil {
		return nil, err
	}
	r.Type = domain.AnomalyType(typ)
	r.Severity = domain.Severity(severity)
	r.FlaggedAt = flagged.Time
	r.AcknowledgedBy = ackBy.String
	r.AcknowledgedAt = ackAt.ptr()
	return &r, nil
}
