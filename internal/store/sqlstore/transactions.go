package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/store"
)

const transactionColumns = `identity, institution, account_id, posted_at, amount, currency,
	merchant_raw, merchant_hash, description, category_raw, category_normalized,
	channel, ingest_batch_id, created_at`

// InsertTransactions writes txns in one transaction, skipping identities that
// already exist, and returns the number of new rows.
func (s *Store) InsertTransactions(ctx context.Context, txns []domain.CanonicalTransaction) (int, error) {
	if len(txns) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.rebind(`
			INSERT INTO transactions (`+transactionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (identity) DO NOTHING
		`))
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for i := range txns {
			t := &txns[i]
			res, err := stmt.ExecContext(ctx,
				t.Identity,
				t.Institution,
				t.AccountID,
				dateArg(t.PostedAt),
				t.Amount.StringFixed(2),
				t.Currency,
				t.MerchantRaw,
				t.MerchantHash,
				t.Description,
				t.CategoryRaw,
				t.CategoryNormalized,
				string(t.Channel),
				t.IngestBatchID,
				s.ts(t.CreatedAt),
			)
			if err != nil {
				return fmt.Errorf("insert %s: %w", t.Identity, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, store.Wrap("InsertTransactions", err)
	}
	return inserted, nil
}

// TransactionsBetween returns transactions posted in [start, end], oldest first.
func (s *Store) TransactionsBetween(ctx context.Context, start, end time.Time) ([]domain.CanonicalTransaction, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE posted_at >= ? AND posted_at <= ?
		ORDER BY posted_at, identity
	`), dateArg(start), dateArg(end))
	if err != nil {
		return nil, store.Wrap("TransactionsBetween", err)
	}
	defer rows.Close()

	var out []domain.CanonicalTransaction
	for rows.Next() {
		var t domain.CanonicalTransaction
		var posted, created timeValue
		var channel string
		if err := rows.Scan(
			&t.Identity,
			&t.Institution,
			&t.AccountID,
			&posted,
			&t.Amount,
			&t.Currency,
			&t.MerchantRaw,
			&t.MerchantHash,
			&t.Description,
			&t.CategoryRaw,
			&t.CategoryNormalized,
			&channel,
			&t.IngestBatchID,
			&created,
		); err != nil {
			return nil, store.Wrap("TransactionsBetween", fmt.Errorf("scan: %w", err))
		}
		t.PostedAt = domain.Date(posted.Time)
		t.CreatedAt = created.Time
		t.Channel = domain.Channel(channel)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("TransactionsBetween", err)
	}
	return out, nil
}
