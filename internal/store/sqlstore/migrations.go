package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dvloznov/findataops/internal/migrate"
)

// EnsureMigrationsTable implements migrate.Target.
func (s *Store) EnsureMigrationsTable(ctx context.Context) error {
	tsType := "TIMESTAMPTZ"
	if s.dialect == DialectSQLite {
		tsType = "TEXT"
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at %s NOT NULL,
			checksum   TEXT,
			applied_by TEXT
		)
	`, tsType))
	if err != nil {
		return fmt.Errorf("EnsureMigrationsTable: %w", err)
	}
	return nil
}

// AppliedMigrations implements migrate.Target.
func (s *Store) AppliedMigrations(ctx context.Context) ([]migrate.Applied, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, name, applied_at, COALESCE(checksum, ''), COALESCE(applied_by, '')
		FROM schema_migrations
		ORDER BY version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("AppliedMigrations: query: %w", err)
	}
	defer rows.Close()

	var applied []migrate.Applied
	for rows.Next() {
		var a migrate.Applied
		var at timeValue
		if err := rows.Scan(&a.Version, &a.Name, &at, &a.Checksum, &a.AppliedBy); err != nil {
			return nil, fmt.Errorf("AppliedMigrations: scan: %w", err)
		}
		a.AppliedAt = at.Time
		applied = append(applied, a)
	}
	return applied, rows.Err()
}

// ApplyMigration implements migrate.Target. The schema change and its ledger row
// commit together.
func (s *Store) ApplyMigration(ctx context.Context, m migrate.Migration, appliedBy string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("ApplyMigration: executing %s: %w", m.Filename, err)
		}
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO schema_migrations (version, name, applied_at, checksum, applied_by)
			VALUES (?, ?, ?, ?, ?)
		`), m.Version, m.Name, s.ts(nowUTC()), m.Checksum, appliedBy)
		if err != nil {
			return fmt.Errorf("ApplyMigration: recording %s: %w", m.Filename, err)
		}
		return nil
	})
}

// Placeholders implements migrate.Target; SQL dialects need none.
func (s *Store) Placeholders() map[string]string { return nil }

func nowUTC() time.Time { return time.Now().UTC() }
