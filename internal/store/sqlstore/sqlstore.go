// Package sqlstore implements store.Store on database/sql for SQLite and PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/logger"
	"github.com/dvloznov/findataops/internal/migrate"
	"github.com/dvloznov/findataops/internal/store"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialects understood by Open.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// timestampLayout sorts lexicographically in UTC, which SQLite TEXT columns rely on.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Store is a store.Store over a database/sql handle.
type Store struct {
	db      *sql.DB
	dialect string
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn using dialect and verifies the connection.
func Open(ctx context.Context, dialect, dsn string) (*Store, error) {
	var driver string
	switch dialect {
	case DialectSQLite:
		driver = "sqlite"
	case DialectPostgres:
		driver = "postgres"
	default:
		return nil, fmt.Errorf("Open: unsupported dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("Open: %s: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// SQLite allows a single writer, and each :memory: connection is its own database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: ping %s: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		log := logger.FromContext(ctx)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
			log.Warn().Err(err).Msg("Failed to set busy_timeout")
		}
		if !strings.Contains(dsn, ":memory:") && !strings.Contains(dsn, "mode=memory") {
			if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
				log.Warn().Err(err).Msg("Failed to set WAL mode")
			}
		}
	}

	return &Store{db: db, dialect: dialect}, nil
}

// New wraps an existing handle. The caller keeps ownership of db until Close.
func New(db *sql.DB, dialect string) *Store {
	return &Store{db: db, dialect: dialect}
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the handle for tests and tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect implements migrate.Target.
func (s *Store) Dialect() string { return s.dialect }

// Migrate applies any pending schema migrations.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	n, err := migrate.Run(ctx, s, migrate.DefaultAppliedBy)
	return n, store.Wrap("Migrate", err)
}

// rebind rewrites ? placeholders as $N for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) ts(t time.Time) any {
	if s.dialect == DialectSQLite {
		return t.UTC().Format(timestampLayout)
	}
	return t.UTC()
}

func (s *Store) nullTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return s.ts(*t)
}

func dateArg(t time.Time) string {
	return t.Format(domain.DateLayout)
}

// timeValue scans DATE and TIMESTAMP columns from either driver: lib/pq yields
// time.Time while SQLite yields the stored text.
type timeValue struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	domain.DateLayout,
}

func (v *timeValue) Scan(src any) error {
	switch x := src.(type) {
	case nil:
		v.Time, v.Valid = time.Time{}, false
		return nil
	case time.Time:
		v.Time, v.Valid = x.UTC(), true
		return nil
	case string:
		return v.parse(x)
	case []byte:
		return v.parse(string(x))
	}
	return fmt.Errorf("timeValue: unsupported type %T", src)
}

func (v *timeValue) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			v.Time, v.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("timeValue: cannot parse %q", s)
}

func (v timeValue) ptr() *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
