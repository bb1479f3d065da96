package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/findataops/internal/migrate"
	"google.golang.org/api/iterator"
)

// EnsureMigrationsTableWithClient creates the schema_migrations table if it doesn't exist.
func EnsureMigrationsTableWithClient(ctx context.Context, client *bigquery.Client, ds Dataset) error {
	q := client.Query(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, ds.Table(migrationsTable)))

	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("EnsureMigrationsTable: %w", err)
	}
	return nil
}

// AppliedMigrationsWithClient retrieves the list of already applied migrations.
func AppliedMigrationsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset) ([]migrate.Applied, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, ds.Table(migrationsTable)))

	it, err := q.Read(ctx)
	if err != nil {
		// The ledger may not be visible yet right after creation.
		if strings.Contains(err.Error(), "Not found") {
			return nil, nil
		}
		return nil, fmt.Errorf("AppliedMigrations: reading: %w", err)
	}

	var applied []migrate.Applied
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("AppliedMigrations: iter next: %w", err)
		}

		applied = append(applied, migrate.Applied{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

// ApplyMigrationWithClient executes m and records it in schema_migrations.
func ApplyMigrationWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, m migrate.Migration, appliedBy string) error {
	if _, err := runDML(ctx, client.Query(m.SQL)); err != nil {
		return fmt.Errorf("ApplyMigration: executing %s: %w", m.Filename, err)
	}

	q := client.Query(fmt.Sprintf(`
		INSERT INTO %s
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, ds.Table(migrationsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}

	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("ApplyMigration: recording %s: %w", m.Filename, err)
	}
	return nil
}
