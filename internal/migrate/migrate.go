// Package migrate applies versioned schema files to a store backend.
package migrate

import (
	"context"
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/findataops/internal/logger"
)

// Files holds the schema migrations for every supported dialect under sql/<dialect>/.
//
//go:embed sql
var Files embed.FS

// DefaultAppliedBy is recorded when the caller does not name itself.
const DefaultAppliedBy = "findataops"

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// Applied represents a migration that has already been applied
type Applied struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Target is a backend that can record and execute migrations.
type Target interface {
	Dialect() string
	EnsureMigrationsTable(ctx context.Context) error
	AppliedMigrations(ctx context.Context) ([]Applied, error)
	// ApplyMigration executes m and records it in the ledger.
	ApplyMigration(ctx context.Context, m Migration, appliedBy string) error
	// Placeholders returns the values substituted into {{KEY}} markers.
	Placeholders() map[string]string
}

var filenamePattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// ParseFilename splits "0001_init.sql" into version and name.
func ParseFilename(filename string) (int, string, bool) {
	m := filenamePattern.FindStringSubmatch(filename)
	if m == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return version, m[2], true
}

// Load reads dir from fsys and returns its migrations sorted by version. The checksum
// is taken before placeholder substitution so the same logical migration matches
// across projects.
func Load(fsys fs.FS, dir string, placeholders map[string]string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("Load: reading migrations directory %s: %w", dir, err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, name, ok := ParseFilename(e.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("Load: duplicate migration version %04d (%s, %s)", version, prev, e.Name())
		}
		seen[version] = e.Name()

		content, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("Load: reading %s: %w", e.Name(), err)
		}

		sql := string(content)
		for k, v := range placeholders {
			sql = strings.ReplaceAll(sql, "{{"+k+"}}", v)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: e.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Run applies every embedded migration for the target's dialect that is not yet
// recorded, and returns how many were applied.
func Run(ctx context.Context, target Target, appliedBy string) (int, error) {
	migrations, err := Load(Files, path.Join("sql", target.Dialect()), target.Placeholders())
	if err != nil {
		return 0, err
	}
	return Apply(ctx, target, migrations, appliedBy)
}

// Apply runs the given migrations against target in version order.
func Apply(ctx context.Context, target Target, migrations []Migration, appliedBy string) (int, error) {
	log := logger.FromContext(ctx).With().Str("dialect", target.Dialect()).Logger()
	if appliedBy == "" {
		appliedBy = DefaultAppliedBy
	}

	if err := target.EnsureMigrationsTable(ctx); err != nil {
		return 0, fmt.Errorf("Apply: ensure schema_migrations: %w", err)
	}

	applied, err := target.AppliedMigrations(ctx)
	if err != nil {
		return 0, fmt.Errorf("Apply: reading applied migrations: %w", err)
	}
	done := make(map[int]Applied, len(applied))
	for _, a := range applied {
		done[a.Version] = a
	}

	count := 0
	for _, m := range migrations {
		if a, ok := done[m.Version]; ok {
			if a.Checksum != "" && a.Checksum != m.Checksum {
				log.Warn().Int("version", m.Version).Str("name", m.Name).Msg("Applied migration differs from file on disk")
			}
			log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("Migration already applied")
			continue
		}

		if err := target.ApplyMigration(ctx, m, appliedBy); err != nil {
			return count, fmt.Errorf("Apply: migration %04d_%s: %w", m.Version, m.Name, err)
		}
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Migration applied")
		count++
	}
	return count, nil
}
