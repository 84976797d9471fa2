package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migration is a single versioned SQL file from the migrations directory.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationStatus reports whether a known migration has been applied.
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

var schemaPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Migrator applies numbered SQL files ("001_econsult.sql") to one schema and
// records them in schema_migrations.
type Migrator struct {
	pool *pgxpool.Pool
	dir  string
}

func NewMigrator(pool *pgxpool.Pool, migrationsDir string) *Migrator {
	return &Migrator{pool: pool, dir: migrationsDir}
}

func validSchema(schema string) error {
	if !schemaPattern.MatchString(schema) {
		return fmt.Errorf("invalid schema name %q", schema)
	}
	return nil
}

func (m *Migrator) ensureTable(ctx context.Context, schema string) error {
	_, err := m.pool.Exec(ctx, fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %[1]s;
CREATE TABLE IF NOT EXISTS %[1]s.schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       VARCHAR(255) NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, schema))
	if err != nil {
		return fmt.Errorf("create schema_migrations in %s: %w", schema, err)
	}
	return nil
}

// LoadMigrations reads every "<version>_<name>.sql" file in the directory
// sorted by version. Files without a numeric prefix are skipped; a duplicated
// version is an error.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory %s: %w", m.dir, err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, other, name)
		}
		seen[version] = name

		content, err := os.ReadFile(filepath.Join(m.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", name, err)
		}
		migrations = append(migrations, Migration{Version: version, Name: name, SQL: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// pending returns the migrations not yet applied, in order, stopping after
// target when target > 0.
func pending(all []Migration, applied map[int]time.Time, target int) []Migration {
	var out []Migration
	for _, mig := range all {
		if target > 0 && mig.Version > target {
			break
		}
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		out = append(out, mig)
	}
	return out
}

// statuses merges the known migrations with the applied set.
func statuses(all []Migration, applied map[int]time.Time) []MigrationStatus {
	out := make([]MigrationStatus, 0, len(all))
	for _, mig := range all {
		st := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if at, ok := applied[mig.Version]; ok {
			at := at
			st.Applied = true
			st.AppliedAt = &at
		}
		out = append(out, st)
	}
	return out
}

func (m *Migrator) applied(ctx context.Context, schema string) (map[int]time.Time, error) {
	rows, err := m.pool.Query(ctx, fmt.Sprintf(`SELECT version, applied_at FROM %s.schema_migrations`, schema))
	if err != nil {
		return nil, fmt.Errorf("query applied migrations in %s: %w", schema, err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("scan migration row: %w", err)
		}
		out[v] = at
	}
	return out, rows.Err()
}

// Up applies all pending migrations. Each one runs in its own transaction.
func (m *Migrator) Up(ctx context.Context, schema string) (int, error) {
	return m.UpTo(ctx, schema, 0)
}

// UpTo applies pending migrations up to and including targetVersion
// (0 means all) and returns how many were applied.
func (m *Migrator) UpTo(ctx context.Context, schema string, targetVersion int) (int, error) {
	if err := validSchema(schema); err != nil {
		return 0, err
	}
	if err := m.ensureTable(ctx, schema); err != nil {
		return 0, err
	}
	all, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx, schema)
	if err != nil {
		return 0, err
	}

	runner := NewTxRunner(m.pool)
	count := 0
	for _, mig := range pending(all, applied, targetVersion) {
		mig := mig
		err := runner.RunInTx(ctx, func(ctx context.Context) error {
			tx := TxFromContext(ctx)
			if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL search_path TO %s, public", schema)); err != nil {
				return fmt.Errorf("set search_path: %w", err)
			}
			if _, err := tx.Exec(ctx, mig.SQL); err != nil {
				return fmt.Errorf("execute SQL: %w", err)
			}
			_, err := tx.Exec(ctx,
				fmt.Sprintf("INSERT INTO %s.schema_migrations (version, name) VALUES ($1, $2)", schema),
				mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		count++
	}
	return count, nil
}

// Status lists every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context, schema string) ([]MigrationStatus, error) {
	if err := validSchema(schema); err != nil {
		return nil, err
	}
	if err := m.ensureTable(ctx, schema); err != nil {
		return nil, err
	}
	all, err := m.LoadMigrations()
	if err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx, schema)
	if err != nil {
		return nil, err
	}
	return statuses(all, applied), nil
}
