package migration

import (
	"context"
	"fmt"
	"time"

	"bellstat/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// step is one idempotent schema change. Statements must run unchanged on
// both sqlite3 and postgres.
type step struct {
	version string
	name    string
	stmts   []string
}

var steps = []step{
	{
		version: "0001",
		name:    "create bellstat_records",
		stmts: []string{`
			CREATE TABLE IF NOT EXISTS bellstat_records (
				record_key  TEXT PRIMARY KEY,
				run_id      TEXT NOT NULL,
				name        TEXT NOT NULL,
				statistic   TEXT NOT NULL,
				radius      DOUBLE PRECISION NOT NULL,
				fingerprint TEXT NOT NULL,
				record      TEXT NOT NULL,
				created_at  TEXT NOT NULL
			)`,
		},
	},
	{
		version: "0002",
		name:    "index records by run name",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_bellstat_records_name ON bellstat_records (name)`,
			`CREATE INDEX IF NOT EXISTS idx_bellstat_records_fingerprint ON bellstat_records (fingerprint)`,
		},
	},
}

// MigrationRunner handles database schema migrations
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: steps[len(steps)-1].version,
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run applies every step not yet recorded in schema_migrations, in order.
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createMigrationsTable(ctx, db); err != nil {
		return errors.StorageError("failed to create schema_migrations table", err)
	}

	applied, err := r.applied(ctx, db)
	if err != nil {
		return errors.StorageError("failed to read applied migrations", err)
	}

	for _, s := range steps {
		if applied[s.version] {
			continue
		}
		if err := r.apply(ctx, db, s); err != nil {
			return errors.StorageError(fmt.Sprintf("failed to apply migration %s (%s)", s.version, s.name), err)
		}
	}
	return nil
}

// Applied lists the recorded migration versions, oldest first.
func (r *MigrationRunner) Applied(ctx context.Context, db *sqlx.DB) ([]string, error) {
	var versions []string
	if err := db.SelectContext(ctx, &versions, `SELECT version FROM schema_migrations ORDER BY version`); err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	return versions, nil
}

func (r *MigrationRunner) createMigrationsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

func (r *MigrationRunner) applied(ctx context.Context, db *sqlx.DB) (map[string]bool, error) {
	versions, err := r.Applied(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(versions))
	for _, v := range versions {
		out[v] = true
	}
	return out, nil
}

func (r *MigrationRunner) apply(ctx context.Context, db *sqlx.DB, s step) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range s.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx,
		tx.Rebind(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`),
		s.version, s.name, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}
	return tx.Commit()
}
