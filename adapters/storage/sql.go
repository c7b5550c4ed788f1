package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"bellstat/domain/core"
	"bellstat/domain/run"
	apperrors "bellstat/internal/errors"
	"bellstat/internal/migration"
	"bellstat/ports"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// recordRepository implements LedgerPort on a SQL database
type recordRepository struct {
	db *sqlx.DB
}

// NewRecordRepository creates a ledger over an open, migrated database
func NewRecordRepository(db *sqlx.DB) ports.LedgerPort {
	return &recordRepository{db: db}
}

// OpenSQL connects to driver/dsn and brings the schema up to date.
func OpenSQL(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, apperrors.ConfigInvalid(fmt.Sprintf("unsupported database driver %q (want %s|%s)", driver, DriverSQLite, DriverPostgres))
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, apperrors.StorageError("failed to connect to database", err)
	}
	if driver == DriverSQLite {
		// sqlite serializes writers; one connection avoids "database is locked".
		db.SetMaxOpenConns(1)
	}
	if err := migration.NewRunner().Run(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// SaveRecord upserts a record under its descriptor key
func (r *recordRepository) SaveRecord(ctx context.Context, record *run.Record) error {
	d := record.Descriptor
	if err := d.Validate(); err != nil {
		return apperrors.WithCode(apperrors.CodeValidationError, err)
	}
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	query := r.db.Rebind(`INSERT INTO bellstat_records (
		record_key, run_id, name, statistic, radius, fingerprint, record, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (record_key) DO UPDATE SET
		run_id = excluded.run_id,
		name = excluded.name,
		statistic = excluded.statistic,
		radius = excluded.radius,
		fingerprint = excluded.fingerprint,
		record = excluded.record,
		created_at = excluded.created_at`)

	_, err = r.db.ExecContext(ctx, query,
		d.Key(), d.RunID.String(), d.Name, d.Statistic.String(), d.Radius,
		d.Fingerprint.String(), string(recordJSON), record.CreatedAt.Time().Format(time.RFC3339Nano),
	)
	if err != nil {
		return apperrors.StorageError("failed to save record "+d.Key(), err)
	}
	return nil
}

// ListKeys returns all record keys in ascending order
func (r *recordRepository) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := r.db.SelectContext(ctx, &keys, `SELECT record_key FROM bellstat_records ORDER BY record_key`); err != nil {
		return nil, apperrors.StorageError("failed to list records", err)
	}
	return keys, nil
}

// GetRecord loads one record by key
func (r *recordRepository) GetRecord(ctx context.Context, key string) (*run.Record, error) {
	var recordJSON string
	err := r.db.GetContext(ctx, &recordJSON, r.db.Rebind(`SELECT record FROM bellstat_records WHERE record_key = ?`), key)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, key)
		}
		return nil, apperrors.StorageError("failed to get record "+key, err)
	}

	var rec run.Record
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return nil, apperrors.StorageError("failed to unmarshal record "+key, err)
	}
	return &rec, nil
}
