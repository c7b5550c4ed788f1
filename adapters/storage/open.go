package storage

import (
	"context"
	"fmt"

	apperrors "bellstat/internal/errors"
	"bellstat/ports"
)

// BackendFile selects the JSON directory ledger.
const BackendFile = "file"

// Open returns the ledger for backend. location is a directory for "file"
// and a DSN for the SQL drivers. The returned close func is never nil.
func Open(ctx context.Context, backend, location string) (ports.LedgerPort, func() error, error) {
	noop := func() error { return nil }
	switch backend {
	case BackendFile, "":
		l, err := NewFileLedger(location)
		if err != nil {
			return nil, noop, err
		}
		return l, noop, nil
	case DriverSQLite, DriverPostgres:
		db, err := OpenSQL(ctx, backend, location)
		if err != nil {
			return nil, noop, err
		}
		return NewRecordRepository(db), db.Close, nil
	default:
		return nil, noop, apperrors.ConfigInvalid(fmt.Sprintf("unknown storage backend %q (want %s|%s|%s)",
			backend, BackendFile, DriverSQLite, DriverPostgres))
	}
}
