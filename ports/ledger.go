package ports

import (
	"context"

	"bellstat/domain/run"
)

// LedgerWriterPort provides append-only write access to evaluation records
type LedgerWriterPort interface {
	SaveRecord(ctx context.Context, record *run.Record) error
}

// LedgerReaderPort provides read-only access to stored records
type LedgerReaderPort interface {
	// ListKeys returns the storage keys of all records, sorted.
	ListKeys(ctx context.Context) ([]string, error)
	// GetRecord loads one record by its descriptor key.
	GetRecord(ctx context.Context, key string) (*run.Record, error)
}

// LedgerPort combines read and write access
type LedgerPort interface {
	LedgerWriterPort
	LedgerReaderPort
}
