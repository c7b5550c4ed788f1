package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"bellstat/domain/core"
	"bellstat/domain/run"
	apperrors "bellstat/internal/errors"
	"bellstat/ports"
)

const recordExt = ".json"

var _ ports.LedgerPort = (*FileLedger)(nil)

// FileLedger stores one indented JSON document per record key in a directory.
type FileLedger struct {
	dir string
}

// NewFileLedger creates dir if needed.
func NewFileLedger(dir string) (*FileLedger, error) {
	if dir == "" {
		return nil, apperrors.ConfigInvalid("ledger directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.StorageError("failed to create ledger directory", err)
	}
	return &FileLedger{dir: dir}, nil
}

// Dir returns the ledger directory.
func (l *FileLedger) Dir() string { return l.dir }

// SaveRecord writes the record atomically, replacing any earlier record
// under the same key.
func (l *FileLedger) SaveRecord(ctx context.Context, record *run.Record) error {
	if err := record.Descriptor.Validate(); err != nil {
		return apperrors.WithCode(apperrors.CodeValidationError, err)
	}
	key := record.Descriptor.Key()
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return apperrors.StorageError("failed to marshal record "+key, err)
	}

	tmp, err := os.CreateTemp(l.dir, ".record-*")
	if err != nil {
		return apperrors.StorageError("failed to save record "+key, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return apperrors.StorageError("failed to save record "+key, err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.StorageError("failed to save record "+key, err)
	}
	if err := os.Rename(tmp.Name(), l.path(key)); err != nil {
		return apperrors.StorageError("failed to save record "+key, err)
	}
	return nil
}

// ListKeys returns the keys of all stored records, sorted.
func (l *FileLedger) ListKeys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, apperrors.StorageError("failed to list records", err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != recordExt {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, recordExt))
	}
	sort.Strings(keys)
	return keys, nil
}

// GetRecord loads the record stored under key.
func (l *FileLedger) GetRecord(ctx context.Context, key string) (*run.Record, error) {
	if key == "" || strings.ContainsAny(key, `/\`) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid record key %q", key))
	}
	data, err := os.ReadFile(l.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, key)
		}
		return nil, apperrors.StorageError("failed to read record "+key, err)
	}
	var rec run.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, apperrors.StorageError("failed to decode record "+key, err)
	}
	return &rec, nil
}

func (l *FileLedger) path(key string) string {
	return filepath.Join(l.dir, key+recordExt)
}
