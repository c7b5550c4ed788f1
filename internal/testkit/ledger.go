package testkit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"bellstat/domain/core"
	"bellstat/domain/run"
	"bellstat/ports"
)

var _ ports.LedgerPort = (*InMemoryLedger)(nil)

// InMemoryLedger implements LedgerPort with in-memory storage
type InMemoryLedger struct {
	records map[string]*run.Record
	mu      sync.RWMutex
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{records: make(map[string]*run.Record)}
}

func (s *InMemoryLedger) SaveRecord(ctx context.Context, record *run.Record) error {
	if err := record.Descriptor.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Descriptor.Key()] = record
	return nil
}

func (s *InMemoryLedger) ListKeys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *InMemoryLedger) GetRecord(ctx context.Context, key string) (*run.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, key)
	}
	return r, nil
}

// Len returns the number of stored records
func (s *InMemoryLedger) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
