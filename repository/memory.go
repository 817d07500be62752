package repository

import (
	"context"
	"sync"
)

// MemoryStore is the default in-process check store. Records live for the
// lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Create persists a new record.
func (s *MemoryStore) Create(_ context.Context, rec Record) error {
	if rec.ID == "" {
		return ErrInvalidRecord
	}
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

// Count returns the total number of recorded checks.
func (s *MemoryStore) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

// Recent returns up to limit records, most recent first.
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	out := make([]Record, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

// Close is a no-op for the in-process store.
func (s *MemoryStore) Close() error {
	return nil
}
