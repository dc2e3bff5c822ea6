// Package store holds the in-memory action ledger: one record per request
// identifier, replaced on every lifecycle transition.
package store

import (
	"sync"

	"github.com/google/uuid"

	"github.com/madaxer/devopsAgent/pkg/contracts"
)

// ActionStore is a concurrent map from request identifier to its latest record.
// Records are never evicted for the lifetime of the process.
type ActionStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]contracts.ActionRecord
}

// NewActionStore creates an empty store.
func NewActionStore() *ActionStore {
	return &ActionStore{
		items: make(map[uuid.UUID]contracts.ActionRecord),
	}
}

// Upsert replaces any existing record for the same identifier (last write wins).
func (s *ActionStore) Upsert(record contracts.ActionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[record.RequestID] = record
}

// Get returns the current record for id.
func (s *ActionStore) Get(id uuid.UUID) (contracts.ActionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.items[id]
	return rec, ok
}

// Reserve inserts record only if its identifier is unknown. When a record
// already exists it is returned unchanged with reserved=false.
func (s *ActionStore) Reserve(record contracts.ActionRecord) (existing contracts.ActionRecord, reserved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, exists := s.items[record.RequestID]; exists {
		return cur, false
	}
	s.items[record.RequestID] = record
	return record, true
}

// Len returns the number of tracked identifiers.
func (s *ActionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Counts returns the number of records per status.
func (s *ActionStore) Counts() map[contracts.ActionStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[contracts.ActionStatus]int)
	for _, rec := range s.items {
		counts[rec.Status]++
	}
	return counts
}
