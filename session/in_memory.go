package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// InMemoryStore is a volatile Store keeping records in a process local map.
// It is safe for concurrent access and best suited for tests or ephemeral
// demo servers. Records are cloned on the way in and out to prevent external
// mutation of internal state.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*Record)}
}

// Save implements Store.
func (s *InMemoryStore) Save(_ context.Context, r *Record) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("save session: record without id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := r.Clone()
	c.Updated = time.Now().UTC()
	if old, ok := s.records[r.ID]; ok {
		c.Created = old.Created
	} else if c.Created.IsZero() {
		c.Created = c.Updated
	}
	s.records[r.ID] = c
	return nil
}

// Get implements Store.
func (s *InMemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.Clone(), nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.records, id)
	return nil
}

// List implements Store.
func (s *InMemoryStore) List(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
