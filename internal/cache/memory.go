package cache

import (
	"context"
	"sort"
	"sync"

	"github.com/wonny/marketdata/internal/provider"
)

// MemoryStore keeps entries in process memory.
// Stored entries are never mutated; Put swaps in a fresh copy.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key]*Entry)}
}

// Get returns a copy of the entry for key
func (s *MemoryStore) Get(ctx context.Context, key Key) (*Entry, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return entry.Clone(), nil
}

// Put stores a copy of entry unless it would regress coverage
func (s *MemoryStore) Put(ctx context.Context, entry *Entry) error {
	next := entry.Clone()
	if err := next.normalize(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.entries[next.Key]; ok && current.AsOf.After(next.AsOf) {
		return ErrCoverageRegression
	}
	s.entries[next.Key] = next
	return nil
}

// List returns every provider's entry for symbol, sorted by provider
func (s *MemoryStore) List(ctx context.Context, symbol string, granularity provider.Granularity) ([]*Entry, error) {
	s.mu.RLock()
	var out []*Entry
	for key, entry := range s.entries {
		if key.Symbol == symbol && key.Granularity == granularity {
			out = append(out, entry.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Provider < out[j].Key.Provider
	})
	return out, nil
}

// Len returns the number of keys held
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
