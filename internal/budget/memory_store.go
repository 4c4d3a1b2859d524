package budget

import (
	"context"
	"sync"
)

type counterKey struct {
	provider string
	day      string
}

// MemoryStore keeps counters in process memory. Counts are lost on restart.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[counterKey]int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[counterKey]int)}
}

// Reserve increments the counter if it is below limit
func (s *MemoryStore) Reserve(ctx context.Context, provider, day string, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey{provider, day}
	if s.counts[key] >= limit {
		return false, nil
	}
	s.counts[key]++
	return true, nil
}

// Release decrements the counter, never below zero
func (s *MemoryStore) Release(ctx context.Context, provider, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey{provider, day}
	if s.counts[key] > 0 {
		s.counts[key]--
	}
	return nil
}

// Used returns the current count
func (s *MemoryStore) Used(ctx context.Context, provider, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[counterKey{provider, day}], nil
}
