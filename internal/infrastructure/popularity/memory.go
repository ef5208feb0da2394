// Package popularity persists per-entity confirmation counts, the long-term
// signal behind the confidence fusion's popularity boost. The in-memory
// store is the default; the Redis store shares counts across instances and
// survives restarts.
package popularity

import (
	"context"
	"sync"

	"github.com/storyweave/lorekeeper/internal/engine/registry"
)

// MemoryStore is a process-local confirmation counter, safe for concurrent
// use.
type MemoryStore struct {
	mu     sync.RWMutex
	counts map[registry.EntityID]int64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[registry.EntityID]int64)}
}

// Confirmations returns the entity's accumulated confirmation count.
func (s *MemoryStore) Confirmations(_ context.Context, id registry.EntityID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[id], nil
}

// RecordConfirmation increments the entity's confirmation count.
func (s *MemoryStore) RecordConfirmation(_ context.Context, id registry.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[id]++
	return nil
}

// Forget drops the entity's count, for registry deletion cascades.
func (s *MemoryStore) Forget(id registry.EntityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counts, id)
}
