package session

import (
	"context"
	"sync"
)

// MemoryStore keeps artifacts in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Artifact
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Artifact)}
}

func (m *MemoryStore) Save(_ context.Context, key string, a Artifact) error {
	m.mu.Lock()
	m.items[key] = a.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(_ context.Context, key string) (Artifact, error) {
	m.mu.RLock()
	a, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return Artifact{}, ErrNotFound
	}
	return a.Clone(), nil
}
