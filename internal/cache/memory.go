package cache

import (
	"context"
	"sync"
)

// Memory is an in-process Cache. Values are copied on the way in and out.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]byte
	hub     *Hub
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string][]byte),
		hub:     NewHub(),
	}
}

// Get retrieves a value from the cache.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

// Set stores a value in the cache.
func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validKey(key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = clone(value)
	m.hub.Publish(key, clone(value))
	return nil
}

// Observe streams the value of key.
func (m *Memory) Observe(ctx context.Context, key string) (<-chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validKey(key); err != nil {
		return nil, err
	}

	// Holding the read lock across Watch keeps a concurrent Set from landing
	// between the snapshot and the registration.
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.entries[key]
	return m.hub.Watch(ctx, key, clone(v), ok), nil
}

// Close releases all observers.
func (m *Memory) Close() error {
	m.hub.Close()
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var _ Cache = (*Memory)(nil)
