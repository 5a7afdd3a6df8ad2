package testutil

import (
	"context"
	"sync"

	"github.com/roach88/statefold/internal/cache"
)

// Write is one Set call observed by Cache.
type Write struct {
	Key   string
	Value []byte
	Err   error
}

// Cache is a cache.Cache backed by cache.Memory that records every Set and
// can be told to fail reads or writes.
type Cache struct {
	mem *cache.Memory

	mu      sync.Mutex
	getErr  error
	setErr  error
	writes  []Write
	written chan Write
}

var _ cache.Cache = (*Cache)(nil)

// NewCache creates an empty recording cache.
func NewCache() *Cache {
	return &Cache{
		mem:     cache.NewMemory(),
		written: make(chan Write, 256),
	}
}

// Seed stores value without recording a write.
func (c *Cache) Seed(key string, value []byte) {
	_ = c.mem.Set(context.Background(), key, value)
}

// FailGet makes Get return err.
func (c *Cache) FailGet(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getErr = err
}

// FailSet makes Set return err. Failed attempts are still recorded.
func (c *Cache) FailSet(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setErr = err
}

// Get implements cache.Cache.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	err := c.getErr
	c.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	return c.mem.Get(ctx, key)
}

// Set implements cache.Cache.
func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	err := c.setErr
	w := Write{Key: key, Value: append([]byte(nil), value...), Err: err}
	c.writes = append(c.writes, w)
	c.mu.Unlock()

	select {
	case c.written <- w:
	default:
	}

	if err != nil {
		return err
	}
	return c.mem.Set(ctx, key, value)
}

// Observe implements cache.Cache.
func (c *Cache) Observe(ctx context.Context, key string) (<-chan []byte, error) {
	return c.mem.Observe(ctx, key)
}

// Writes returns every Set call so far.
func (c *Cache) Writes() []Write {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Write(nil), c.writes...)
}

// Written delivers each Set call as it happens.
func (c *Cache) Written() <-chan Write {
	return c.written
}

// Close releases the underlying memory cache.
func (c *Cache) Close() error {
	return c.mem.Close()
}
