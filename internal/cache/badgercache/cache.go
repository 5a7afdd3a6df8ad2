package badgercache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/statefold/internal/cache"
)

// Cache is a BadgerDB-backed implementation of cache.Cache.
//
// Badger takes an exclusive lock on its directory, so every writer lives in
// this process and observers are served from an in-process hub.
type Cache struct {
	db        *badger.DB
	keyPrefix string
	hub       *cache.Hub

	// mu orders Set against Observe so observers never see an older value
	// after a newer one.
	mu sync.Mutex

	gcStop chan struct{}
	gcWg   sync.WaitGroup
}

// New opens a BadgerDB cache with the given configuration.
func New(cfg Config, opts ...Option) (*Cache, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		db:        db,
		keyPrefix: cfg.KeyPrefix,
		hub:       cache.NewHub(),
		gcStop:    make(chan struct{}),
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		c.startGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return c, nil
}

func (c *Cache) startGC(interval time.Duration, discardRatio float64) {
	c.gcWg.Add(1)
	go func() {
		defer c.gcWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.gcStop:
				return
			case <-ticker.C:
				for c.db.RunValueLogGC(discardRatio) == nil {
				}
			}
		}
	}()
}

func (c *Cache) prefixKey(key string) []byte {
	return []byte(c.keyPrefix + "cache:" + key)
}

// Get retrieves a value from the cache.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.prefixKey(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set stores a value in the cache and notifies observers.
func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return cache.ErrInvalidKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(c.prefixKey(key), value))
	})
	if err != nil {
		return err
	}

	c.hub.Publish(key, append([]byte(nil), value...))
	return nil
}

// Observe streams the value of key.
func (c *Cache) Observe(ctx context.Context, key string) (<-chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, cache.ErrInvalidKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current, found, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return c.hub.Watch(ctx, key, current, found), nil
}

// Close stops GC, releases observers and closes the database.
func (c *Cache) Close() error {
	close(c.gcStop)
	c.gcWg.Wait()
	c.hub.Close()
	return c.db.Close()
}

// DB returns the underlying BadgerDB database.
func (c *Cache) DB() *badger.DB {
	return c.db
}

var _ cache.Cache = (*Cache)(nil)
