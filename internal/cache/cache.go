// Package cache defines the key/value port that checkpoints are persisted
// through, plus the in-memory backend and key namespacing shared by every
// backend.
package cache

import (
	"context"
	"errors"
)

var (
	// ErrInvalidKey is returned when a key is invalid (e.g., empty).
	ErrInvalidKey = errors.New("invalid cache key")

	// ErrConnectionFailed is returned when connection to the cache backend fails.
	ErrConnectionFailed = errors.New("cache connection failed")

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("cache closed")
)

// Cache is an asynchronous key/value store of opaque bytes.
//
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the value for key. found is false when the key has never
	// been written.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Observe streams the value of key: the current value first (if any),
	// then every subsequent update. Slow readers only see the latest value.
	// The channel is closed when ctx is done or the cache is closed.
	Observe(ctx context.Context, key string) (<-chan []byte, error)
}

func validKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}
