package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/statefold/internal/cache"
	"github.com/roach88/statefold/internal/rpc"
)

// Cache is the host's per-application cache. The host scopes keys to the
// application, so no namespace is added here.
//
// Values cross the wire as JSON, so Set rejects bytes that are not valid
// JSON and a stored null reads as absent.
type Cache struct {
	rpc rpc.Messenger
}

var _ cache.Cache = (*Cache)(nil)

// Get implements cache.Cache.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, cache.ErrInvalidKey
	}
	raw, err := c.rpc.SendAndObserveResponse(ctx, "cache", "get", key)
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if isNull(raw) {
		return nil, false, nil
	}
	return raw, true, nil
}

// Set implements cache.Cache.
func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return cache.ErrInvalidKey
	}
	if !json.Valid(value) {
		return fmt.Errorf("cache set %s: value is not JSON", key)
	}
	if _, err := c.rpc.SendAndObserveResponse(ctx, "cache", "set", key, json.RawMessage(value)); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Observe implements cache.Cache. A slow reader only sees the latest value.
func (c *Cache) Observe(ctx context.Context, key string) (<-chan []byte, error) {
	if key == "" {
		return nil, cache.ErrInvalidKey
	}

	results, _ := c.rpc.SendAndObserveResponses(ctx, "cache", "observe", key)
	out := make(chan []byte, 1)
	go func() {
		defer close(out)
		for raw := range results {
			if isNull(raw) {
				continue
			}
			cache.Deliver(out, raw)
		}
	}()
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
