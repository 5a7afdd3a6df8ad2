package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/statefold/internal/cache"
)

var _ cache.Cache = (*Store)(nil)

// Get implements cache.Cache.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, cache.ErrInvalidKey
	}
	value, _, found, err := s.getVersioned(ctx, key)
	return value, found, err
}

func (s *Store) getVersioned(ctx context.Context, key string) ([]byte, int64, bool, error) {
	var value []byte
	var version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT value, version FROM kv WHERE key = ?
	`, key).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, version, true, nil
}

// Set implements cache.Cache. Each write bumps the key's version.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return cache.ErrInvalidKey
	}
	if value == nil {
		value = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, version, updated_at)
		VALUES (?, ?, 1, unixepoch())
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			version = kv.version + 1,
			updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}

	s.notify()
	return nil
}

// Observe implements cache.Cache. Writes from this process are delivered
// immediately; writes from other processes are picked up by polling the
// key's version.
func (s *Store) Observe(ctx context.Context, key string) (<-chan []byte, error) {
	if key == "" {
		return nil, cache.ErrInvalidKey
	}
	select {
	case <-s.closed:
		return nil, cache.ErrClosed
	default:
	}

	changed := s.changes()
	value, version, found, err := s.getVersioned(ctx, key)
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, 1)
	if found {
		cache.Deliver(out, value)
	}

	go func() {
		defer close(out)
		for {
			if !s.wait(ctx, changed) {
				return
			}
			changed = s.changes()

			v, ver, ok, err := s.getVersioned(ctx, key)
			if err != nil {
				if ctx.Err() != nil || s.isClosed() {
					return
				}
				s.logger.Warn("observe poll failed", "key", key, "error", err)
				continue
			}
			if ok && ver != version {
				version = ver
				cache.Deliver(out, v)
			}
		}
	}()

	return out, nil
}

func (s *Store) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
