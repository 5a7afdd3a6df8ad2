// Package badgercache provides an embedded BadgerDB-backed cache.Cache.
package badgercache

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/statefold/internal/cache"
)

// Config configures BadgerDB storage.
type Config struct {
	// Dir is the directory to store data in.
	Dir string

	// InMemory uses in-memory storage (useful for testing).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// GCInterval is the interval between value log GC runs. Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the discard ratio for GC.
	GCDiscardRatio float64

	// KeyPrefix is added to all keys.
	KeyPrefix string

	// Logger receives badger's internal log lines. Nil silences them.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// Option configures BadgerDB storage.
type Option func(*Config)

// WithDir sets the data directory.
func WithDir(dir string) Option {
	return func(c *Config) {
		c.Dir = dir
	}
}

// WithInMemory enables in-memory storage.
func WithInMemory() Option {
	return func(c *Config) {
		c.InMemory = true
	}
}

// WithKeyPrefix sets the key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) {
		c.KeyPrefix = prefix
	}
}

// WithLogger routes badger logs to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

func openDB(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("badger: Dir is required unless InMemory is set")
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(slogAdapter{cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Join(cache.ErrConnectionFailed, err)
	}
	return db, nil
}

// slogAdapter implements badger.Logger on top of slog.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Errorf(format string, args ...any) {
	a.l.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (a slogAdapter) Warningf(format string, args ...any) {
	a.l.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (a slogAdapter) Infof(format string, args ...any) {
	a.l.Info(fmt.Sprintf(format, args...), "component", "badger")
}

func (a slogAdapter) Debugf(format string, args ...any) {
	a.l.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
