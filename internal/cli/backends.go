package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/statefold/internal/app"
	"github.com/roach88/statefold/internal/cache"
	"github.com/roach88/statefold/internal/cache/badgercache"
	"github.com/roach88/statefold/internal/cache/rediscache"
	"github.com/roach88/statefold/internal/config"
	"github.com/roach88/statefold/internal/engine"
	"github.com/roach88/statefold/internal/rpc"
	"github.com/roach88/statefold/internal/store"
)

// backends holds everything a configured projection runs on and the
// resources to release when it stops.
type backends struct {
	deps      engine.Deps
	externals []engine.EventSource
	closers   []io.Closer
}

// Close releases resources in reverse order of acquisition.
func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// openBackends connects the source, externals and cache named by cfg.
func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	var (
		chain *store.Store
		proxy *app.Proxy
	)

	switch cfg.Source.Kind {
	case "sqlite":
		st, err := store.Open(cfg.Source.Path, store.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open event log: %w", err)
		}
		b.closers = append(b.closers, st)
		chain = st

		src := st.Source(store.WithAddress(cfg.Source.Address))
		b.deps.Events, b.deps.Height = src, src
		for _, ext := range cfg.Externals {
			b.externals = append(b.externals, st.Source(store.WithAddress(ext.Address)))
		}

	case "rpc":
		client, err := rpc.Dial(ctx, cfg.Source.URL, rpc.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("connect to host: %w", err)
		}
		b.closers = append(b.closers, client)
		proxy = app.NewProxy(client, app.WithLogger(logger))

		b.deps.Events, b.deps.Height = proxy, proxy
		for _, ext := range cfg.Externals {
			b.externals = append(b.externals, proxy.External(ext.Address, eventABI(ext.Events)))
		}

	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}

	c, err := b.openCache(cfg, chain, proxy, logger)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.deps.Cache = cache.Namespace(c, cfg.Cache.Namespace)
	return b, nil
}

func (b *backends) openCache(cfg *config.Config, chain *store.Store, proxy *app.Proxy, logger *slog.Logger) (cache.Cache, error) {
	cc := cfg.Cache

	switch cc.Backend {
	case "memory":
		mem := cache.NewMemory()
		b.closers = append(b.closers, mem)
		return mem, nil

	case "sqlite":
		// The event log and the cache may share one database file.
		if chain != nil && cfg.Source.Path == cc.Path {
			return chain, nil
		}
		st, err := store.Open(cc.Path, store.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open cache database: %w", err)
		}
		b.closers = append(b.closers, st)
		return st, nil

	case "redis":
		rc, err := rediscache.New(rediscache.DefaultConfig(),
			rediscache.WithAddress(cc.Addr),
			rediscache.WithPassword(cc.Password),
			rediscache.WithDB(cc.DB),
		)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		b.closers = append(b.closers, rc)
		return rc, nil

	case "badger":
		bc, err := badgercache.New(badgercache.DefaultConfig(),
			badgercache.WithDir(cc.Path),
			badgercache.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("open badger cache: %w", err)
		}
		b.closers = append(b.closers, bc)
		return bc, nil

	case "host":
		if proxy == nil {
			return nil, errors.New("the host cache needs an rpc source")
		}
		return proxy.Cache(), nil

	default:
		return nil, fmt.Errorf("unknown cache backend %q", cc.Backend)
	}
}

// eventABI describes a contract that only emits the named events.
func eventABI(names []string) []app.ABIEntry {
	abi := make([]app.ABIEntry, 0, len(names))
	for _, name := range names {
		abi = append(abi, app.ABIEntry{Type: "event", Name: name})
	}
	return abi
}
