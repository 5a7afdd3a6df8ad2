package cache

import "context"

// Key returns the namespaced form of key for app: "app:<app>:<key>".
func Key(app, key string) string {
	return "app:" + app + ":" + key
}

type namespaced struct {
	inner Cache
	app   string
}

// Namespace scopes every key of c to a single application, so several
// applications can share one backend.
func Namespace(c Cache, app string) Cache {
	if app == "" {
		return c
	}
	return &namespaced{inner: c, app: app}
}

func (n *namespaced) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := validKey(key); err != nil {
		return nil, false, err
	}
	return n.inner.Get(ctx, Key(n.app, key))
}

func (n *namespaced) Set(ctx context.Context, key string, value []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	return n.inner.Set(ctx, Key(n.app, key), value)
}

func (n *namespaced) Observe(ctx context.Context, key string) (<-chan []byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	return n.inner.Observe(ctx, Key(n.app, key))
}
