package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Full(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "full.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "counter", cfg.Name)
	assert.Equal(t, "counter", cfg.Reducer)
	assert.Equal(t, CacheConfig{Backend: "sqlite", Namespace: "counter", Path: "/var/lib/statefold/cache.db"}, cfg.Cache)
	assert.Equal(t, SourceConfig{Kind: "sqlite", Path: "/var/lib/statefold/chain.db", Address: "0xapp"}, cfg.Source)
	assert.Equal(t, []ExternalConfig{{Address: "0xtoken", Events: []string{"Add", "Subtract"}}}, cfg.Externals)

	assert.Equal(t, 250*time.Millisecond, cfg.Persist.Debounce.Std())
	assert.Equal(t, 5*time.Second, cfg.Persist.MaxWait.Std())
	assert.Equal(t, 10*time.Second, cfg.Persist.WriteTimeout.Std(), "default write timeout")

	assert.Equal(t, uint64(10), cfg.Events.FromBlock)
	assert.Equal(t, map[string]any{"to": "0xbob"}, cfg.Events.Filter)
	assert.Equal(t, ":9102", cfg.Metrics.Addr)
	assert.Equal(t, LogConfig{Level: "debug", Format: "json"}, cfg.Log)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("reducer: tally\nsource:\n  path: chain.db\n"))
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Name)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "sqlite", cfg.Source.Kind)
	assert.Empty(t, cfg.Externals)
	assert.Equal(t, time.Second, cfg.Persist.Debounce.Std())
	assert.Equal(t, time.Duration(0), cfg.Persist.MaxWait.Std())
	assert.Equal(t, uint64(0), cfg.Events.FromBlock)
	assert.Nil(t, cfg.Events.Filter)
	assert.Equal(t, LogConfig{Level: "info", Format: "text"}, cfg.Log)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing reducer", "source:\n  path: chain.db\n"},
		{"unknown field", "reducer: counter\nsource:\n  path: chain.db\nbogus: 1\n"},
		{"bad backend", "reducer: counter\ncache:\n  backend: etcd\nsource:\n  path: chain.db\n"},
		{"bad duration", "reducer: counter\nsource:\n  path: chain.db\npersist:\n  debounce: soon\n"},
		{"negative block", "reducer: counter\nsource:\n  path: chain.db\nevents:\n  fromBlock: -1\n"},
		{"bad name", "name: Counter App\nreducer: counter\nsource:\n  path: chain.db\n"},
		{"bad log level", "reducer: counter\nsource:\n  path: chain.db\nlog:\n  level: loud\n"},
		{"sqlite cache without path", "reducer: counter\ncache:\n  backend: sqlite\nsource:\n  path: chain.db\n"},
		{"badger cache without path", "reducer: counter\ncache:\n  backend: badger\nsource:\n  path: chain.db\n"},
		{"redis without addr", "reducer: counter\ncache:\n  backend: redis\nsource:\n  path: chain.db\n"},
		{"host cache on sqlite source", "reducer: counter\ncache:\n  backend: host\nsource:\n  path: chain.db\n"},
		{"sqlite source without path", "reducer: counter\n"},
		{"rpc source without url", "reducer: counter\nsource:\n  kind: rpc\n"},
		{"external without address", "reducer: counter\nsource:\n  path: chain.db\nexternals:\n  - events: [Add]\n"},
		{"not yaml", "reducer: [counter\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParse_RPC(t *testing.T) {
	cfg, err := Parse([]byte(`
reducer: counter
cache:
  backend: host
source:
  kind: rpc
  url: ws://localhost:8545/app
`))
	require.NoError(t, err)
	assert.Equal(t, "host", cfg.Cache.Backend)
	assert.Equal(t, "ws://localhost:8545/app", cfg.Source.URL)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
