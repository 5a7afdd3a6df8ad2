// Package config loads the run configuration of the statefold command.
//
// A configuration is a YAML document checked against an embedded CUE schema,
// which also supplies defaults. Constraints that depend on more than one
// field (which backend needs which path) are checked in Go after decoding.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is a validated run configuration.
type Config struct {
	Name      string           `json:"name"`
	Reducer   string           `json:"reducer"`
	Cache     CacheConfig      `json:"cache"`
	Source    SourceConfig     `json:"source"`
	Externals []ExternalConfig `json:"externals"`
	Persist   PersistConfig    `json:"persist"`
	Events    EventsConfig     `json:"events"`
	Metrics   MetricsConfig    `json:"metrics"`
	Log       LogConfig        `json:"log"`
}

// CacheConfig selects where checkpoints are persisted.
type CacheConfig struct {
	Backend   string `json:"backend"`
	Namespace string `json:"namespace"`
	Path      string `json:"path,omitempty"`
	Addr      string `json:"addr,omitempty"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
}

// SourceConfig selects where events come from.
type SourceConfig struct {
	Kind    string `json:"kind"`
	Path    string `json:"path,omitempty"`
	URL     string `json:"url,omitempty"`
	Address string `json:"address,omitempty"`
}

// ExternalConfig is an additional contract whose events are merged into the
// projection.
type ExternalConfig struct {
	Address string   `json:"address"`
	Events  []string `json:"events"`
}

// PersistConfig tunes checkpoint writes.
type PersistConfig struct {
	Debounce     Duration `json:"debounce"`
	MaxWait      Duration `json:"maxWait"`
	WriteTimeout Duration `json:"writeTimeout"`
}

// EventsConfig is passed to live subscriptions.
type EventsConfig struct {
	FromBlock uint64         `json:"fromBlock"`
	Filter    map[string]any `json:"filter,omitempty"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `json:"addr"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates a YAML configuration and fills in defaults.
func Parse(data []byte) (*Config, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: yaml: %v", ErrInvalid, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}

	value := schema.Unify(ctx.Encode(doc))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, describe(err))
	}

	resolved, err := value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, describe(err))
	}
	var cfg Config
	if err := json.Unmarshal(resolved, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Cache.Backend {
	case "sqlite", "badger":
		if c.Cache.Path == "" {
			return fmt.Errorf("%w: cache.path is required for the %s backend", ErrInvalid, c.Cache.Backend)
		}
	case "redis":
		if c.Cache.Addr == "" {
			return fmt.Errorf("%w: cache.addr is required for the redis backend", ErrInvalid)
		}
	case "host":
		if c.Source.Kind != "rpc" {
			return fmt.Errorf("%w: the host cache needs an rpc source", ErrInvalid)
		}
	}

	switch c.Source.Kind {
	case "sqlite":
		if c.Source.Path == "" {
			return fmt.Errorf("%w: source.path is required for the sqlite source", ErrInvalid)
		}
	case "rpc":
		if c.Source.URL == "" {
			return fmt.Errorf("%w: source.url is required for the rpc source", ErrInvalid)
		}
	}
	return nil
}

// describe flattens CUE errors into one line per problem.
func describe(err error) string {
	var lines []string
	for _, e := range cueerrors.Errors(err) {
		lines = append(lines, e.Error())
	}
	if len(lines) == 0 {
		return err.Error()
	}
	return strings.Join(lines, "; ")
}
