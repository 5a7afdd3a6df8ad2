package engine

import (
	"log/slog"
	"time"
)

// Defaults applied by Open.
const (
	DefaultCacheKey         = "state"
	DefaultDebounce         = time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultSubscriberBuffer = 16
)

type options struct {
	name             string
	cacheKey         string
	debounce         time.Duration
	maxWait          time.Duration
	writeTimeout     time.Duration
	externals        []EventSource
	eventOptions     EventOptions
	codec            any
	logger           *slog.Logger
	metrics          *Metrics
	subscriberBuffer int
}

func defaultOptions() *options {
	return &options{
		name:             "default",
		cacheKey:         DefaultCacheKey,
		debounce:         DefaultDebounce,
		writeTimeout:     DefaultWriteTimeout,
		logger:           slog.Default(),
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Option configures a projection.
type Option func(*options)

// WithName labels the projection in logs and metrics.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithCacheKey sets the cache key the checkpoint is stored under.
//
// Default: "state"
func WithCacheKey(key string) Option {
	return func(o *options) {
		o.cacheKey = key
	}
}

// WithDebounce sets the quiet period before a pending checkpoint is written.
// Zero writes after every fold.
//
// Default: 1s
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		o.debounce = d
	}
}

// WithMaxWait bounds how long a continuous burst may postpone a checkpoint
// write. Zero disables the bound.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) {
		o.maxWait = d
	}
}

// WithWriteTimeout bounds each checkpoint write.
//
// Default: 10s
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// WithExternals merges additional event sources into the fold.
func WithExternals(sources ...EventSource) Option {
	return func(o *options) {
		o.externals = append(o.externals, sources...)
	}
}

// WithEventOptions configures the live subscriptions.
func WithEventOptions(opts EventOptions) Option {
	return func(o *options) {
		o.eventOptions = opts
	}
}

// WithCodec replaces the JSON state codec. The codec's type parameter must
// match the projection's state type.
func WithCodec[S any](c Codec[S]) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithLogger sets the logger.
//
// Default: slog.Default()
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records projection telemetry in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithSubscriberBuffer sets how many snapshots a slow subscriber may lag
// behind before the oldest undelivered one is dropped.
//
// Default: 16
func WithSubscriberBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.subscriberBuffer = n
		}
	}
}
