package engine

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	writeOK      = "ok"
	writeFailed  = "failed"
	writeSkipped = "skipped"
)

// Metrics collects projection telemetry in its own registry. One Metrics may
// be shared by several projections; series are labelled by projection name.
type Metrics struct {
	registry *prometheus.Registry

	folded          *prometheus.CounterVec
	skipped         *prometheus.CounterVec
	writes          *prometheus.CounterVec
	failures        *prometheus.CounterVec
	block           *prometheus.GaugeVec
	checkpointBlock *prometheus.GaugeVec
	subscribers     *prometheus.GaugeVec
	foldLatency     *prometheus.HistogramVec
}

// NewMetrics creates a collector under namespace (default "statefold").
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "statefold"
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.folded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fold",
			Name:      "events_total",
			Help:      "Events applied to the state, by phase",
		},
		[]string{"projection", "phase"},
	)

	m.skipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fold",
			Name:      "skipped_total",
			Help:      "Events skipped as already covered or duplicated",
		},
		[]string{"projection", "reason"},
	)

	m.writes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "writes_total",
			Help:      "Checkpoint writes, by result (ok, failed, skipped)",
		},
		[]string{"projection", "result"},
	)

	m.failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fold",
			Name:      "failures_total",
			Help:      "Fatal projection failures, by code",
		},
		[]string{"projection", "code"},
	)

	m.block = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fold",
			Name:      "block",
			Help:      "Highest block reflected in the in-memory state",
		},
		[]string{"projection"},
	)

	m.checkpointBlock = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "block",
			Help:      "Block of the last successfully written checkpoint",
		},
		[]string{"projection"},
	)

	m.subscribers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fold",
			Name:      "subscribers",
			Help:      "Current number of snapshot subscribers",
		},
		[]string{"projection"},
	)

	m.foldLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fold",
			Name:      "duration_seconds",
			Help:      "Time spent in the reducer and state encoding per event",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
		},
		[]string{"projection"},
	)

	m.registry.MustRegister(
		m.folded,
		m.skipped,
		m.writes,
		m.failures,
		m.block,
		m.checkpointBlock,
		m.subscribers,
		m.foldLatency,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// bind returns the series of one projection. A nil Metrics binds to nil,
// and every method on a nil *boundMetrics is a no-op.
func (m *Metrics) bind(name string) *boundMetrics {
	if m == nil {
		return nil
	}
	return &boundMetrics{m: m, name: name}
}

type boundMetrics struct {
	m    *Metrics
	name string
}

func (b *boundMetrics) recordFold(phase Phase, d time.Duration, block uint64) {
	if b == nil {
		return
	}
	b.m.folded.WithLabelValues(b.name, phase.String()).Inc()
	b.m.foldLatency.WithLabelValues(b.name).Observe(d.Seconds())
	b.m.block.WithLabelValues(b.name).Set(float64(block))
}

func (b *boundMetrics) recordSkip(reason string) {
	if b == nil {
		return
	}
	b.m.skipped.WithLabelValues(b.name, reason).Inc()
}

func (b *boundMetrics) recordWrite(result string) {
	if b == nil {
		return
	}
	b.m.writes.WithLabelValues(b.name, result).Inc()
}

func (b *boundMetrics) recordFailure(code FoldErrorCode) {
	if b == nil {
		return
	}
	b.m.failures.WithLabelValues(b.name, string(code)).Inc()
}

func (b *boundMetrics) setBlock(block uint64) {
	if b == nil {
		return
	}
	b.m.block.WithLabelValues(b.name).Set(float64(block))
}

func (b *boundMetrics) setCheckpointBlock(block uint64) {
	if b == nil {
		return
	}
	b.m.checkpointBlock.WithLabelValues(b.name).Set(float64(block))
}

func (b *boundMetrics) addSubscribers(delta int) {
	if b == nil {
		return
	}
	b.m.subscribers.WithLabelValues(b.name).Add(float64(delta))
}
