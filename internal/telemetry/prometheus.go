package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusConfig configures the Prometheus-backed Metrics implementation.
type PrometheusConfig struct {
	// Namespace is the metrics namespace (default: "netcode").
	Namespace string
	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels
	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// NewPrometheusMetrics returns a Metrics implementation that materializes
// Add keys as counters and Store keys as gauges, created lazily per key.
func NewPrometheusMetrics(cfg PrometheusConfig) Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "netcode"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	return &promMetrics{
		cfg:      cfg,
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
	}
}

type promMetrics struct {
	cfg PrometheusConfig

	mu       sync.Mutex
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

func (m *promMetrics) Add(key string, delta uint64) {
	if m == nil || key == "" {
		return
	}
	m.counter(key).Add(float64(delta))
}

func (m *promMetrics) Store(key string, value uint64) {
	if m == nil || key == "" {
		return
	}
	m.gauge(key).Set(float64(value))
}

func (m *promMetrics) counter(key string) prometheus.Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[key]; ok {
		return c
	}
	c := promauto.With(m.cfg.Registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.cfg.Namespace,
		Name:        key,
		Help:        "netcode counter " + key,
		ConstLabels: m.cfg.ConstLabels,
	})
	m.counters[key] = c
	return c
}

func (m *promMetrics) gauge(key string) prometheus.Gauge {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.gauges[key]; ok {
		return g
	}
	g := promauto.With(m.cfg.Registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.cfg.Namespace,
		Name:        key,
		Help:        "netcode gauge " + key,
		ConstLabels: m.cfg.ConstLabels,
	})
	m.gauges[key] = g
	return g
}
