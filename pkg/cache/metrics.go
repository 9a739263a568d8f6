package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the cache's Prometheus collectors, constructor-injected
// and explicitly registered rather than the teacher's promauto globals,
// so the orchestrator (C9) controls the registry lifetime.
type Metrics struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	errors    *prometheus.CounterVec
	evictions *prometheus.CounterVec
	size      *prometheus.GaugeVec
	latency   *prometheus.HistogramVec
	coalesced prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total", Help: "Cache hits by tier",
		}, []string{"tier"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total", Help: "Cache misses by tier",
		}, []string{"tier"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "errors_total", Help: "Cache tier errors",
		}, []string{"tier"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "evictions_total", Help: "Cache evictions by tier",
		}, []string{"tier"}),
		size: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: "size_entries", Help: "Current entry count by tier",
		}, []string{"tier"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "cache", Name: "operation_duration_seconds",
			Help:    "Cache operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"tier", "operation"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "stampede_coalesced_total",
			Help: "Concurrent misses for the same key coalesced into a single upstream load",
		}),
	}
	reg.MustRegister(m.hits, m.misses, m.errors, m.evictions, m.size, m.latency, m.coalesced)
	return m
}
