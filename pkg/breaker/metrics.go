package breaker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by every Breaker in a
// process, labeled by breaker name so one registration covers all
// adapters instead of the teacher's one-breaker-per-namespace singleton.
type Metrics struct {
	state            *prometheus.GaugeVec
	failures         *prometheus.CounterVec
	successes        *prometheus.CounterVec
	stateChanges     *prometheus.CounterVec
	requestsBlocked  *prometheus.CounterVec
	halfOpenRequests *prometheus.CounterVec
	slowCalls        *prometheus.CounterVec
	callDuration     *prometheus.HistogramVec
}

// NewMetrics constructs breaker metrics and registers them against reg.
// Call once per process and share the result across every Breaker
// instance; registration is explicit rather than promauto's implicit
// global registry, so tests can use their own prometheus.Registry.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "circuit_breaker", Name: "state",
			Help: "Current breaker state (0=closed, 1=open, 2=half_open)",
		}, []string{"breaker"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "circuit_breaker", Name: "failures_total",
			Help: "Total failed calls through the breaker",
		}, []string{"breaker"}),
		successes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "circuit_breaker", Name: "successes_total",
			Help: "Total successful calls through the breaker",
		}, []string{"breaker"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "circuit_breaker", Name: "state_changes_total",
			Help: "Total breaker state transitions",
		}, []string{"breaker", "from", "to"}),
		requestsBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "circuit_breaker", Name: "requests_blocked_total",
			Help: "Requests failed fast because the breaker was open",
		}, []string{"breaker"}),
		halfOpenRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "circuit_breaker", Name: "half_open_requests_total",
			Help: "Test requests allowed through while half-open",
		}, []string{"breaker"}),
		slowCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "circuit_breaker", Name: "slow_calls_total",
			Help: "Calls exceeding the slow-call threshold",
		}, []string{"breaker"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "circuit_breaker", Name: "call_duration_seconds",
			Help:    "Duration of calls made through the breaker",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"breaker", "result"}),
	}
	reg.MustRegister(m.state, m.failures, m.successes, m.stateChanges,
		m.requestsBlocked, m.halfOpenRequests, m.slowCalls, m.callDuration)
	return m
}

func (m *Metrics) setState(name string, s State) {
	m.state.WithLabelValues(name).Set(float64(s))
}

func (m *Metrics) blocked(name string) {
	m.requestsBlocked.WithLabelValues(name).Inc()
}

func (m *Metrics) halfOpenRequest(name string) {
	m.halfOpenRequests.WithLabelValues(name).Inc()
}

func (m *Metrics) success(name string, d time.Duration) {
	m.successes.WithLabelValues(name).Inc()
	m.callDuration.WithLabelValues(name, "success").Observe(d.Seconds())
}

func (m *Metrics) failure(name string, d time.Duration, slow bool) {
	m.failures.WithLabelValues(name).Inc()
	if slow {
		m.slowCalls.WithLabelValues(name).Inc()
	}
	m.callDuration.WithLabelValues(name, "failure").Observe(d.Seconds())
}

func (m *Metrics) stateChange(name string, from, to State) {
	m.stateChanges.WithLabelValues(name, from.String(), to.String()).Inc()
	m.setState(name, to)
}
