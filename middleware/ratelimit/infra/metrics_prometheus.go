package infra

import (
	"sync/atomic"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "admission"

// PrometheusMetrics exporta os eventos do núcleo de admissão.
type PrometheusMetrics struct {
	decisions  *prometheus.CounterVec
	sweeps     prometheus.Counter
	evicted    prometheus.Counter
	skipped    prometheus.Counter
	admissions *prometheus.CounterVec
	active     prometheus.GaugeFunc
	state      prometheus.Gauge

	activeFn atomic.Pointer[func() int64]
}

var _ domain.MetricsRecorder = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics cria e registra os coletores em reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limit decisions by outcome.",
		}, []string{"outcome"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ratelimit",
			Name:      "sweeps_total",
			Help:      "Evictor sweeps run.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ratelimit",
			Name:      "evicted_buckets_total",
			Help:      "Idle buckets removed by the evictor.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ratelimit",
			Name:      "skipped_shards_total",
			Help:      "Shards skipped by the evictor because they were busy.",
		}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "acceptor",
			Name:      "admissions_total",
			Help:      "Connection admission attempts by outcome.",
		}, []string{"outcome"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "acceptor",
			Name:      "state",
			Help:      "Acceptor state: 0 listening, 1 draining, 2 closed.",
		}),
	}

	m.active = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "acceptor",
		Name:      "active_connections",
		Help:      "Connections currently holding a slot.",
	}, m.activeConnections)

	reg.MustRegister(m.decisions, m.sweeps, m.evicted, m.skipped, m.admissions, m.active, m.state)
	return m
}

func (m *PrometheusMetrics) ObserveDecision(allowed bool) {
	if allowed {
		m.decisions.WithLabelValues("allowed").Inc()
		return
	}
	m.decisions.WithLabelValues("denied").Inc()
}

func (m *PrometheusMetrics) ObserveSweep(evicted, skippedShards int) {
	m.sweeps.Inc()
	m.evicted.Add(float64(evicted))
	m.skipped.Add(float64(skippedShards))
}

func (m *PrometheusMetrics) ObserveAdmission(outcome string) {
	m.admissions.WithLabelValues(outcome).Inc()
}

// TrackActiveConnections liga o gauge ao contador do acceptor. A última
// chamada vence.
func (m *PrometheusMetrics) TrackActiveConnections(active func() int64) {
	if active != nil {
		m.activeFn.Store(&active)
	}
}

func (m *PrometheusMetrics) activeConnections() float64 {
	fn := m.activeFn.Load()
	if fn == nil {
		return 0
	}
	return float64((*fn)())
}

func (m *PrometheusMetrics) SetAcceptorState(s domain.AcceptorState) { m.state.Set(float64(s)) }
