package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sessiongate"

// Metrics owns a private registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	liveSessions   prometheus.Gauge
	capacity       prometheus.Gauge
	admissions     *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	teardowns      *prometheus.CounterVec
	evictions      prometheus.Counter
	messagesSent   *prometheus.CounterVec
	resumeDeferred prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Number of sessions currently held in the registry.",
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_capacity",
			Help:      "Configured maximum number of concurrent sessions.",
		}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Session creation attempts by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Session status transitions by target status.",
		}, []string{"status"}),
		teardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardowns_total",
			Help:      "Completed session teardowns by cause.",
		}, []string{"cause"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_evictions_total",
			Help:      "Sessions evicted by the idle sweeper.",
		}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound send attempts by result.",
		}, []string{"result"}),
		resumeDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resume_deferred_total",
			Help:      "Implicit session creations deferred by resume backoff.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.liveSessions,
		m.capacity,
		m.admissions,
		m.transitions,
		m.teardowns,
		m.evictions,
		m.messagesSent,
		m.resumeDeferred,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetLiveSessions(n int) {
	if m != nil {
		m.liveSessions.Set(float64(n))
	}
}

func (m *Metrics) SetCapacity(n int) {
	if m != nil {
		m.capacity.Set(float64(n))
	}
}

func (m *Metrics) Admission(outcome string) {
	if m != nil {
		m.admissions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Transition(status string) {
	if m != nil {
		m.transitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) Teardown(cause string) {
	if m != nil {
		m.teardowns.WithLabelValues(cause).Inc()
	}
}

func (m *Metrics) Eviction() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *Metrics) MessageSent(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.messagesSent.WithLabelValues(result).Inc()
}

func (m *Metrics) ResumeDeferred() {
	if m != nil {
		m.resumeDeferred.Inc()
	}
}
