// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clubs"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeRefused = "refused"
	OutcomeError   = "error"
)

// Metrics groups the service collectors. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	logins        *prometheus.CounterVec
	registrations *prometheus.CounterVec
	exports       *prometheus.CounterVec
	published     *prometheus.CounterVec
	opDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by principal kind, method and outcome.",
		}, []string{"kind", "method", "outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registration attempts by listing kind and outcome.",
		}, []string{"kind", "outcome", "reason"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roster_exports_total",
			Help:      "Roster exports by listing kind and format.",
		}, []string{"kind", "format"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_total",
			Help:      "Queue messages by direction and outcome.",
		}, []string{"direction", "outcome"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.logins, m.registrations, m.exports, m.published, m.opDuration)
	return m
}

func (m *Metrics) Login(kind, method, outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(kind, method, outcome).Inc()
}

// Registration counts one attempt; reason is empty on success.
func (m *Metrics) Registration(kind, outcome, reason string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(kind, outcome, reason).Inc()
}

func (m *Metrics) Export(kind, format string) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(kind, format).Inc()
}

// Queue counts a message published ("out") or consumed ("in").
func (m *Metrics) Queue(direction, outcome string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(direction, outcome).Inc()
}

// Observe records the duration of operation since start.
func (m *Metrics) Observe(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.opDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
