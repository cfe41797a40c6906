package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics tracks relay outcomes per topic. A nil value records nothing.
type OutboxMetrics struct {
	results *prometheus.CounterVec
	parked  *prometheus.CounterVec
	lag     *prometheus.HistogramVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return nil
	}
	m := &OutboxMetrics{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_publish_results_total",
			Help: "Outbox publish attempts by topic and result.",
		}, []string{"topic", "result"}),
		parked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_parked_total",
			Help: "Outbox events moved to the dead letter table.",
		}, []string{"event_type", "reason"}),
		lag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "outbox_publish_lag_seconds",
			Help:    "Time from outbox insert to broker ack.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}, []string{"topic"}),
	}
	reg.MustRegister(m.results, m.parked, m.lag)
	return m
}

// ObservePublished records an acked event created at createdAt.
func (m *OutboxMetrics) ObservePublished(topic string, createdAt, ackedAt time.Time) {
	if m == nil {
		return
	}
	topic = normalizeLabel(topic)
	m.results.WithLabelValues(topic, "published").Inc()
	if !createdAt.IsZero() {
		m.lag.WithLabelValues(topic).Observe(ackedAt.Sub(createdAt).Seconds())
	}
}

// IncRetry counts a publish that failed and will be retried.
func (m *OutboxMetrics) IncRetry(topic string) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(normalizeLabel(topic), "retry").Inc()
}

// IncParked counts an event that will never be published.
func (m *OutboxMetrics) IncParked(eventType, reason string) {
	if m == nil {
		return
	}
	m.parked.WithLabelValues(normalizeLabel(eventType), normalizeLabel(reason)).Inc()
}
