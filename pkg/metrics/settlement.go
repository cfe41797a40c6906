package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks checkout outcomes and gateway latency.
type SettlementMetrics struct {
	outcomes        *prometheus.CounterVec
	captureDuration *prometheus.HistogramVec
	rejections      *prometheus.CounterVec
	incidents       *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_outcomes_total",
		Help: "Checkout attempts by terminal or intermediate outcome.",
	}, []string{"operation", "outcome"})
	captureDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_capture_duration_seconds",
		Help:    "Latency of gateway capture calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_instrument_rejections_total",
		Help: "Coupon and gift card rejections by reason.",
	}, []string{"instrument", "reason"})
	incidents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_settlement_incidents_total",
		Help: "Settlement incidents recorded for manual review.",
	}, []string{"reason"})
	reg.MustRegister(outcomes, captureDuration, rejections, incidents)
	return &SettlementMetrics{
		outcomes:        outcomes,
		captureDuration: captureDuration,
		rejections:      rejections,
		incidents:       incidents,
	}
}

// IncOutcome counts an operation result such as quote/settled or capture/denied.
func (s *SettlementMetrics) IncOutcome(operation, outcome string) {
	if s == nil || s.outcomes == nil {
		return
	}
	s.outcomes.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// ObserveCapture records gateway capture latency.
func (s *SettlementMetrics) ObserveCapture(provider string, duration time.Duration) {
	if s == nil || s.captureDuration == nil {
		return
	}
	s.captureDuration.WithLabelValues(normalizeLabel(provider)).Observe(duration.Seconds())
}

// IncRejection counts an instrument rejection.
func (s *SettlementMetrics) IncRejection(instrument, reason string) {
	if s == nil || s.rejections == nil {
		return
	}
	s.rejections.WithLabelValues(normalizeLabel(instrument), normalizeLabel(reason)).Inc()
}

// IncIncident counts a recorded settlement incident.
func (s *SettlementMetrics) IncIncident(reason string) {
	if s == nil || s.incidents == nil {
		return
	}
	s.incidents.WithLabelValues(normalizeLabel(reason)).Inc()
}
