package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	runSucceeded = "success"
	runFailed    = "failure"
	runSkipped   = "skipped"
)

// CronJobMetrics records scheduled job runs. A nil value records nothing.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	processed   *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
}

// NewCronJobMetrics registers on reg; a nil reg yields a no-op collector.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return nil
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cron_job_runs_total",
			Help: "Cron job runs by result (success, failure, skipped while another instance held the lock).",
		}, []string{"job", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cron_job_duration_seconds",
			Help:    "Wall time of executed cron jobs.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"job"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cron_job_rows_processed_total",
			Help: "Rows touched by cron jobs.",
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cron_job_last_success_timestamp_seconds",
			Help: "Unix time the job last finished without error.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.runs, m.duration, m.processed, m.lastSuccess)
	return m
}

// ObserveRun records one executed run that started at start.
func (c *CronJobMetrics) ObserveRun(job string, start time.Time, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	job = normalizeLabel(job)
	c.duration.WithLabelValues(job).Observe(elapsed.Seconds())
	if err != nil {
		c.runs.WithLabelValues(job, runFailed).Inc()
		return
	}
	c.runs.WithLabelValues(job, runSucceeded).Inc()
	c.lastSuccess.WithLabelValues(job).Set(float64(start.Add(elapsed).Unix()))
}

// IncSkipped counts a tick lost to another instance's lock.
func (c *CronJobMetrics) IncSkipped(job string) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(normalizeLabel(job), runSkipped).Inc()
}

// AddProcessed adds n to the rows-processed counter for the job.
func (c *CronJobMetrics) AddProcessed(job string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.processed.WithLabelValues(normalizeLabel(job)).Add(float64(n))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
