// Package metrics exposes Prometheus instrumentation for the crawl
// orchestrator: job throughput, queue depth, and crawl completion.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "crawl_orchestrator"
	subsystem = "worker"
)

// Metrics holds the Prometheus collectors registered by the service.
type Metrics struct {
	JobsProcessedTotal *prometheus.CounterVec
	JobDurationSeconds *prometheus.HistogramVec
	JobsActive         prometheus.Gauge
	QueueDepth         *prometheus.GaugeVec
	CrawlsCompleted    *prometheus.CounterVec
	RateLimitDenied    *prometheus.CounterVec
}

// New creates and registers the service's metrics against reg. A nil reg
// registers against the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobsProcessedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs that reached a terminal status.",
		}, []string{"status"}),

		JobDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of one job's scrape pipeline run.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"status"}),

		JobsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jobs_active",
			Help:      "Number of jobs currently executing on this worker process.",
		}),

		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_depth",
			Help:      "Queue Provider reported depth, by state (active, waiting).",
		}, []string{"state"}),

		CrawlsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "completed_total",
			Help:      "Total number of crawls that reached status=completed, by outcome.",
		}, []string{"outcome"}),

		RateLimitDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "denied_total",
			Help:      "Total number of requests denied by the rate limiter, by mode.",
		}, []string{"mode"}),
	}
}

// RecordJob records one job's terminal outcome and its duration.
func (m *Metrics) RecordJob(status string, durationSeconds float64) {
	m.JobsProcessedTotal.WithLabelValues(status).Inc()
	m.JobDurationSeconds.WithLabelValues(status).Observe(durationSeconds)
}

// RecordQueueDepth records the Queue Provider's active/waiting counts.
func (m *Metrics) RecordQueueDepth(active, waiting int) {
	m.QueueDepth.WithLabelValues("active").Set(float64(active))
	m.QueueDepth.WithLabelValues("waiting").Set(float64(waiting))
}

// RecordCrawlCompleted records a crawl reaching its terminal condition.
func (m *Metrics) RecordCrawlCompleted(allSucceeded bool) {
	outcome := "failed"
	if allSucceeded {
		outcome = "succeeded"
	}
	m.CrawlsCompleted.WithLabelValues(outcome).Inc()
}

// RecordRateLimitDenied records one bucket-exhausted denial for mode.
func (m *Metrics) RecordRateLimitDenied(mode string) {
	m.RateLimitDenied.WithLabelValues(mode).Inc()
}
