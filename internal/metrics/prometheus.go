// Package metrics provides Prometheus metrics export for ORBIT.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exports engine metrics in Prometheus format.
// A nil *Exporter is valid and records nothing.
type Exporter struct {
	registry *prometheus.Registry

	learningPasses   *prometheus.CounterVec
	eventsAnalyzed   prometheus.Counter
	learningDuration prometheus.Histogram
	notifications    *prometheus.CounterVec
	overwhelmChecks  *prometheus.CounterVec
	intentsDecayed   prometheus.Counter
	memories         *prometheus.CounterVec
	schedulerRuns    *prometheus.CounterVec
	schedulerLatency *prometheus.HistogramVec
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for duration histograms (in seconds)
	DurationBuckets []float64
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		DurationBuckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
	}
}

// New creates a new exporter registered on its own registry.
func New(cfg Config) *Exporter {
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = DefaultConfig().DurationBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.learningPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orbit",
			Name:      "learning_passes_total",
			Help:      "Profile learning passes by result (updated, noop, error)",
		},
		[]string{"result"},
	)

	e.eventsAnalyzed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orbit",
			Name:      "events_analyzed_total",
			Help:      "Behavioral events folded into profiles",
		},
	)

	e.learningDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "orbit",
			Name:      "learning_duration_seconds",
			Help:      "Duration of a single user's learning pass",
			Buckets:   cfg.DurationBuckets,
		},
	)

	e.notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orbit",
			Name:      "notifications_total",
			Help:      "Notification send attempts by outcome (sent, queued, forced, dropped)",
		},
		[]string{"outcome"},
	)

	e.overwhelmChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orbit",
			Name:      "overwhelm_checks_total",
			Help:      "Overwhelm checks by result (overwhelmed, ok, no_profile)",
		},
		[]string{"result"},
	)

	e.intentsDecayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orbit",
			Name:      "intents_decayed_total",
			Help:      "Intent priority reductions written by the decay process",
		},
	)

	e.memories = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orbit",
			Name:      "memories_consolidated_total",
			Help:      "Short-term memories consolidated by outcome (promoted, deactivated)",
		},
		[]string{"outcome"},
	)

	e.schedulerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orbit",
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Scheduled task executions by task and status",
		},
		[]string{"task", "status"},
	)

	e.schedulerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orbit",
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Scheduled task execution time",
			Buckets:   cfg.DurationBuckets,
		},
		[]string{"task"},
	)

	registry.MustRegister(
		e.learningPasses,
		e.eventsAnalyzed,
		e.learningDuration,
		e.notifications,
		e.overwhelmChecks,
		e.intentsDecayed,
		e.memories,
		e.schedulerRuns,
		e.schedulerLatency,
	)

	return e
}

// RecordLearningPass records one user's learning pass.
func (e *Exporter) RecordLearningPass(result string, events int, took time.Duration) {
	if e == nil {
		return
	}
	e.learningPasses.WithLabelValues(result).Inc()
	e.eventsAnalyzed.Add(float64(events))
	e.learningDuration.Observe(took.Seconds())
}

// RecordNotification records a notification outcome.
func (e *Exporter) RecordNotification(outcome string) {
	if e == nil {
		return
	}
	e.notifications.WithLabelValues(outcome).Inc()
}

// RecordOverwhelmCheck records an overwhelm check result.
func (e *Exporter) RecordOverwhelmCheck(result string) {
	if e == nil {
		return
	}
	e.overwhelmChecks.WithLabelValues(result).Inc()
}

// RecordIntentsDecayed adds decayed intents.
func (e *Exporter) RecordIntentsDecayed(n int) {
	if e == nil {
		return
	}
	e.intentsDecayed.Add(float64(n))
}

// RecordConsolidation adds consolidated memories.
func (e *Exporter) RecordConsolidation(promoted, deactivated int) {
	if e == nil {
		return
	}
	e.memories.WithLabelValues("promoted").Add(float64(promoted))
	e.memories.WithLabelValues("deactivated").Add(float64(deactivated))
}

// RecordSchedulerRun records a scheduled task execution.
func (e *Exporter) RecordSchedulerRun(task string, took time.Duration, err error) {
	if e == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	e.schedulerRuns.WithLabelValues(task, status).Inc()
	e.schedulerLatency.WithLabelValues(task).Observe(took.Seconds())
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	if e == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry {
	if e == nil {
		return nil
	}
	return e.registry
}
