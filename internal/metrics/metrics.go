// Package metrics provides Prometheus metrics for the build orchestrator:
// HTTP metrics for the report API, plus pipeline and coordinator metrics
// for the orchestration core.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors the process exports.
type Metrics struct {
	// HTTP metrics, for the report API.
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	HTTPResponseSize     *prometheus.HistogramVec

	// Pipeline metrics, for the orchestration core.
	PipelinesInFlight    prometheus.Gauge
	PhaseOutcomesTotal   *prometheus.CounterVec
	PhaseDuration        *prometheus.HistogramVec
	CoordinatorDecisions *prometheus.CounterVec

	// Process metrics, sampled periodically by MetricsCollector.
	Goroutines prometheus.Gauge
}

// Get returns the singleton Metrics instance.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buildforge_http_requests_total",
			Help: "Total HTTP requests to the report API",
		},
		[]string{"endpoint", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "buildforge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "buildforge_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)

	m.HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "buildforge_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"endpoint"},
	)

	m.PipelinesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "buildforge_pipelines_in_flight",
			Help: "Number of package build pipelines currently running",
		},
	)

	m.PhaseOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buildforge_phase_outcomes_total",
			Help: "Outcomes of pipeline phases, by package, phase, and result",
		},
		[]string{"package", "phase", "result"},
	)

	m.PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "buildforge_phase_duration_seconds",
			Help:    "Pipeline phase duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"phase"},
	)

	m.CoordinatorDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buildforge_coordinator_decisions_total",
			Help: "Coordinator decisions, by decision type",
		},
		[]string{"decision"},
	)

	m.Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "buildforge_goroutines",
			Help: "Number of goroutines running in the orchestrator process",
		},
	)

	return m
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(endpoint, method string, statusCode int, duration time.Duration, responseSize int) {
	status := HTTPStatusCode(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(endpoint).Observe(float64(responseSize))
}

// RecordPhaseOutcome records one pipeline phase's result and duration.
func (m *Metrics) RecordPhaseOutcome(packageName, phase, result string, duration time.Duration) {
	m.PhaseOutcomesTotal.WithLabelValues(packageName, phase, result).Inc()
	m.PhaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordCoordinatorDecision records one coordinator decision.
func (m *Metrics) RecordCoordinatorDecision(decision string) {
	m.CoordinatorDecisions.WithLabelValues(decision).Inc()
}
