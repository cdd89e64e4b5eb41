package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the engine and task manager.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	nodesTotal      *prometheus.CounterVec
	nodeDuration    *prometheus.HistogramVec
	providerRetries *prometheus.CounterVec
	tasksInFlight   prometheus.Gauge
	tasksTotal      *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatpipe_runs_total",
				Help: "Pipeline runs by pipeline and final status",
			},
			[]string{"pipeline", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatpipe_run_duration_seconds",
				Help:    "Wall time of pipeline runs",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"pipeline"},
		),
		nodesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatpipe_node_executions_total",
				Help: "Node executions by node type and outcome",
			},
			[]string{"type", "outcome"},
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatpipe_node_duration_seconds",
				Help:    "Wall time of node executions",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
			},
			[]string{"type"},
		),
		providerRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatpipe_provider_retries_total",
				Help: "Retried model and tool calls by node type",
			},
			[]string{"type"},
		),
		tasksInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatpipe_tasks_in_flight",
				Help: "Tasks currently pending or running",
			},
		),
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatpipe_tasks_total",
				Help: "Finished tasks by outcome",
			},
			[]string{"outcome"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.nodesTotal,
		m.nodeDuration,
		m.providerRetries,
		m.tasksInFlight,
		m.tasksTotal,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(pipeline, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(pipeline, status).Inc()
	m.runDuration.WithLabelValues(pipeline).Observe(d.Seconds())
}

// ObserveNode records a finished node execution.
func (m *Metrics) ObserveNode(nodeType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodesTotal.WithLabelValues(nodeType, outcome).Inc()
	m.nodeDuration.WithLabelValues(nodeType).Observe(d.Seconds())
}

// IncProviderRetry records one retried provider call.
func (m *Metrics) IncProviderRetry(nodeType string) {
	if m == nil {
		return
	}
	m.providerRetries.WithLabelValues(nodeType).Inc()
}

// TaskStarted marks a task as in flight.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksInFlight.Inc()
}

// TaskFinished records a task leaving the in-flight set.
func (m *Metrics) TaskFinished(outcome string) {
	if m == nil {
		return
	}
	m.tasksInFlight.Dec()
	m.tasksTotal.WithLabelValues(outcome).Inc()
}
