package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible metrics for workflow
// execution monitoring.
//
// Metrics exposed (all namespaced with "codecraft_"):
//
//  1. step_latency_ms (histogram): Node execution duration in milliseconds.
//     Labels: node_id, status (success/error).
//  2. node_executions_total (counter): Completed node executions.
//     Labels: node_id, status.
//  3. runs_total (counter): Finished workflow runs.
//     Labels: outcome (approved/exhausted/error).
//  4. inflight_runs (gauge): Workflow runs currently executing.
//  5. llm_errors_total (counter): Classified LLM failures.
//     Labels: kind (auth/quota/transport/config/other).
//
// Run IDs are deliberately not used as labels; they are unbounded.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine := graph.New(reducer, store, emitter, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	stepLatency    *prometheus.HistogramVec
	nodeExecutions *prometheus.CounterVec
	runs           *prometheus.CounterVec
	inflightRuns   prometheus.Gauge
	llmErrors      *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all workflow metrics with the
// provided registry. A nil registry uses prometheus.DefaultRegisterer.
//
// Histogram buckets cover typical LLM round trips (10ms to 2 minutes).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{enabled: true}

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codecraft",
		Name:      "step_latency_ms",
		Help:      "Node execution duration in milliseconds",
		Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000, 120000},
	}, []string{"node_id", "status"})

	pm.nodeExecutions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codecraft",
		Name:      "node_executions_total",
		Help:      "Completed node executions by node and status",
	}, []string{"node_id", "status"})

	pm.runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codecraft",
		Name:      "runs_total",
		Help:      "Finished workflow runs by outcome",
	}, []string{"outcome"})

	pm.inflightRuns = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "codecraft",
		Name:      "inflight_runs",
		Help:      "Workflow runs currently executing",
	})

	pm.llmErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codecraft",
		Name:      "llm_errors_total",
		Help:      "Classified LLM call failures by kind",
	}, []string{"kind"})

	return pm
}

// RecordStepLatency records the execution duration and outcome of a node.
//
// status is "success" or "error".
func (pm *PrometheusMetrics) RecordStepLatency(nodeID string, latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}

	pm.stepLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
	pm.nodeExecutions.WithLabelValues(nodeID, status).Inc()
}

// RecordRun counts a finished workflow run by outcome.
func (pm *PrometheusMetrics) RecordRun(outcome string) {
	if !pm.isEnabled() {
		return
	}
	pm.runs.WithLabelValues(outcome).Inc()
}

// RecordLLMError counts a classified LLM failure.
func (pm *PrometheusMetrics) RecordLLMError(kind string) {
	if !pm.isEnabled() {
		return
	}
	pm.llmErrors.WithLabelValues(kind).Inc()
}

// RunStarted increments the in-flight run gauge. Pair with RunFinished.
func (pm *PrometheusMetrics) RunStarted() {
	if !pm.isEnabled() {
		return
	}
	pm.inflightRuns.Inc()
}

// RunFinished decrements the in-flight run gauge.
func (pm *PrometheusMetrics) RunFinished() {
	if !pm.isEnabled() {
		return
	}
	pm.inflightRuns.Dec()
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}
