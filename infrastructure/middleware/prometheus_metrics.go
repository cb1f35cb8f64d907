// Package middleware provides cross-cutting observability for experiment
// runs: Prometheus metrics and OpenTelemetry run tracing.
package middleware

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrav/go-promptlab/infrastructure/llm"
	"github.com/ahrav/go-promptlab/internal/ports"
)

// Metric names recorded by the orchestrator and the LLM middleware.
const (
	MetricLLMRequests  = "llm_requests_total"
	MetricLLMLatency   = "llm_latency_seconds"
	MetricLLMTokens    = "llm_tokens_total"
	MetricTriples      = "triples_total"
	MetricCacheLookups = "cache_lookups_total"
	MetricJudgeScore   = "judge_score"
)

// PrometheusMetrics implements the MetricsCollector interface using Prometheus.
// It provides real-time monitoring of provider traffic, cache effectiveness,
// and judge scores while an experiment runs.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	llmRequests  *prometheus.CounterVec
	llmLatency   *prometheus.HistogramVec
	llmTokens    *prometheus.CounterVec
	triples      *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	judgeScores  *prometheus.HistogramVec

	// Anything not listed above lands in these generic vectors.
	operationLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
	systemGauges     *prometheus.GaugeVec
	valueHistogram   *prometheus.HistogramVec

	circuitState  *prometheus.GaugeVec
	circuitEvents *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance with every
// metric registered on its own registry, so instances never collide.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &PrometheusMetrics{
		registry: reg,
		llmRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "promptlab",
				Name:      MetricLLMRequests,
				Help:      "Provider requests by outcome.",
			},
			[]string{"provider", "model", "status"},
		),
		llmLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "promptlab",
				Name:      MetricLLMLatency,
				Help:      "Provider request latency, including retries.",
				Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"provider", "model", "status"},
		),
		llmTokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "promptlab",
				Name:      MetricLLMTokens,
				Help:      "Tokens consumed by provider requests.",
			},
			[]string{"provider", "model", "token_type"},
		),
		triples: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "promptlab",
				Name:      MetricTriples,
				Help:      "Executed (input, model, run) triples by outcome.",
			},
			[]string{"variant", "model", "status"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "promptlab",
				Name:      MetricCacheLookups,
				Help:      "Response cache lookups by result.",
			},
			[]string{"model", "result"},
		),
		judgeScores: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "promptlab",
				Name:      MetricJudgeScore,
				Help:      "Aggregated judge scores.",
				Buckets:   prometheus.LinearBuckets(1, 1, 10),
			},
			[]string{"variant", "model"},
		),
		operationLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "promptlab",
				Name:      "operation_duration_seconds",
				Help:      "Duration of orchestrator operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "model"},
		),
		operationCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "promptlab",
				Name:      "operations_total",
				Help:      "Counters without a dedicated metric.",
			},
			[]string{"metric"},
		),
		systemGauges: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "promptlab",
				Name:      "system_state",
				Help:      "Current system state values.",
			},
			[]string{"metric"},
		),
		valueHistogram: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "promptlab",
				Name:      "observed_values",
				Help:      "Histograms without a dedicated metric.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"metric"},
		),
		circuitState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "promptlab",
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state per provider: 0 closed, 1 open, 2 half-open.",
			},
			[]string{"provider"},
		),
		circuitEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "promptlab",
				Name:      "circuit_breaker_events_total",
				Help:      "Circuit breaker trips, successes and failures per provider.",
			},
			[]string{"provider", "event"},
		),
	}
}

// Handler serves the metrics in the Prometheus exposition format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// Registry returns the registry holding every metric.
func (pm *PrometheusMetrics) Registry() *prometheus.Registry { return pm.registry }

func label(labels map[string]string, key string) string {
	if v, ok := labels[key]; ok && v != "" {
		return v
	}
	return "unknown"
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	pm.operationLatency.WithLabelValues(operation, label(labels, "model")).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case MetricLLMRequests:
		pm.llmRequests.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "status")).Add(value)
	case MetricLLMTokens:
		pm.llmTokens.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "token_type")).Add(value)
	case MetricTriples:
		pm.triples.WithLabelValues(label(labels, "variant"), label(labels, "model"), label(labels, "status")).Add(value)
	case MetricCacheLookups:
		pm.cacheLookups.WithLabelValues(label(labels, "model"), label(labels, "result")).Add(value)
	default:
		pm.operationCounter.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, _ map[string]string) {
	pm.systemGauges.WithLabelValues(metric).Set(value)
}

// RecordHistogram implements the MetricsCollector interface by recording
// values in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	switch metric {
	case MetricLLMLatency:
		pm.llmLatency.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "status")).Observe(value)
	case MetricJudgeScore:
		pm.judgeScores.WithLabelValues(label(labels, "variant"), label(labels, "model")).Observe(value)
	default:
		pm.valueHistogram.WithLabelValues(metric).Observe(value)
	}
}

// CircuitMetrics returns circuit breaker metrics labelled with provider.
func (pm *PrometheusMetrics) CircuitMetrics(provider string) llm.CircuitBreakerMetrics {
	return &circuitMetrics{pm: pm, provider: provider}
}

type circuitMetrics struct {
	pm       *PrometheusMetrics
	provider string
}

func (c *circuitMetrics) RecordState(state llm.CircuitBreakerState) {
	c.pm.circuitState.WithLabelValues(c.provider).Set(float64(state))
}

func (c *circuitMetrics) RecordTrip() {
	c.pm.circuitEvents.WithLabelValues(c.provider, "trip").Inc()
}

func (c *circuitMetrics) RecordSuccess() {
	c.pm.circuitEvents.WithLabelValues(c.provider, "success").Inc()
}

func (c *circuitMetrics) RecordFailure() {
	c.pm.circuitEvents.WithLabelValues(c.provider, "failure").Inc()
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
