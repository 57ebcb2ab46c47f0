package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects application metrics.
type Metrics interface {
	RecordCall(ctx context.Context, labels CallLabels)
	RecordLatency(ctx context.Context, latencyMs float64, labels CallLabels)
	RecordTokens(ctx context.Context, input, output int, labels CallLabels)
	RecordStoreError(ctx context.Context, operation string)
}

// CallLabels contains metric dimensions.
type CallLabels struct {
	Model  string
	Status string
}

// PrometheusMetrics implements Metrics on a dedicated registry
type PrometheusMetrics struct {
	registry    *prometheus.Registry
	calls       *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	tokens      *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
}

// NewPrometheusMetrics registers the collectors on a fresh registry
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		registry: registry,
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llmobs_calls_total",
			Help: "Provider invocation attempts by model and outcome.",
		}, []string{"model", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmobs_call_latency_ms",
			Help:    "Provider invocation latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 3000, 5000, 10000, 30000},
		}, []string{"model"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llmobs_tokens_total",
			Help: "Tokens exchanged with providers by direction (in, out).",
		}, []string{"model", "direction"}),
		storeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llmobs_store_errors_total",
			Help: "Record store failures by operation.",
		}, []string{"operation"}),
	}
}

func (m *PrometheusMetrics) RecordCall(_ context.Context, labels CallLabels) {
	m.calls.WithLabelValues(labels.Model, labels.Status).Inc()
}

func (m *PrometheusMetrics) RecordLatency(_ context.Context, latencyMs float64, labels CallLabels) {
	m.latency.WithLabelValues(labels.Model).Observe(latencyMs)
}

func (m *PrometheusMetrics) RecordTokens(_ context.Context, input, output int, labels CallLabels) {
	if input > 0 {
		m.tokens.WithLabelValues(labels.Model, "in").Add(float64(input))
	}
	if output > 0 {
		m.tokens.WithLabelValues(labels.Model, "out").Add(float64(output))
	}
}

func (m *PrometheusMetrics) RecordStoreError(_ context.Context, operation string) {
	m.storeErrors.WithLabelValues(operation).Inc()
}

// Registry exposes the underlying registry
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) RecordCall(context.Context, CallLabels) {}
func (NopMetrics) RecordLatency(context.Context, float64, CallLabels) {}
func (NopMetrics) RecordTokens(context.Context, int, int, CallLabels) {}
func (NopMetrics) RecordStoreError(context.Context, string) {}
