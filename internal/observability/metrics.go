// Package observability exposes Prometheus metrics for the orchestrator.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters and histograms tracked per process.
type Metrics struct {
	ToolExecutions  *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
	ModelIterations prometheus.Counter
	StreamRequests  *prometheus.CounterVec
}

// NewMetrics registers orchestrator metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "brain_tool_executions_total",
			Help: "Tool executions by tool name and outcome.",
		}, []string{"tool", "status"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brain_tool_duration_seconds",
			Help:    "Tool execution latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		ModelIterations: factory.NewCounter(prometheus.CounterOpts{
			Name: "brain_model_iterations_total",
			Help: "Model completion calls issued by the agent loop.",
		}),
		StreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "brain_stream_requests_total",
			Help: "Streaming chat requests by terminal outcome.",
		}, []string{"outcome"}),
	}
}
