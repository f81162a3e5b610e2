// ABOUTME: Prometheus collectors for the tutoring pipeline and HTTP API
// ABOUTME: Exposes request, pipeline run, node latency, and model call metrics

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mentor_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "mentor_http_request_duration_seconds",
			Help: "HTTP API request duration in seconds",
		},
		[]string{"method", "route"},
	)

	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mentor_pipeline_runs_total",
			Help: "Completed tutoring pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	NodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mentor_pipeline_node_duration_seconds",
			Help:    "Time spent in each pipeline node",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"node"},
	)

	ModelRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mentor_model_requests_total",
			Help: "Hosted model API calls by provider and result",
		},
		[]string{"provider", "operation", "result"},
	)

	ModelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mentor_model_latency_seconds",
			Help:    "Hosted model API latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"provider", "operation"},
	)

	MemoryWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mentor_memory_writes_total",
			Help: "Verified solutions written to problem memory",
		},
	)
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
