// Package metrics exposes Prometheus instrumentation for the gateway: HTTP
// request metrics, stream outcomes and upstream response statuses.
package metrics

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stream outcomes recorded by the translator.
const (
	OutcomeCompleted     = "completed"
	OutcomeVideo         = "video"
	OutcomeImage         = "image"
	OutcomeTimeout       = "timeout"
	OutcomeUpstreamError = "upstream_error"
	OutcomeError         = "error"
	OutcomeCanceled      = "canceled"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grok2api_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grok2api_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grok2api_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)

	streamOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grok2api_stream_outcomes_total",
			Help: "Completed response lifecycles grouped by terminal condition",
		},
		[]string{"outcome"},
	)

	upstreamResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grok2api_upstream_responses_total",
			Help: "Upstream chat responses grouped by HTTP status",
		},
		[]string{"status"},
	)

	metricsRegistered atomic.Bool
	metricsEnabled    atomic.Bool
)

// SetMetricsEnabled toggles Prometheus metrics collection.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
	if enabled {
		RegisterMetrics()
	}
}

// IsMetricsEnabled reports whether metrics are enabled.
func IsMetricsEnabled() bool {
	return metricsEnabled.Load()
}

// RegisterMetrics registers all collectors with the default registry.
// It is safe to call multiple times; metrics will only be registered once.
func RegisterMetrics() {
	if !metricsRegistered.CompareAndSwap(false, true) {
		return
	}
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		httpRequestsInFlight,
		streamOutcomesTotal,
		upstreamResponsesTotal,
	)
}

// PrometheusMiddleware returns a Gin middleware that records request count,
// duration and in-flight requests. Routes are labelled by their pattern.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsMetricsEnabled() || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		httpRequestsInFlight.Inc()
		start := time.Now()

		c.Next()

		httpRequestsInFlight.Dec()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDurationSeconds.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler serves the default registry.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordStreamOutcome counts one finished response lifecycle.
func RecordStreamOutcome(outcome string) {
	if !IsMetricsEnabled() {
		return
	}
	streamOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordUpstreamStatus counts one upstream chat response by status code.
func RecordUpstreamStatus(status int) {
	if !IsMetricsEnabled() {
		return
	}
	upstreamResponsesTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}
