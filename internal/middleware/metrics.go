package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagewatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stagewatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stagewatch_http_request_size_bytes",
			Help:    "HTTP request size in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "path"},
	)

	httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stagewatch_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "path"},
	)

	httpActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stagewatch_http_active_requests",
			Help: "Number of active HTTP requests",
		},
		[]string{"method"},
	)

	// SSE metrics
	sseActiveStreams = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stagewatch_sse_active_streams",
			Help: "Number of active report stream subscribers",
		},
		[]string{"run_id"},
	)
)

// MetricsConfig configures the metrics middleware
type MetricsConfig struct {
	// Skip function
	Skip func(*fiber.Ctx) bool
	// PathNormalizer normalizes paths for metrics labels
	PathNormalizer func(string) string
}

// DefaultMetricsConfig returns default metrics config
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Skip:           HealthSkipper,
		PathNormalizer: DefaultPathNormalizer,
	}
}

// DefaultPathNormalizer keeps the matched route pattern untouched. Replace
// it to collapse cardinality further when routes embed free-form segments.
func DefaultPathNormalizer(path string) string {
	return path
}

// MetricsMiddleware creates a Prometheus metrics middleware
type MetricsMiddleware struct {
	config MetricsConfig
}

// NewMetricsMiddleware creates a new metrics middleware
func NewMetricsMiddleware(config MetricsConfig) *MetricsMiddleware {
	return &MetricsMiddleware{
		config: config,
	}
}

// Handler returns the metrics handler
func (m *MetricsMiddleware) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip if configured
		if m.config.Skip != nil && m.config.Skip(c) {
			return c.Next()
		}

		start := time.Now()
		method := c.Method()

		// Track active requests
		httpActiveRequests.WithLabelValues(method).Inc()
		defer httpActiveRequests.WithLabelValues(method).Dec()

		// Process request
		err := c.Next()

		// Prefer the matched route pattern over the concrete path so that
		// /v1/runs/:runId yields one label, not one per run. Unmatched
		// requests collapse into a single label so scanner noise cannot
		// mint new series.
		path := c.Path()
		if route := c.Route(); route != nil && route.Path != "/" {
			path = route.Path
		} else if c.Response().StatusCode() == fiber.StatusNotFound {
			path = "unmatched"
		}
		path = m.config.PathNormalizer(path)

		// Record metrics
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		requestSize := float64(len(c.Request().Body()))
		responseSize := float64(len(c.Response().Body()))

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpRequestSize.WithLabelValues(method, path).Observe(requestSize)
		httpResponseSize.WithLabelValues(method, path).Observe(responseSize)

		return err
	}
}

// RecordStreamOpened records an SSE subscriber attaching to a run
func RecordStreamOpened(runID string) {
	sseActiveStreams.WithLabelValues(runID).Inc()
}

// RecordStreamClosed records an SSE subscriber detaching from a run
func RecordStreamClosed(runID string) {
	sseActiveStreams.WithLabelValues(runID).Dec()
}
