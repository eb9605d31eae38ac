package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics are registered lazily on the singleton registry
var (
	httpMetricsOnce sync.Once

	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPActiveConnections prometheus.Gauge
)

func initializeHTTPMetrics() {
	httpMetricsOnce.Do(func() {
		factory := promauto.With(GetInstance().registry)

		HTTPRequestsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		)

		HTTPRequestDuration = factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "status"},
		)

		HTTPActiveConnections = factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_active_connections",
				Help: "Number of in-flight HTTP requests",
			},
		)
	})
}

// RecordHTTPRequest records metrics for an HTTP request
func RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	initializeHTTPMetrics()

	status := strconv.Itoa(statusCode)
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

// IncActiveConnections increments in-flight requests
func IncActiveConnections() {
	initializeHTTPMetrics()
	HTTPActiveConnections.Inc()
}

// DecActiveConnections decrements in-flight requests
func DecActiveConnections() {
	initializeHTTPMetrics()
	HTTPActiveConnections.Dec()
}
