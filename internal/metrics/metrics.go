// Package metrics provides Prometheus instrumentation for the lockup calculator.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CalculationsTotal counts discount calculations by token, pricing
	// mode (dual_expiry, single_expiry, beta_derived), and outcome.
	CalculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockup_calculations_total",
		Help: "Total discount calculations",
	}, []string{"token", "mode", "status"})

	// CalculationDuration tracks end-to-end calculation latency,
	// including market data fetches.
	CalculationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lockup_calculation_duration_seconds",
		Help:    "Discount calculation duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	// ProviderRequests counts upstream market-data requests by provider
	// and outcome.
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockup_provider_requests_total",
		Help: "Upstream market data provider requests",
	}, []string{"provider", "status"})

	// CacheHits counts snapshot cache hits by data kind.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockup_cache_hits_total",
		Help: "Market data cache hits",
	}, []string{"kind"})

	// CacheMisses counts snapshot cache misses by data kind.
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockup_cache_misses_total",
		Help: "Market data cache misses",
	}, []string{"kind"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lockup_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockup_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lockup_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
