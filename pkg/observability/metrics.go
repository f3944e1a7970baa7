package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Usage and plan-limit metrics
	UsageIncrementsTotal *prometheus.CounterVec
	LimitDenialsTotal    *prometheus.CounterVec
	LimitWarningsTotal   *prometheus.CounterVec

	// Billing metrics
	BillingEventsTotal *prometheus.CounterVec

	// Indexing pipeline metrics
	IndexingJobsTotal   *prometheus.CounterVec
	IndexingDuration    prometheus.Histogram
	DocumentChunksTotal prometheus.Counter

	// Chat metrics
	ChatRequestsTotal  *prometheus.CounterVec
	ChatTokensStreamed prometheus.Counter
	RateLimitedTotal   *prometheus.CounterVec

	// Object storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Tenant resolver cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cove_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cove_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cove_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		UsageIncrementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cove_usage_increments_total",
				Help: "Total number of usage counter increments",
			},
			[]string{"kind"},
		),
		LimitDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cove_limit_denials_total",
				Help: "Total number of operations denied by plan limits",
			},
			[]string{"kind", "plan"},
		),
		LimitWarningsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cove_limit_warnings_total",
				Help: "Total number of usage warnings issued near plan limits",
			},
			[]string{"kind", "plan"},
		),

		BillingEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cove_billing_events_total",
				Help: "Total number of billing events processed",
			},
			[]string{"type", "outcome"},
		),

		IndexingJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cove_indexing_jobs_total",
				Help: "Total number of document indexing jobs",
			},
			[]string{"status"},
		),
		IndexingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cove_indexing_duration_seconds",
				Help:    "Document indexing job duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120},
			},
		),
		DocumentChunksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cove_document_chunks_total",
				Help: "Total number of chunks produced by the indexing pipeline",
			},
		),

		ChatRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cove_chat_requests_total",
				Help: "Total number of chat requests",
			},
			[]string{"status"},
		),
		ChatTokensStreamed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cove_chat_tokens_streamed_total",
				Help: "Total number of tokens streamed to clients",
			},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cove_rate_limited_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"scope"},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cove_storage_operations_total",
				Help: "Total number of object storage operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cove_storage_operation_duration_seconds",
				Help:    "Object storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cove_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cove_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cove_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cove_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.UsageIncrementsTotal,
		m.LimitDenialsTotal,
		m.LimitWarningsTotal,
		m.BillingEventsTotal,
		m.IndexingJobsTotal,
		m.IndexingDuration,
		m.DocumentChunksTotal,
		m.ChatRequestsTotal,
		m.ChatTokensStreamed,
		m.RateLimitedTotal,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// Flush implements http.Flusher so streaming handlers keep working when
// wrapped by the metrics middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler returns the handler serving the /metrics endpoint.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
