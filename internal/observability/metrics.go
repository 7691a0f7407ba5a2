package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the BFF.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Backend invocation metrics
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState *prometheus.GaugeVec
	BackendRetriesTotal        *prometheus.CounterVec

	// Catalog metrics
	CatalogCacheHitsTotal    *prometheus.CounterVec
	CatalogCacheMissesTotal  *prometheus.CounterVec
	CatalogValidationsFailed *prometheus.CounterVec

	// Tracking derivation metrics
	TrackingDerivationsTotal *prometheus.CounterVec
	TrackingDerivationTime   prometheus.Histogram
	TrackingEventsAssigned   prometheus.Histogram

	// Mutation metrics
	StatusUpdatesTotal    *prometheus.CounterVec
	IdempotencyHitsTotal  prometheus.Counter
	NotesAddedTotal       prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderdesk_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orderdesk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orderdesk_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orderdesk_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Backend
		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderdesk_backend_requests_total",
			Help: "Total number of backend service requests.",
		}, []string{"service_id", "operation", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orderdesk_backend_request_duration_seconds",
			Help:    "Backend request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"service_id"}),
		BackendCircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orderdesk_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"service_id"}),
		BackendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderdesk_backend_retries_total",
			Help: "Total number of backend request retries.",
		}, []string{"service_id"}),

		// Catalog
		CatalogCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderdesk_catalog_cache_hits_total",
			Help: "Total workflow catalog cache hits.",
		}, []string{"order_type"}),
		CatalogCacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderdesk_catalog_cache_misses_total",
			Help: "Total workflow catalog cache misses.",
		}, []string{"order_type"}),
		CatalogValidationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderdesk_catalog_validations_failed_total",
			Help: "Total structurally invalid workflow catalogs received.",
		}, []string{"order_type"}),

		// Tracking
		TrackingDerivationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderdesk_tracking_derivations_total",
			Help: "Total tracking view derivations.",
		}, []string{"order_type", "status"}),
		TrackingDerivationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orderdesk_tracking_derivation_seconds",
			Help:    "Tracking view derivation duration in seconds, excluding fetches.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		TrackingEventsAssigned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orderdesk_tracking_events_assigned",
			Help:    "Number of events assigned to stages per derivation.",
			Buckets: []float64{0, 5, 10, 25, 50, 100, 250, 500},
		}),

		// Mutations
		StatusUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderdesk_status_updates_total",
			Help: "Total order status update submissions.",
		}, []string{"operation", "status"}),
		IdempotencyHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderdesk_idempotency_hits_total",
			Help: "Total status updates served from the idempotency store.",
		}),
		NotesAddedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderdesk_notes_added_total",
			Help: "Total notes added to orders.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Backend
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
		// Catalog
		m.CatalogCacheHitsTotal,
		m.CatalogCacheMissesTotal,
		m.CatalogValidationsFailed,
		// Tracking
		m.TrackingDerivationsTotal,
		m.TrackingDerivationTime,
		m.TrackingEventsAssigned,
		// Mutations
		m.StatusUpdatesTotal,
		m.IdempotencyHitsTotal,
		m.NotesAddedTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordBackendRequest records a backend service request.
func (m *Metrics) RecordBackendRequest(serviceID, operation string, status int, duration time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(serviceID, operation, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(serviceID).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the circuit breaker state for a service.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBackendCircuitBreakerState(serviceID string, state float64) {
	m.BackendCircuitBreakerState.WithLabelValues(serviceID).Set(state)
}

// RecordBackendRetry records a backend request retry.
func (m *Metrics) RecordBackendRetry(serviceID string) {
	m.BackendRetriesTotal.WithLabelValues(serviceID).Inc()
}

// RecordCatalogCacheHit records a workflow catalog cache hit.
func (m *Metrics) RecordCatalogCacheHit(orderType string) {
	m.CatalogCacheHitsTotal.WithLabelValues(orderType).Inc()
}

// RecordCatalogCacheMiss records a workflow catalog cache miss.
func (m *Metrics) RecordCatalogCacheMiss(orderType string) {
	m.CatalogCacheMissesTotal.WithLabelValues(orderType).Inc()
}

// RecordCatalogValidationFailure records a structurally invalid catalog.
func (m *Metrics) RecordCatalogValidationFailure(orderType string) {
	m.CatalogValidationsFailed.WithLabelValues(orderType).Inc()
}

// RecordTrackingDerivation records a tracking view derivation.
func (m *Metrics) RecordTrackingDerivation(orderType, status string, duration time.Duration, eventsAssigned int) {
	m.TrackingDerivationsTotal.WithLabelValues(orderType, status).Inc()
	m.TrackingDerivationTime.Observe(duration.Seconds())
	m.TrackingEventsAssigned.Observe(float64(eventsAssigned))
}

// RecordStatusUpdate records a status mutation submission.
func (m *Metrics) RecordStatusUpdate(operation, status string) {
	m.StatusUpdatesTotal.WithLabelValues(operation, status).Inc()
}

// RecordIdempotencyHit records a status update served from the idempotency store.
func (m *Metrics) RecordIdempotencyHit() {
	m.IdempotencyHitsTotal.Inc()
}

// RecordNoteAdded records a note addition.
func (m *Metrics) RecordNoteAdded() {
	m.NotesAddedTotal.Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
