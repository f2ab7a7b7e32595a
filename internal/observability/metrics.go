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
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	storeDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
)

// Transition outcome label values.
const (
	OutcomeAccepted = "accepted"
	OutcomeReplayed = "replayed"
	OutcomeConflict = "conflict"
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Transition metrics
	TransitionsTotal      *prometheus.CounterVec
	TransitionDuration    *prometheus.HistogramVec
	TransitionCASRetries  *prometheus.CounterVec
	DocumentsCreatedTotal *prometheus.CounterVec
	IdempotencyHitsTotal  *prometheus.CounterVec

	// Registry metrics
	WorkflowsLoaded        prometheus.Gauge
	IntegrityFindingsTotal *prometheus.GaugeVec
	ConsistencyWarnings    prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docflow_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docflow_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Transitions
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_transitions_total",
			Help: "Total number of transition attempts by outcome.",
		}, []string{"entity_type", "action", "outcome"}),
		TransitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docflow_transition_duration_seconds",
			Help:    "Duration of applying a transition, including persistence.",
			Buckets: storeDurationBuckets,
		}, []string{"entity_type"}),
		TransitionCASRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_transition_cas_retries_total",
			Help: "Total number of transitions re-executed after a version conflict.",
		}, []string{"entity_type"}),
		DocumentsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_documents_created_total",
			Help: "Total number of documents created.",
		}, []string{"entity_type"}),
		IdempotencyHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_idempotency_hits_total",
			Help: "Total idempotency store lookups by result.",
		}, []string{"result"}),

		// Registry
		WorkflowsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docflow_workflows_loaded",
			Help: "Number of registered workflows.",
		}),
		IntegrityFindingsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docflow_integrity_findings",
			Help: "Integrity findings per workflow at startup.",
		}, []string{"entity_type", "severity"}),
		ConsistencyWarnings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docflow_consistency_warnings",
			Help: "Cross-workflow consistency warnings at startup.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Transitions
		m.TransitionsTotal,
		m.TransitionDuration,
		m.TransitionCASRetries,
		m.DocumentsCreatedTotal,
		m.IdempotencyHitsTotal,
		// Registry
		m.WorkflowsLoaded,
		m.IntegrityFindingsTotal,
		m.ConsistencyWarnings,
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

// RecordTransition records one transition attempt. outcome is OutcomeAccepted,
// OutcomeReplayed, OutcomeConflict, or a rejection kind.
func (m *Metrics) RecordTransition(entityType, action, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(entityType, action, outcome).Inc()
	m.TransitionDuration.WithLabelValues(entityType).Observe(duration.Seconds())
}

// RecordCASRetry records a transition re-executed after a version conflict.
func (m *Metrics) RecordCASRetry(entityType string) {
	if m == nil {
		return
	}
	m.TransitionCASRetries.WithLabelValues(entityType).Inc()
}

// RecordDocumentCreated records a new document.
func (m *Metrics) RecordDocumentCreated(entityType string) {
	if m == nil {
		return
	}
	m.DocumentsCreatedTotal.WithLabelValues(entityType).Inc()
}

// RecordIdempotency records an idempotency lookup as "hit" or "miss".
func (m *Metrics) RecordIdempotency(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.IdempotencyHitsTotal.WithLabelValues(result).Inc()
}

// SetWorkflowsLoaded sets the number of registered workflows.
func (m *Metrics) SetWorkflowsLoaded(count int) {
	if m == nil {
		return
	}
	m.WorkflowsLoaded.Set(float64(count))
}

// SetIntegrityFindings sets the startup integrity counts for a workflow.
func (m *Metrics) SetIntegrityFindings(entityType string, errors, warnings int) {
	if m == nil {
		return
	}
	m.IntegrityFindingsTotal.WithLabelValues(entityType, "error").Set(float64(errors))
	m.IntegrityFindingsTotal.WithLabelValues(entityType, "warning").Set(float64(warnings))
}

// SetConsistencyWarnings sets the number of cross-workflow warnings.
func (m *Metrics) SetConsistencyWarnings(count int) {
	if m == nil {
		return
	}
	m.ConsistencyWarnings.Set(float64(count))
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

// HandlerFor returns a /metrics handler serving the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	// Mounted sub-routers leave "/*" joints; RoutePattern collapses them.
	pattern := strings.TrimSuffix(rctx.RoutePattern(), "/*")
	if len(pattern) > 1 {
		pattern = strings.TrimSuffix(pattern, "/")
	}
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
