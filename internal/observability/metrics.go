package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pitabwire/dbconsole/internal/controlplane"
	"github.com/pitabwire/dbconsole/internal/events"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the console.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Control plane metrics
	ControlPlaneRequestsTotal   *prometheus.CounterVec
	ControlPlaneRequestDuration *prometheus.HistogramVec
	ControlPlaneBreakerState    prometheus.Gauge
	ReadCacheTotal              *prometheus.CounterVec

	// Schema metrics
	SchemaFetchesTotal  *prometheus.CounterVec
	SchemaFetchDuration prometheus.Histogram

	// Event stream metrics
	EventRecordsTotal    *prometheus.CounterVec
	ActiveSubscriptions  prometheus.Gauge
	StreamFallbacksTotal prometheus.Counter

	// SQL bridge metrics
	SQLStatementsTotal *prometheus.CounterVec
	SQLSessionsActive  prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbconsole_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dbconsole_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dbconsole_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		ControlPlaneRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbconsole_controlplane_requests_total",
			Help: "Total number of control plane requests.",
		}, []string{"method", "status"}),
		ControlPlaneRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dbconsole_controlplane_request_duration_seconds",
			Help:    "Control plane request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"method"}),
		ControlPlaneBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dbconsole_controlplane_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}),
		ReadCacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbconsole_read_cache_total",
			Help: "Read cache lookups by outcome (hit, miss, shared).",
		}, []string{"outcome"}),

		SchemaFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbconsole_schema_fetches_total",
			Help: "Total number of OpenAPI document fetches.",
		}, []string{"status"}),
		SchemaFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dbconsole_schema_fetch_duration_seconds",
			Help:    "OpenAPI document fetch and normalization duration in seconds.",
			Buckets: backendDurationBuckets,
		}),

		EventRecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbconsole_event_records_total",
			Help: "Total number of event stream records applied, by event type.",
		}, []string{"event"}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dbconsole_active_subscriptions",
			Help: "Number of open resource subscriptions.",
		}),
		StreamFallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbconsole_stream_fallbacks_total",
			Help: "Total number of subscriptions that fell back to a plain read.",
		}),

		SQLStatementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbconsole_sql_statements_total",
			Help: "SQL bridge operations by transport, operation and outcome (success, failure, error).",
		}, []string{"transport", "operation", "outcome"}),
		SQLSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dbconsole_sql_sessions_active",
			Help: "Number of open transactional SQL sessions.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSizeBytes,
		m.ControlPlaneRequestsTotal,
		m.ControlPlaneRequestDuration,
		m.ControlPlaneBreakerState,
		m.ReadCacheTotal,
		m.SchemaFetchesTotal,
		m.SchemaFetchDuration,
		m.EventRecordsTotal,
		m.ActiveSubscriptions,
		m.StreamFallbacksTotal,
		m.SQLStatementsTotal,
		m.SQLSessionsActive,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, respSize int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordSchemaFetch records one OpenAPI document fetch. It matches
// schema.WithFetchObserver.
func (m *Metrics) RecordSchemaFetch(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.SchemaFetchesTotal.WithLabelValues(status).Inc()
	m.SchemaFetchDuration.Observe(duration.Seconds())
}

// RecordSQL records one SQL bridge operation. transport is "http" or
// "session". A nil Metrics records nothing.
func (m *Metrics) RecordSQL(transport, operation string, err error, failed bool) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case failed:
		outcome = "failure"
	case err != nil:
		outcome = "error"
	}
	m.SQLStatementsTotal.WithLabelValues(transport, operation, outcome).Inc()
}

// SQLSessionOpened and SQLSessionClosed track open SQL sessions. A nil
// Metrics records nothing.
func (m *Metrics) SQLSessionOpened() {
	if m != nil {
		m.SQLSessionsActive.Inc()
	}
}

func (m *Metrics) SQLSessionClosed() {
	if m != nil {
		m.SQLSessionsActive.Dec()
	}
}

// ControlPlane returns the hooks the control plane client reports to.
func (m *Metrics) ControlPlane() controlplane.Observer {
	return controlPlaneObserver{m}
}

// Events returns the hooks resource subscriptions report to.
func (m *Metrics) Events() events.Observer {
	return eventsObserver{m}
}

type controlPlaneObserver struct{ m *Metrics }

func (o controlPlaneObserver) Request(method string, status int, elapsed time.Duration) {
	label := strconv.Itoa(status)
	if status == 0 {
		label = "error"
	}
	o.m.ControlPlaneRequestsTotal.WithLabelValues(method, label).Inc()
	o.m.ControlPlaneRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (o controlPlaneObserver) Cache(outcome string) {
	o.m.ReadCacheTotal.WithLabelValues(outcome).Inc()
}

func (o controlPlaneObserver) BreakerChanged(state controlplane.BreakerState) {
	o.m.ControlPlaneBreakerState.Set(float64(state))
}

type eventsObserver struct{ m *Metrics }

func (o eventsObserver) SubscriptionOpened() { o.m.ActiveSubscriptions.Inc() }
func (o eventsObserver) SubscriptionClosed() { o.m.ActiveSubscriptions.Dec() }
func (o eventsObserver) StreamFallback()     { o.m.StreamFallbacksTotal.Inc() }

func (o eventsObserver) RecordApplied(event string) {
	o.m.EventRecordsTotal.WithLabelValues(event).Inc()
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

		m.RecordHTTPRequest(r.Method, RoutePattern(r), sw.status, time.Since(start), sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RoutePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func RoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.ReplaceAll(pattern, "/*/", "/")
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

// Flush lets event streams pass through the wrapper.
func (w *metricsResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController and
// websocket upgrades.
func (w *metricsResponseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
