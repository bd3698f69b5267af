package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the commit pipeline, audit
// sinks and the HTTP query surface. A nil *Metrics records nothing.
type Metrics struct {
	// Pipeline metrics
	CommitsTotal     *prometheus.CounterVec
	CommitDuration   prometheus.Histogram
	CallbackFailures *prometheus.CounterVec

	// Audit metrics
	EntriesCaptured *prometheus.CounterVec
	EntriesDropped  prometheus.Counter
	LookupsTotal    *prometheus.CounterVec

	// Sink metrics
	SinkDeliveries       *prometheus.CounterVec
	SinkDeliveryDuration *prometheus.HistogramVec

	// Retention metrics
	RetentionDeleted prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_commits_total",
				Help: "Total number of unit of work commits processed by the pipeline",
			},
			[]string{"status"},
		),
		CommitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chronicle_commit_duration_seconds",
				Help:    "Commit pipeline duration in seconds, including callbacks and delivery",
				Buckets: prometheus.DefBuckets,
			},
		),
		CallbackFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_callback_failures_total",
				Help: "Total number of lifecycle callback failures",
			},
			[]string{"phase"},
		),
		EntriesCaptured: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_audit_entries_total",
				Help: "Total number of audit entries produced",
			},
			[]string{"state"},
		),
		EntriesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chronicle_audit_entries_dropped_total",
				Help: "Total number of audit entries dropped because no property qualified",
			},
		),
		LookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_lookups_total",
				Help: "Total number of friendly value lookups",
			},
			[]string{"result"},
		),
		SinkDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_sink_deliveries_total",
				Help: "Total number of audit batches handed to sinks",
			},
			[]string{"sink", "status"},
		),
		SinkDeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chronicle_sink_delivery_duration_seconds",
				Help:    "Sink delivery duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sink"},
		),
		RetentionDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chronicle_retention_deleted_total",
				Help: "Total number of stored audit entries removed by retention",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chronicle_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		m.CommitsTotal,
		m.CommitDuration,
		m.CallbackFailures,
		m.EntriesCaptured,
		m.EntriesDropped,
		m.LookupsTotal,
		m.SinkDeliveries,
		m.SinkDeliveryDuration,
		m.RetentionDeleted,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// ObserveCommit records the outcome of one pipeline run
func (m *Metrics) ObserveCommit(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.CommitsTotal.WithLabelValues(status).Inc()
	m.CommitDuration.Observe(d.Seconds())
}

// CallbackFailed counts a failed lifecycle callback
func (m *Metrics) CallbackFailed(phase string) {
	if m == nil {
		return
	}
	m.CallbackFailures.WithLabelValues(phase).Inc()
}

// EntryCaptured counts an audit entry in the given state
func (m *Metrics) EntryCaptured(state string) {
	if m == nil {
		return
	}
	m.EntriesCaptured.WithLabelValues(state).Inc()
}

// EntryDropped counts an audit entry discarded for having no properties
func (m *Metrics) EntryDropped() {
	if m == nil {
		return
	}
	m.EntriesDropped.Inc()
}

// Lookup counts a friendly value lookup by result (hit, miss, error, cached)
func (m *Metrics) Lookup(result string) {
	if m == nil {
		return
	}
	m.LookupsTotal.WithLabelValues(result).Inc()
}

// ObserveDelivery records one sink delivery
func (m *Metrics) ObserveDelivery(sink string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.SinkDeliveries.WithLabelValues(sink, status).Inc()
	m.SinkDeliveryDuration.WithLabelValues(sink).Observe(d.Seconds())
}

// RetentionRemoved counts entries deleted by the retention job
func (m *Metrics) RetentionRemoved(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RetentionDeleted.Add(float64(n))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests routed by gorilla/mux are labelled by route template.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint on router
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
