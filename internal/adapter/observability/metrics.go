package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	JobsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_created_total",
			Help: "Total number of jobs created by source (api, batch)",
		},
		[]string{"source"},
	)
	JobTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_lifecycle_transitions_total",
			Help: "Lifecycle transitions by action and resulting state",
		},
		[]string{"action", "to"},
	)
	JobConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_conflicts_total",
			Help: "Rejected writes by conflicting field",
		},
		[]string{"field"},
	)
	ImportRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_import_rows_total",
			Help: "Previewed import rows by source and validity",
		},
		[]string{"source", "result"},
	)
	BatchCreateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_batch_create_total",
			Help: "Batch-create calls by outcome",
		},
		[]string{"outcome"},
	)
)

var registerOnce sync.Once

// InitMetrics registers every collector with the default registry. Safe to
// call more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			JobsCreatedTotal,
			JobTransitionsTotal,
			JobConflictsTotal,
			ImportRowsTotal,
			BatchCreateTotal,
		)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

func RecordJobCreated(source string, n int) {
	if n > 0 {
		JobsCreatedTotal.WithLabelValues(source).Add(float64(n))
	}
}

func RecordTransition(action, to string) {
	JobTransitionsTotal.WithLabelValues(action, to).Inc()
}

func RecordConflict(field string) {
	JobConflictsTotal.WithLabelValues(field).Inc()
}

// RecordImportPreview counts the valid and invalid rows of one preview.
func RecordImportPreview(source string, valid, invalid int) {
	ImportRowsTotal.WithLabelValues(source, "valid").Add(float64(valid))
	ImportRowsTotal.WithLabelValues(source, "invalid").Add(float64(invalid))
}

func RecordBatchCreate(outcome string) {
	BatchCreateTotal.WithLabelValues(outcome).Inc()
}
