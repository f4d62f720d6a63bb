package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/print-mes/internal/adapter/httpserver"
	"github.com/fairyhunter13/print-mes/internal/adapter/observability"
	"github.com/fairyhunter13/print-mes/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id", "Location", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	requestTimeout := orDefault(cfg.RequestTimeout, 30*time.Second)
	batchTimeout := orDefault(cfg.ImportBatchTimeout, 5*time.Minute)

	r.Route("/v1", func(v1 chi.Router) {
		// Read-only endpoints
		v1.Group(func(rd chi.Router) {
			rd.Use(httpserver.TimeoutMiddleware(requestTimeout))
			rd.Get("/jobs", srv.ListJobsHandler())
			rd.Get("/jobs/dashboard", srv.DashboardHandler())
			rd.Get("/jobs/import/template", srv.ImportTemplateHandler())
			rd.Get("/jobs/{id}", srv.GetJobHandler())
			rd.Get("/lookups", srv.ListLookupsHandler())
			rd.Get("/lookups/{id}", srv.GetLookupHandler())
		})

		// Rate limit mutating endpoints
		v1.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
			if cfg.OperatorAuthEnabled() {
				wr.Use(httpserver.OperatorAuth(cfg.OperatorUsername, cfg.OperatorPasswordHash))
			}
			// Batch create inserts row by row; cutting it at the request
			// timeout would answer 503 while rows are still being written.
			wr.With(httpserver.WriteDeadline(batchTimeout+5*time.Second), httpserver.TimeoutMiddleware(batchTimeout)).
				Post("/jobs/batch", srv.BatchCreateHandler())

			wr.Group(func(tw chi.Router) {
				tw.Use(httpserver.TimeoutMiddleware(requestTimeout))
				tw.Post("/jobs", srv.CreateJobHandler())
				tw.Post("/jobs/import/preview", srv.PreviewUploadHandler())
				tw.Post("/jobs/import/preview-json", srv.PreviewJSONHandler())
				tw.Put("/jobs/{id}", srv.UpdateJobHandler())
				tw.Delete("/jobs/{id}", srv.DeleteJobHandler())
				tw.Patch("/jobs/{id}/{action}", srv.TransitionHandler())
			})
		})
	})

	// Health and metrics
	r.Group(func(ops chi.Router) {
		ops.Use(httpserver.TimeoutMiddleware(requestTimeout))
		ops.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		ops.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })
		ops.Get("/readyz", srv.ReadyzHandler())
	})

	return httpserver.SecurityHeaders(r)
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
