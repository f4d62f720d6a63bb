package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/print-mes/internal/adapter/observability"
	"github.com/fairyhunter13/print-mes/internal/config"
	"github.com/fairyhunter13/print-mes/internal/domain"
	obsctx "github.com/fairyhunter13/print-mes/internal/observability"
	"github.com/fairyhunter13/print-mes/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Jobs       usecase.JobService
	Imports    usecase.ImportService
	Lookups    usecase.LookupService
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
// A nil check is skipped by /readyz.
func NewServer(cfg config.Config, jobs usecase.JobService, imports usecase.ImportService, dbCheck, redisCheck func(context.Context) error) *Server {
	return &Server{
		Cfg:        cfg,
		Jobs:       jobs,
		Imports:    imports,
		Lookups:    jobs.Lookups,
		DBCheck:    dbCheck,
		RedisCheck: redisCheck,
	}
}

// withJobID tags the request logger with the job id path param.
func withJobID(r *http.Request) (*http.Request, string) {
	id := chi.URLParam(r, "id")
	return r.WithContext(obsctx.ContextWithAttrs(r.Context(), slog.String("job_id", id))), id
}

// ListJobsHandler returns every job ordered by planned start time.
func (s *Server) ListJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := s.Jobs.List(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponses(jobs))
	}
}

// DashboardHandler returns job counts per lifecycle state.
func (s *Server) DashboardHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := s.Jobs.Dashboard(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

// GetJobHandler returns one job.
func (s *Server) GetJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r, id := withJobID(r)
		v, err := s.Jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, notFoundAs("Job", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(v))
	}
}

// CreateJobHandler adds a job in SCHEDULED and answers 201.
func (s *Server) CreateJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		in, err := usecase.DecodeJobInput(body)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		v, err := s.Jobs.Add(r.Context(), in)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		observability.RecordJobCreated("api", 1)
		w.Header().Set("Location", "/v1/jobs/"+v.ID)
		writeJSON(w, http.StatusCreated, toJobResponse(v))
	}
}

// UpdateJobHandler applies a partial update to a SCHEDULED job.
func (s *Server) UpdateJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r, id := withJobID(r)
		body, err := readBody(w, r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		in, err := usecase.DecodeJobInput(body)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		v, err := s.Jobs.Update(r.Context(), id, in)
		if err != nil {
			writeError(w, r, notFoundAs("Job", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(v))
	}
}

// DeleteJobHandler removes a SCHEDULED job and returns its last view.
func (s *Server) DeleteJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r, id := withJobID(r)
		v, err := s.Jobs.Remove(r.Context(), id)
		if err != nil {
			writeError(w, r, notFoundAs("Job", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(v))
	}
}

// TransitionHandler applies the lifecycle action named by the {action} path
// segment. Unknown actions answer 404 like any other unrouted path.
func (s *Server) TransitionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r, id := withJobID(r)
		raw := chi.URLParam(r, "action")
		action, ok := domain.ParseAction(raw)
		if !ok {
			writeError(w, r, notFoundAs("Action", fmt.Errorf("op=job.transition action=%q: %w", raw, domain.ErrNotFound)), nil)
			return
		}
		v, err := s.Jobs.Transition(r.Context(), id, action)
		if err != nil {
			writeError(w, r, notFoundAs("Job", err), nil)
			return
		}
		observability.RecordTransition(string(action), string(v.State()))
		writeJSON(w, http.StatusOK, toJobResponse(v))
	}
}

// ListLookupsHandler lists lookups, optionally filtered by ?type=.
func (s *Server) ListLookupsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ls, err := s.Lookups.List(r.Context(), strings.ToUpper(r.URL.Query().Get("type")))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]LookupResponse, 0, len(ls))
		for _, l := range ls {
			out = append(out, toLookupResponse(l))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GetLookupHandler returns one lookup by numeric id.
func (s *Server) GetLookupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, r, domain.NewValidationError(domain.FieldError{Field: "id", Message: "id must be an integer"}), nil)
			return
		}
		l, err := s.Lookups.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, notFoundAs("Lookup", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, toLookupResponse(l))
	}
}

// ReadyzHandler probes the configured dependencies.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 2)
		ok := true
		for _, c := range []struct {
			name string
			fn   func(context.Context) error
		}{{"db", s.DBCheck}, {"redis", s.RedisCheck}} {
			if c.fn == nil {
				continue
			}
			if err := c.fn(ctx); err != nil {
				ok = false
				checks = append(checks, check{Name: c.name, Details: fmt.Sprintf("%v", err)})
				continue
			}
			checks = append(checks, check{Name: c.name, OK: true})
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
