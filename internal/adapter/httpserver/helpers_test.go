package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/print-mes/internal/adapter/repo/memory"
	"github.com/fairyhunter13/print-mes/internal/config"
	"github.com/fairyhunter13/print-mes/internal/domain"
	"github.com/fairyhunter13/print-mes/internal/usecase"
)

var testLookups = []domain.Lookup{
	{Type: domain.LookupJobPriority, Code: "HIGH", Label: "High", SortOrder: 1, IsActive: true},
	{Type: domain.LookupJobPriority, Code: "LOW", Label: "Low", SortOrder: 3, IsActive: true},
	{Type: domain.LookupJobLifecycle, Code: "SCHEDULED", SortOrder: 1, IsActive: true},
	{Type: domain.LookupJobLifecycle, Code: "RELEASED", SortOrder: 2, IsActive: true},
	{Type: domain.LookupJobLifecycle, Code: "RUNNING", SortOrder: 3, IsActive: true},
	{Type: domain.LookupJobLifecycle, Code: "SUSPENDED", SortOrder: 4, IsActive: true},
	{Type: domain.LookupJobLifecycle, Code: "COMPLETED", SortOrder: 5, IsActive: true},
	{Type: domain.LookupJobLifecycle, Code: "CLOSED", SortOrder: 7, IsActive: true},
	{Type: domain.LookupQuantityUnit, Code: "BK", Label: "BK", SortOrder: 1, IsActive: true},
	{Type: domain.LookupWorkCenter, Code: "Jasuindo.OffsetPrinter.Taiyo1", SortOrder: 1, IsActive: true},
	{Type: domain.LookupWorkCenter, Code: "Jasuindo.OffsetPrinter.Taiyo2", SortOrder: 2, IsActive: true},
}

type testEnv struct {
	srv *Server
	h   http.Handler
	ids map[string]int64
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, usecase.NewLookupService(store.Lookups()).Seed(ctx, testLookups))
	ids := map[string]int64{}
	for _, l := range testLookups {
		got, err := store.Lookups().FindByCode(ctx, l.Type, l.Code)
		require.NoError(t, err)
		ids[l.Code] = got.ID
	}
	jobs := usecase.NewJobService(store.Jobs(), store.Lookups(), nil)
	srv := NewServer(config.Config{MaxUploadMB: 1}, jobs, usecase.NewImportService(jobs, usecase.DefaultImportPolicy(50)), nil, nil)
	return testEnv{srv: srv, h: testRouter(srv), ids: ids}
}

func testRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/", s.ListJobsHandler())
		r.Post("/", s.CreateJobHandler())
		r.Get("/dashboard", s.DashboardHandler())
		r.Get("/import/template", s.ImportTemplateHandler())
		r.Post("/import/preview", s.PreviewUploadHandler())
		r.Post("/import/preview-json", s.PreviewJSONHandler())
		r.Post("/batch", s.BatchCreateHandler())
		r.Get("/{id}", s.GetJobHandler())
		r.Put("/{id}", s.UpdateJobHandler())
		r.Delete("/{id}", s.DeleteJobHandler())
		r.Patch("/{id}/{action}", s.TransitionHandler())
	})
	r.Get("/v1/lookups", s.ListLookupsHandler())
	r.Get("/v1/lookups/{id}", s.GetLookupHandler())
	r.Get("/readyz", s.ReadyzHandler())
	return r
}

func (e testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

// jobBody is a valid create payload on Taiyo1 with overrides applied.
func (e testEnv) jobBody(t *testing.T, overrides map[string]any) string {
	t.Helper()
	body := map[string]any{
		"work_order":         "WO-1",
		"sales_order":        "SO-1",
		"quantity_unit":      e.ids["BK"],
		"work_center":        e.ids["Jasuindo.OffsetPrinter.Taiyo1"],
		"job_priority":       e.ids["HIGH"],
		"planned_start_time": "2026-02-20T08:00:00Z",
	}
	for k, v := range overrides {
		body[k] = v
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return string(b)
}

func (e testEnv) create(t *testing.T, overrides map[string]any) JobResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/jobs", e.jobBody(t, overrides))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var v JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type errorBody struct {
	Error struct {
		Code    string              `json:"code"`
		Message string              `json:"message"`
		Details []domain.FieldError `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var e errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e
}

func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/import/preview", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
