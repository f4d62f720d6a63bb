package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/print-mes/internal/adapter/repo/memory"
	"github.com/fairyhunter13/print-mes/internal/domain"
	"github.com/fairyhunter13/print-mes/internal/usecase"
)

var seedLookups = []domain.Lookup{
	{Type: domain.LookupJobPriority, Code: "HIGH", Label: "High", SortOrder: 1, IsActive: true},
	{Type: domain.LookupJobPriority, Code: "LOW", Label: "Low", SortOrder: 3, IsActive: true},
	{Type: domain.LookupJobLifecycle, Code: "SCHEDULED", SortOrder: 1, IsActive: true},
	{Type: domain.LookupJobLifecycle, Code: "RELEASED", SortOrder: 2, IsActive: true},
	{Type: domain.LookupJobLifecycle, Code: "RUNNING", SortOrder: 3, IsActive: true},
	{Type: domain.LookupJobLifecycle, Code: "SUSPENDED", SortOrder: 4, IsActive: true},
	{Type: domain.LookupJobLifecycle, Code: "COMPLETED", SortOrder: 5, IsActive: true},
	{Type: domain.LookupJobLifecycle, Code: "CLOSED", SortOrder: 7, IsActive: true},
	{Type: domain.LookupQuantityUnit, Code: "BK", Label: "BK", SortOrder: 1, IsActive: true},
	{Type: domain.LookupQuantityUnit, Code: "OLD", Label: "Retired", SortOrder: 9, IsActive: false},
	{Type: domain.LookupWorkCenter, Code: "Jasuindo.OffsetPrinter.Taiyo1", SortOrder: 1, IsActive: true},
	{Type: domain.LookupWorkCenter, Code: "Jasuindo.OffsetPrinter.Taiyo2", SortOrder: 2, IsActive: true},
}

type fixture struct {
	store   *memory.Store
	jobs    usecase.JobService
	imports usecase.ImportService
	ids     map[string]int64
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	lookups := usecase.NewLookupService(store.Lookups())
	require.NoError(t, lookups.Seed(context.Background(), seedLookups))
	ids := map[string]int64{}
	for _, l := range seedLookups {
		got, err := store.Lookups().FindByCode(context.Background(), l.Type, l.Code)
		require.NoError(t, err)
		ids[l.Code] = got.ID
	}
	jobs := usecase.NewJobService(store.Jobs(), store.Lookups(), nil)
	return fixture{
		store:   store,
		jobs:    jobs,
		imports: usecase.NewImportService(jobs, usecase.DefaultImportPolicy(100)),
		ids:     ids,
	}
}

var t0 = time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC)

// payload builds a valid create payload on Taiyo1 at t0 with overrides applied.
func (f fixture) payload(t *testing.T, overrides map[string]any) usecase.JobInput {
	t.Helper()
	body := map[string]any{
		"work_order":         "WO-1",
		"sales_order":        "SO-1",
		"quantity_unit":      f.ids["BK"],
		"work_center":        f.ids["Jasuindo.OffsetPrinter.Taiyo1"],
		"job_priority":       f.ids["HIGH"],
		"planned_start_time": t0.Format(time.RFC3339),
	}
	for k, v := range overrides {
		if v == nil {
			delete(body, k)
			continue
		}
		body[k] = v
	}
	return mustInput(t, body)
}

func mustInput(t *testing.T, v any) usecase.JobInput {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	in, err := usecase.DecodeJobInput(b)
	require.NoError(t, err)
	return in
}

func (f fixture) add(t *testing.T, overrides map[string]any) domain.JobView {
	t.Helper()
	v, err := f.jobs.Add(context.Background(), f.payload(t, overrides))
	require.NoError(t, err)
	return v
}

func fieldErrors(t *testing.T, err error) []domain.FieldError {
	t.Helper()
	require.Error(t, err)
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve.Details
	}
	var ce *domain.ConflictError
	if errors.As(err, &ce) {
		return ce.Details
	}
	t.Fatalf("unexpected error type %T: %v", err, err)
	return nil
}
