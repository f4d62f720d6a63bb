package httpserver

import (
	"encoding/json"
	"time"

	"github.com/fairyhunter13/print-mes/internal/domain"
	"github.com/fairyhunter13/print-mes/internal/usecase"
)

// LookupResponse is the wire form of a lookup.
type LookupResponse struct {
	ID         int64           `json:"id"`
	LookupType string          `json:"lookup_type"`
	Code       string          `json:"code"`
	Label      string          `json:"label"`
	SortOrder  int             `json:"sort_order"`
	IsActive   bool            `json:"is_active"`
	Attribute  json.RawMessage `json:"attribute"`
}

// JobResponse is the formatted job view: every lookup reference is
// populated, or null when the referenced row no longer exists.
type JobResponse struct {
	ID                string          `json:"id"`
	WorkOrder         string          `json:"work_order"`
	SalesOrder        string          `json:"sales_order"`
	QuantityOrder     int             `json:"quantity_order"`
	QuantityUnit      *LookupResponse `json:"quantity_unit"`
	WorkCenter        *LookupResponse `json:"work_center"`
	PlannedStartTime  time.Time       `json:"planned_start_time"`
	ReleaseDate       *time.Time      `json:"release_date"`
	DueDate           *time.Time      `json:"due_date"`
	JobPriority       *LookupResponse `json:"job_priority"`
	JobLifecycleState *LookupResponse `json:"job_lifecycle_state"`
	Notes             string          `json:"notes"`
	Attribute         json.RawMessage `json:"attribute"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// BatchCreateResponse reports a batch-create call. Outcome tells "nothing
// was created" (rejected) apart from "some rows failed" (partial).
type BatchCreateResponse struct {
	Outcome      usecase.BatchOutcome    `json:"outcome"`
	CreatedCount int                     `json:"created_count"`
	FailedCount  int                     `json:"failed_count"`
	Created      []JobResponse           `json:"created"`
	Errors       []domain.ImportRowError `json:"errors"`
}

func toLookupResponse(l domain.Lookup) LookupResponse {
	return LookupResponse{
		ID:         l.ID,
		LookupType: l.Type,
		Code:       l.Code,
		Label:      l.Label,
		SortOrder:  l.SortOrder,
		IsActive:   l.IsActive,
		Attribute:  rawOrNull(l.Attribute),
	}
}

func lookupPtr(l *domain.Lookup) *LookupResponse {
	if l == nil {
		return nil
	}
	v := toLookupResponse(*l)
	return &v
}

func toJobResponse(v domain.JobView) JobResponse {
	return JobResponse{
		ID:                v.ID,
		WorkOrder:         v.WorkOrder,
		SalesOrder:        v.SalesOrder,
		QuantityOrder:     v.QuantityOrder,
		QuantityUnit:      lookupPtr(v.QuantityUnitLookup),
		WorkCenter:        lookupPtr(v.WorkCenterLookup),
		PlannedStartTime:  v.PlannedStartTime,
		ReleaseDate:       v.ReleaseDate,
		DueDate:           v.DueDate,
		JobPriority:       lookupPtr(v.JobPriorityLookup),
		JobLifecycleState: lookupPtr(v.LifecycleStateLookup),
		Notes:             v.Notes,
		Attribute:         rawOrNull(v.Attribute),
		CreatedAt:         v.CreatedAt,
		UpdatedAt:         v.UpdatedAt,
	}
}

func toJobResponses(vs []domain.JobView) []JobResponse {
	out := make([]JobResponse, 0, len(vs))
	for _, v := range vs {
		out = append(out, toJobResponse(v))
	}
	return out
}

func toBatchCreateResponse(res usecase.BatchCreateResult) BatchCreateResponse {
	errs := res.Errors
	if errs == nil {
		errs = []domain.ImportRowError{}
	}
	return BatchCreateResponse{
		Outcome:      res.Outcome,
		CreatedCount: res.CreatedCount,
		FailedCount:  res.FailedCount,
		Created:      toJobResponses(res.Created),
		Errors:       errs,
	}
}

// rawOrNull keeps empty attributes from encoding as invalid JSON.
func rawOrNull(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	return b
}
