package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/print-mes/internal/domain"
)

type respErr struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func Test_writeError_Mapping(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{"validation", domain.NewValidationError(domain.FieldError{Field: "id", Message: "Invalid UUID format"}), http.StatusBadRequest, "INVALID_ARGUMENT", "Validation failed"},
		{"invalid", fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), http.StatusBadRequest, "INVALID_ARGUMENT", "invalid argument: invalid json"},
		{"work order", domain.NewWorkOrderConflict(), http.StatusConflict, "CONFLICT", "Work order already exists"},
		{"lock busy", fmt.Errorf("%w: work_order:WO-1 is being modified, retry later", domain.ErrConflict), http.StatusConflict, "CONFLICT", "conflict: work_order:WO-1 is being modified, retry later"},
		{"transition", &domain.TransitionError{Action: "run", State: domain.StateScheduled}, http.StatusForbidden, "FORBIDDEN_TRANSITION", "Cannot run job from status SCHEDULED"},
		{"gate", &domain.TransitionError{Action: "delete", Gate: true}, http.StatusForbidden, "FORBIDDEN_TRANSITION", "Cannot delete job unless status is SCHEDULED"},
		{"job missing", notFoundAs("Job", fmt.Errorf("op=job.get: %w", domain.ErrNotFound)), http.StatusNotFound, "NOT_FOUND", "Job not found"},
		{"missing", domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "Not found"},
		{"unauthorized", domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required"},
		{"internal", fmt.Errorf("op=job.list: %w", errors.New("conn reset")), http.StatusInternalServerError, "INTERNAL", "Internal server error"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rw := httptest.NewRecorder()
			writeError(rw, httptest.NewRequest(http.MethodGet, "/", nil), c.err, nil)
			require.Equal(t, c.wantStatus, rw.Code)
			var e respErr
			require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &e))
			assert.Equal(t, c.wantCode, e.Error.Code)
			assert.Equal(t, c.wantMessage, e.Error.Message)
		})
	}
}

func Test_writeError_Details(t *testing.T) {
	rw := httptest.NewRecorder()
	writeError(rw, httptest.NewRequest(http.MethodGet, "/", nil), domain.NewScheduleConflict(), nil)
	var e respErr
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &e))
	assert.JSONEq(t, `[{"field":"planned_start_time","message":"`+domain.ScheduleConflictMessage+`"}]`, string(e.Error.Details))

	rw = httptest.NewRecorder()
	writeError(rw, httptest.NewRequest(http.MethodGet, "/", nil), domain.ErrNotFound, map[string]string{"id": "x"})
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &e))
	assert.JSONEq(t, `{"id":"x"}`, string(e.Error.Details))
}

func Test_notFoundAs_PassesOtherErrors(t *testing.T) {
	err := errors.New("boom")
	assert.Same(t, err, notFoundAs("Job", err))
}
