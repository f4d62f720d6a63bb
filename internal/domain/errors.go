package domain

import (
	"fmt"
	"strings"
)

// FieldError attributes a failure to a single input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is malformed or missing input. It is never partially applied.
type ValidationError struct {
	Details []FieldError
}

// NewValidationError builds a ValidationError from the given field errors.
func NewValidationError(details ...FieldError) *ValidationError {
	return &ValidationError{Details: details}
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, d.Field+": "+d.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidArgument }

// ConflictError is a uniqueness or schedule slot collision.
type ConflictError struct {
	Message string
	Details []FieldError
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewWorkOrderConflict reports a duplicate work order.
func NewWorkOrderConflict() *ConflictError {
	return &ConflictError{
		Message: "Work order already exists",
		Details: []FieldError{{Field: "work_order", Message: "Work order already exists"}},
	}
}

// NewScheduleConflict reports a work center slot collision.
func NewScheduleConflict() *ConflictError {
	return &ConflictError{
		Message: "Schedule conflict",
		Details: []FieldError{{Field: "planned_start_time", Message: ScheduleConflictMessage}},
	}
}

// ScheduleConflictMessage is shared by single-record and import conflict reports.
const ScheduleConflictMessage = "planned_start_time conflicts with another job in the same work_center"

// TransitionError is a lifecycle action attempted from a state that does not
// allow it, or an edit/delete outside SCHEDULED.
type TransitionError struct {
	Action string
	State  LifecycleState
	// Gate is set for the edit/delete gate rather than a table transition.
	Gate bool
}

func (e *TransitionError) Error() string {
	if e.Gate {
		return fmt.Sprintf("Cannot %s job unless status is %s", e.Action, StateScheduled)
	}
	return fmt.Sprintf("Cannot %s job from status %s", e.Action, e.State)
}

func (e *TransitionError) Unwrap() error { return ErrForbiddenTransition }

// ImportRowError is a row-scoped import failure. Many may coexist in one preview.
type ImportRowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}
