package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fairyhunter13/print-mes/internal/adapter/observability"
	"github.com/fairyhunter13/print-mes/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// resourceNotFound names the missing resource in the response message.
type resourceNotFound struct {
	resource string
	err      error
}

func (e *resourceNotFound) Error() string { return e.resource + " not found" }

func (e *resourceNotFound) Unwrap() error { return e.err }

// notFoundAs labels a not-found error with the resource it refers to. Other
// errors pass through unchanged.
func notFoundAs(resource string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return &resourceNotFound{resource: resource, err: err}
	}
	return err
}

// writeError maps domain errors to status codes and the error envelope.
// Field details carried by typed errors are used when details is nil.
func writeError(w http.ResponseWriter, r *http.Request, err error, details any) {
	var (
		ve *domain.ValidationError
		ce *domain.ConflictError
		te *domain.TransitionError
		nf *resourceNotFound
	)
	status := http.StatusInternalServerError
	code := "INTERNAL"
	msg := "Internal server error"
	switch {
	case errors.As(err, &ve):
		status, code, msg = http.StatusBadRequest, "INVALID_ARGUMENT", "Validation failed"
		if details == nil {
			details = ve.Details
		}
	case errors.Is(err, domain.ErrInvalidArgument):
		status, code, msg = http.StatusBadRequest, "INVALID_ARGUMENT", err.Error()
	case errors.As(err, &ce):
		status, code, msg = http.StatusConflict, "CONFLICT", ce.Message
		if details == nil {
			details = ce.Details
		}
		for _, d := range ce.Details {
			observability.RecordConflict(d.Field)
		}
	case errors.Is(err, domain.ErrConflict):
		status, code, msg = http.StatusConflict, "CONFLICT", err.Error()
	case errors.As(err, &te):
		status, code, msg = http.StatusForbidden, "FORBIDDEN_TRANSITION", te.Error()
	case errors.As(err, &nf):
		status, code, msg = http.StatusNotFound, "NOT_FOUND", nf.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, code, msg = http.StatusNotFound, "NOT_FOUND", "Not found"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code, msg = http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required"
	default:
		LoggerFrom(r).Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: msg, Details: details}})
}
