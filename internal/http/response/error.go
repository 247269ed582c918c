package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/imrahulmane/job-queue/internal/queue"
)

// ErrorResponse is the standard error response shape.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BadRequest sends a 400 Bad Request error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, "INVALID_REQUEST", message, http.StatusBadRequest)
}

// NotFound sends a 404 Not Found error.
func NotFound(w http.ResponseWriter, resource string) {
	Error(w, "NOT_FOUND", resource+" not found", http.StatusNotFound)
}

// Conflict sends a 409 Conflict/invalid-state error.
func Conflict(w http.ResponseWriter, message string) {
	Error(w, "CONFLICT", message, http.StatusConflict)
}

// InternalError sends a 500 Internal Server Error. The real error is
// logged server-side with request context; the client only gets a generic
// message so store errors never leak connection strings or query text.
func InternalError(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		slog.ErrorContext(r.Context(), "internal server error", "error", err)
	}
	Error(w, "INTERNAL_ERROR", "an internal error occurred", http.StatusInternalServerError)
}

// Error sends a generic structured error response.
func Error(w http.ResponseWriter, code, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message},
	})
}

// FromStoreError maps the queue package's sentinel errors to the
// appropriate HTTP response, matching §7's error taxonomy: not-found and
// state-conditioned failures surface as 404/400, anything unrecognized is
// a transient store error and surfaces as 500.
func FromStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		NotFound(w, "job")
	case errors.Is(err, queue.ErrNotCancellable):
		BadRequest(w, "job is not in a cancellable state")
	case errors.Is(err, queue.ErrNotRetryable):
		BadRequest(w, "job is not in a retryable state")
	case errors.Is(err, queue.ErrTooManyJobs):
		BadRequest(w, "bulk request exceeds maximum job count")
	case errors.Is(err, queue.ErrEmptyBulk):
		BadRequest(w, "bulk request must contain at least one job")
	case errors.Is(err, queue.ErrInvalidLimit):
		BadRequest(w, "limit out of allowed range")
	default:
		InternalError(w, r, err)
	}
}
