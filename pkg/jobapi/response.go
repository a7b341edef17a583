package jobapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrymomot/jobkit/pkg/queue"
	"github.com/dmitrymomot/jobkit/pkg/validator"
)

// Response renders itself to an http.ResponseWriter.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// JSONResponse is the envelope of every API response
type JSONResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

type jsonResponse struct {
	status int
	body   JSONResponse
}

func (j jsonResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSONOption configures JSON response
type JSONOption func(*jsonResponse)

// WithStatus sets custom HTTP status code
func WithStatus(status int) JSONOption {
	return func(r *jsonResponse) {
		r.status = status
	}
}

// WithMeta adds metadata to response
func WithMeta(meta map[string]any) JSONOption {
	return func(r *jsonResponse) {
		r.body.Meta = meta
	}
}

// JSON wraps v in the response envelope with status 200
func JSON(v any, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusOK, body: JSONResponse{Data: v}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JSONError renders err with the status its kind maps to
func JSONError(err error, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusInternalServerError}
	r.body.Error = errorToDetail(err, &r.status)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// errorToDetail converts err to ErrorDetail and sets the matching status.
// Storage failures keep a generic message so internals never reach clients.
func errorToDetail(err error, status *int) *ErrorDetail {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		*status = httpErr.Code
		return &ErrorDetail{Code: httpErr.Key, Message: httpErr.Message}
	}

	switch {
	case errors.Is(err, queue.ErrValidation):
		*status = http.StatusBadRequest
		detail := &ErrorDetail{Code: "validation_error", Message: err.Error()}
		if verrs := validator.ExtractValidationErrors(err); len(verrs) > 0 {
			detail.Details = verrs.Map()
		}
		return detail
	case validator.IsValidationError(err):
		*status = http.StatusBadRequest
		return &ErrorDetail{
			Code:    "validation_error",
			Message: "request validation failed",
			Details: validator.ExtractValidationErrors(err).Map(),
		}
	case errors.Is(err, queue.ErrInvalidPriority):
		*status = http.StatusBadRequest
		return &ErrorDetail{Code: "invalid_priority", Message: queue.ErrInvalidPriority.Error()}
	case errors.Is(err, queue.ErrUnknownJobType):
		*status = http.StatusNotFound
		return &ErrorDetail{Code: "unknown_job_type", Message: err.Error()}
	case errors.Is(err, queue.ErrUnknownQueue):
		*status = http.StatusNotFound
		return &ErrorDetail{Code: "unknown_queue", Message: err.Error()}
	case errors.Is(err, queue.ErrJobNotFound):
		*status = http.StatusNotFound
		return &ErrorDetail{Code: "job_not_found", Message: queue.ErrJobNotFound.Error()}
	case errors.Is(err, queue.ErrParentNotFound):
		*status = http.StatusUnprocessableEntity
		return &ErrorDetail{Code: "parent_not_found", Message: queue.ErrParentNotFound.Error()}
	case errors.Is(err, queue.ErrParentFinished):
		*status = http.StatusConflict
		return &ErrorDetail{Code: "parent_finished", Message: queue.ErrParentFinished.Error()}
	case errors.Is(err, queue.ErrJobNotFailed):
		*status = http.StatusConflict
		return &ErrorDetail{Code: "job_not_failed", Message: err.Error()}
	case errors.Is(err, queue.ErrJobExists):
		*status = http.StatusConflict
		return &ErrorDetail{Code: "job_exists", Message: queue.ErrJobExists.Error()}
	}

	*status = http.StatusInternalServerError
	return &ErrorDetail{Code: "internal_error", Message: http.StatusText(http.StatusInternalServerError)}
}
