package jobapi

import (
	"errors"
	"net/http"
)

var (
	// ErrStart indicates that the server failed to start.
	ErrStart = errors.New("failed to start job API server")
	// ErrShutdown indicates that graceful shutdown failed.
	ErrShutdown = errors.New("failed to shutdown job API server gracefully")
	// ErrEnqueuerNil is returned by New without an enqueuer.
	ErrEnqueuerNil = errors.New("enqueuer cannot be nil")
	// ErrInspectorNil is returned by New without an inspector.
	ErrInspectorNil = errors.New("inspector cannot be nil")
	// ErrNilResponse indicates a handler returned nil instead of a Response.
	ErrNilResponse = errors.New("handler returned nil response")
)

// HTTPError is an error with a fixed status code and machine readable key
type HTTPError struct {
	Code    int
	Key     string
	Message string
}

func (e HTTPError) Error() string {
	return e.Message
}

func badRequest(key, message string) HTTPError {
	return HTTPError{Code: http.StatusBadRequest, Key: key, Message: message}
}
