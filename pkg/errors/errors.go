// Package errors defines the proxy's error taxonomy: a small set of
// sentinel errors, one per kind in the pipeline, wrapped in an AppError
// that carries the HTTP status code a handler should return.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAdmissionRejected = errors.New("query rejected by admission gate")
	ErrParseFailed       = errors.New("query could not be parsed")
	ErrBackingStore      = errors.New("backing store error")
	ErrCubeStore         = errors.New("cube store error")
	ErrSnapshot          = errors.New("snapshot error")
	ErrInvalidator       = errors.New("invalidator error")
	ErrInvalidInput      = errors.New("invalid input")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTimeout           = errors.New("operation timed out")
)

// AppError pairs a sentinel error kind with a human-readable message and
// the HTTP status code the transport layer should surface.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the HTTP status code the transport
// layer should respond with, defaulting to 500 for unrecognized errors.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrAdmissionRejected), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrBackingStore), errors.Is(err, ErrCubeStore), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
