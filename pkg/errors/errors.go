// Package errors defines the error taxonomy shared by every layer of the
// service and maps each kind to an HTTP status code.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrInvalidInput         = errors.New("invalid input")
	ErrRateLimited          = errors.New("rate limit exceeded")
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrAuthorResolution     = errors.New("author not found")
	ErrDigestComputation    = errors.New("cannot create image digest")
	ErrDirectoryUnavailable = errors.New("profile directory unavailable")
	ErrLimiterUnavailable   = errors.New("rate limiter unavailable")
	ErrStoreUnavailable     = errors.New("post store unavailable")
	ErrInternal             = errors.New("internal error")
	ErrTimeout              = errors.New("operation timed out")
)

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

// Wrap attaches a sentinel kind to a dependency error while keeping the cause
// reachable through errors.Is / errors.As.
func Wrap(sentinel error, cause error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if cause == nil {
		return fmt.Errorf("%w: %s", sentinel, msg)
	}
	return fmt.Errorf("%w: %s: %w", sentinel, msg, cause)
}

// Retryable reports whether err is a dependency outage the caller may retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrDirectoryUnavailable) ||
		errors.Is(err, ErrLimiterUnavailable) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrTimeout)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case Retryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
