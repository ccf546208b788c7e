package apperr

import (
	"errors"
	"net/http"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrUnauthenticated = errors.New("not authenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrPersistence     = errors.New("persistence failure")
)

// Error carries a kind, a client-safe message and an optional cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

func Validation(msg string) error { return &Error{Kind: ErrValidation, Message: msg} }

func Forbidden(msg string) error { return &Error{Kind: ErrForbidden, Message: msg} }

func NotFound(msg string) error { return &Error{Kind: ErrNotFound, Message: msg} }

func RateLimited(msg string) error { return &Error{Kind: ErrRateLimited, Message: msg} }

func Unauthenticated(msg string) error { return &Error{Kind: ErrUnauthenticated, Message: msg} }

// Persistence wraps a storage error. The cause is kept for logs only.
func Persistence(msg string, err error) error {
	return &Error{Kind: ErrPersistence, Message: msg, Err: err}
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text safe to show to API clients.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		if errors.Is(err, ErrPersistence) {
			return "internal error"
		}
		return appErr.Message
	}
	return "internal error"
}
