package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the failure taxonomy. Handlers match these with
// errors.Is and map them to HTTP status codes via StatusCode.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("conflict")
	ErrWindowClosed    = errors.New("check-in window closed")
)

// NotFound wraps ErrNotFound with a resource description.
func NotFound(what string) error {
	return fmt.Errorf("%s: %w", what, ErrNotFound)
}

// Forbidden wraps ErrForbidden with a reason.
func Forbidden(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrForbidden)
}

// Validation wraps ErrValidation with a detail message.
func Validation(detail string) error {
	return fmt.Errorf("%s: %w", detail, ErrValidation)
}

// Conflict wraps ErrConflict with a detail message.
func Conflict(detail string) error {
	return fmt.Errorf("%s: %w", detail, ErrConflict)
}

// StatusCode maps a taxonomy error to its HTTP status. Anything outside the
// taxonomy is treated as unexpected and maps to 500; callers should log the
// full error and return only Message to the client.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrWindowClosed):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing message for err. Unexpected errors get a
// generic message so internals never leak.
func Message(err error) string {
	if StatusCode(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
