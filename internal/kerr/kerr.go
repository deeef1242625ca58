// Package kerr defines the error kinds shared by the server and both
// device-side clients. Callers distinguish terminal from transient
// failures with errors.Is against these sentinels, never by inspecting
// message text.
package kerr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation marks a malformed request or payload. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an unknown or expired session or record. Terminal;
	// pairing must restart from scratch.
	ErrNotFound = errors.New("not found")
	// ErrAuth marks a bad credential or a stale/invalid token. Forces full
	// re-authentication.
	ErrAuth = errors.New("authentication failure")
	// ErrConflict marks an attempt to recreate or re-flip existing state.
	ErrConflict = errors.New("conflict")
	// ErrTransient marks a failure worth retrying on the next tick or pass.
	ErrTransient = errors.New("transient error")
)

// Validationf wraps a formatted message with ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// NotFoundf wraps a formatted message with ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Authf wraps a formatted message with ErrAuth.
func Authf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrAuth)...)
}

// Conflictf wraps a formatted message with ErrConflict.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

// Transientf wraps a formatted message with ErrTransient.
func Transientf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrTransient)...)
}

// IsTransient reports whether err is worth retrying. A nil error is not
// transient.
func IsTransient(err error) bool {
	return err != nil && errors.Is(err, ErrTransient)
}

// HTTPStatus maps an error to the status code the server responds with.
// Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// FromStatus classifies a server response status for the client side.
// 2xx yields nil. 5xx and anything unrecognized is transient: the poll
// loop or the next reconciliation pass retries it.
func FromStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusBadRequest:
		return Validationf("server rejected request")
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return Authf("server rejected credentials")
	case code == http.StatusNotFound:
		return NotFoundf("server has no such resource")
	case code == http.StatusConflict:
		return Conflictf("server reports conflicting state")
	default:
		return Transientf("server returned status %d", code)
	}
}
