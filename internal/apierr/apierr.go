// Package apierr is the small typed error hierarchy the API layer maps onto
// HTTP status codes: sentinel errors rather than exception-as-control-flow,
// matching the rest of this codebase's queue.ErrEntryNotFound-style idiom.
package apierr

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound maps to 404: the referenced task/pool/instance doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict maps to 409: an idempotency key collided with different
	// parameters, or the requested operation is invalid for the current state.
	ErrConflict = errors.New("conflict")
	// ErrBadRequest maps to 400: malformed or mutually exclusive parameters.
	ErrBadRequest = errors.New("bad request")
	// ErrUnauthorized maps to 401: missing or invalid bearer token.
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusCode maps err to the HTTP status the API should respond with,
// walking the wrapped chain for one of the sentinels above. An
// unrecognized error is treated as an internal error.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
