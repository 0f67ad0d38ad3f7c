package auth

import (
	"errors"
	"net/http"
)

// ErrNotAuthenticated is returned when no valid session exists.
// It is recovered locally by redirecting to a login page.
var ErrNotAuthenticated = errors.New("unauthorized: authentication required")

// ErrForbidden is returned when a session exists but the role or realm is wrong.
// It is recovered locally by redirecting to the forbidden page.
var ErrForbidden = errors.New("forbidden: insufficient permissions")

// ErrValidationTransport reports a network or backend failure while checking a
// session. Callers treat it exactly like ErrNotAuthenticated.
var ErrValidationTransport = errors.New("session validation transport failure")

// ErrCorruptState reports persisted session data that could not be decoded.
// The slot is purged and the realm is treated as not authenticated.
var ErrCorruptState = errors.New("corrupt persisted session state")

// ErrInvalidIdentity is returned when an identity/session pair is incomplete
// or inconsistent.
var ErrInvalidIdentity = errors.New("invalid identity")

// StatusCode returns the appropriate HTTP status code for an auth error.
// Returns (statusCode, true) for auth errors, (0, false) otherwise.
func StatusCode(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	switch {
	case errors.Is(err, ErrNotAuthenticated), errors.Is(err, ErrCorruptState):
		return http.StatusUnauthorized, true
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, true
	case errors.Is(err, ErrValidationTransport):
		return http.StatusBadGateway, true
	default:
		return 0, false
	}
}

// IsAuthError returns true if the error belongs to the auth taxonomy.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrValidationTransport) ||
		errors.Is(err, ErrCorruptState)
}
