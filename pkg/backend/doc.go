// Package backend is the HTTP client for the quota bridge API.
//
// Every response uses the envelope {success, message, data}. Failures map
// onto the auth error taxonomy:
//
//	401                      auth.ErrNotAuthenticated
//	403                      auth.ErrForbidden
//	5xx, transport, garbage  auth.ErrValidationTransport
//	other non-2xx            *APIError
//
// Calls run behind a circuit breaker. While the breaker is open every call
// fails with auth.ErrValidationTransport, so session checks fail closed.
package backend
