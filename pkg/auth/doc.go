// Package auth defines the identity model shared by every part of the portal.
//
// The portal mediates two independent privilege realms:
//
//   - RealmUser: ordinary end users, established by the third-party OAuth
//     callback. Their credential usually lives in the backend's HTTP-only
//     cookie, so the stored token is the CookieSessionToken sentinel.
//   - RealmAdmin: administrators, established by password login. Their
//     credential is a bearer token returned by the backend.
//
// An Identity is exactly one Role. The role is fixed by how the session was
// established and is never inferred from the path being visited.
//
// # Error Taxonomy
//
// Auth failures are recovered locally by the navigation guard and are never
// surfaced as hard errors:
//
//	ErrNotAuthenticated     → redirect to the realm's login page
//	ErrForbidden            → redirect to the forbidden page
//	ErrValidationTransport  → treated as ErrNotAuthenticated (fail closed)
//	ErrCorruptState         → slot purged, treated as ErrNotAuthenticated
//
// Use StatusCode to map them onto HTTP responses:
//
//	if code, ok := auth.StatusCode(err); ok {
//	    w.WriteHeader(code)
//	}
package auth
