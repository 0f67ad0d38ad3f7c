package authmw

import (
	"context"
	"net/http"

	"github.com/quota-bridge/portal/pkg/auth"
)

// Lookup returns the identity r holds in realm.
type Lookup func(r *http.Request, realm auth.Realm) (auth.Identity, bool)

// ErrorHandler writes the response for a rejected request. err is
// auth.ErrNotAuthenticated or auth.ErrForbidden.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type identityKey struct{}

// IdentityFrom returns the identity admitted by the middleware.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(auth.Identity)
	return id, ok
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

type options struct {
	onError ErrorHandler
}

// Option configures the middleware.
type Option func(*options)

// WithErrorHandler replaces the default plain-text error response.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *options) {
		o.onError = h
	}
}

func defaultError(w http.ResponseWriter, r *http.Request, err error) {
	status, ok := auth.StatusCode(err)
	if !ok {
		status = http.StatusInternalServerError
	}
	http.Error(w, http.StatusText(status), status)
}

// RequireRealm admits requests holding an identity in realm.
func RequireRealm(lookup Lookup, realm auth.Realm, opts ...Option) func(http.Handler) http.Handler {
	return require(lookup, realm, nil, opts)
}

// RequireRole admits requests whose identity in the role's realm has role.
// A request signed in to the realm with another role is forbidden.
func RequireRole(lookup Lookup, role auth.Role, opts ...Option) func(http.Handler) http.Handler {
	return require(lookup, role.Realm(), func(id auth.Identity) bool {
		return id.Role == role
	}, opts)
}

// RequireAny admits requests holding an identity in any realm, preferring
// the realms in the order given.
func RequireAny(lookup Lookup, realms []auth.Realm, opts ...Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, realm := range realms {
				if id, ok := lookup(r, realm); ok {
					next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
					return
				}
			}
			o.onError(w, r, auth.ErrNotAuthenticated)
		})
	}
}

func buildOptions(opts []Option) options {
	o := options{onError: defaultError}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func require(lookup Lookup, realm auth.Realm, allowed func(auth.Identity) bool, opts []Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := lookup(r, realm)
			if !ok {
				o.onError(w, r, auth.ErrNotAuthenticated)
				return
			}
			if allowed != nil && !allowed(id) {
				o.onError(w, r, auth.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
