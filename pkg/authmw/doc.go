// Package authmw provides route-level authentication/authorization middleware
// for plain net/http handlers.
//
// The middleware does not know where identities live. Callers supply a
// Lookup that finds the identity a request holds in a realm; the portal
// looks in the requesting tab's session store.
//
//	r.With(authmw.RequireRealm(lookup, auth.RealmUser)).Post("/bind", bind)
//
// Handlers behind the middleware read the identity with IdentityFrom.
package authmw
