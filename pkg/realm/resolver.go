package realm

import (
	"fmt"

	"github.com/quota-bridge/portal/pkg/auth"
	"github.com/quota-bridge/portal/pkg/routepath"
)

// maxRedirects bounds alias chains in Resolve.
const maxRedirects = 8

// Classification is the access requirement of a path.
type Classification struct {
	Public            bool
	RequiresAuth      bool
	RequiresAdminRole bool

	// Known is false for paths missing from the route table.
	Known bool
}

// Crumb is one breadcrumb entry. The current page has no Path.
type Crumb struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

// Resolver answers path questions from a fixed route table.
// It is immutable and safe for concurrent use.
type Resolver struct {
	paths  Paths
	routes map[string]Route
	order  []Route
}

// New builds a Resolver. Paths and route paths are canonicalized; the login,
// forbidden and not-found pages must be public routes.
func New(paths Paths, routes []Route) (*Resolver, error) {
	var err error
	for _, p := range []*string{
		&paths.UserLogin, &paths.AdminLogin, &paths.Forbidden, &paths.NotFound,
		&paths.ServerError, &paths.UserLanding, &paths.AdminLanding, &paths.Bind,
		&paths.OAuthCallback, &paths.UserPrefix, &paths.AdminPrefix,
	} {
		orig := *p
		if *p, err = routepath.Clean(orig); err != nil {
			return nil, fmt.Errorf("realm: invalid path %q: %w", orig, err)
		}
	}
	if paths.UserPrefix == paths.AdminPrefix || paths.UserPrefix == "/" || paths.AdminPrefix == "/" {
		return nil, fmt.Errorf("realm: user and admin prefixes must be distinct and below root")
	}

	r := &Resolver{
		paths:  paths,
		routes: make(map[string]Route, len(routes)),
	}
	for _, route := range routes {
		orig := route.Path
		if route.Path, err = routepath.Clean(orig); err != nil {
			return nil, fmt.Errorf("realm: invalid route path %q: %w", orig, err)
		}
		if route.Redirect != "" {
			if route.Redirect, err = routepath.Clean(route.Redirect); err != nil {
				return nil, fmt.Errorf("realm: invalid redirect for %s: %w", route.Path, err)
			}
		}
		if route.Public && route.RequiresAdminRole {
			return nil, fmt.Errorf("realm: route %s cannot be public and admin-only", route.Path)
		}
		if route.Realm == "" && !route.Public {
			route.Realm = r.realmByPrefix(route.Path)
		}
		if route.Realm == auth.RealmAdmin && !route.Public && !route.RequiresAdminRole {
			return nil, fmt.Errorf("realm: admin route %s must require the admin role", route.Path)
		}
		if _, dup := r.routes[route.Path]; dup {
			return nil, fmt.Errorf("realm: duplicate route %s", route.Path)
		}
		r.routes[route.Path] = route
		r.order = append(r.order, route)
	}

	for _, p := range []string{paths.UserLogin, paths.AdminLogin, paths.Forbidden, paths.NotFound, paths.OAuthCallback} {
		if route, ok := r.routes[p]; !ok || !route.Public {
			return nil, fmt.Errorf("realm: %s must be a public route", p)
		}
	}
	return r, nil
}

// Default returns a Resolver over DefaultPaths and DefaultRoutes.
func Default() *Resolver {
	r, err := New(DefaultPaths(), DefaultRoutes())
	if err != nil {
		panic(err)
	}
	return r
}

// Paths returns the well-known pages.
func (r *Resolver) Paths() Paths {
	return r.paths
}

// Routes returns the route table in declaration order.
func (r *Resolver) Routes() []Route {
	return append([]Route(nil), r.order...)
}

// Lookup returns the route registered for path.
func (r *Resolver) Lookup(path string) (Route, bool) {
	route, ok := r.routes[path]
	return route, ok
}

// Resolve follows alias routes ("/admin" → "/admin/dashboard").
func (r *Resolver) Resolve(path string) string {
	for i := 0; i < maxRedirects; i++ {
		route, ok := r.routes[path]
		if !ok || route.Redirect == "" || route.Redirect == path {
			return path
		}
		path = route.Redirect
	}
	return path
}

// Classify returns the access requirement of path.
// Unknown paths require authentication, and the admin role under the admin prefix.
func (r *Resolver) Classify(path string) Classification {
	route, ok := r.routes[path]
	if !ok {
		return Classification{
			RequiresAuth:      true,
			RequiresAdminRole: r.IsAdminPath(path),
		}
	}
	if route.Public {
		return Classification{Public: true, Known: true}
	}
	return Classification{
		RequiresAuth:      true,
		RequiresAdminRole: route.RequiresAdminRole,
		Known:             true,
	}
}

// IsAdminPath reports whether path lies under the admin prefix.
func (r *Resolver) IsAdminPath(path string) bool {
	return routepath.Under(path, r.paths.AdminPrefix)
}

// IsUserPath reports whether path lies under the user prefix.
func (r *Resolver) IsUserPath(path string) bool {
	return routepath.Under(path, r.paths.UserPrefix)
}

func (r *Resolver) realmByPrefix(path string) auth.Realm {
	if r.IsAdminPath(path) {
		return auth.RealmAdmin
	}
	return auth.RealmUser
}

// RealmOf returns the realm a navigation to path belongs to.
// Everything outside the admin prefix, root included, is the user realm.
func (r *Resolver) RealmOf(path string) auth.Realm {
	if route, ok := r.routes[path]; ok && route.Realm != "" {
		return route.Realm
	}
	return r.realmByPrefix(path)
}

// LoginPathFor returns the login page of path's realm.
func (r *Resolver) LoginPathFor(path string) string {
	return r.LoginPath(r.RealmOf(path))
}

// LoginPath returns the login page of realm.
func (r *Resolver) LoginPath(realm auth.Realm) string {
	if realm == auth.RealmAdmin {
		return r.paths.AdminLogin
	}
	return r.paths.UserLogin
}

// LandingPathFor returns where identity starts: the admin dashboard for
// admins, the user dashboard for bound users, and the binding page for
// users who have not linked an account yet.
func (r *Resolver) LandingPathFor(identity auth.Identity) string {
	switch {
	case identity.SubjectID == "":
		return r.paths.UserLogin
	case identity.IsAdmin():
		return r.paths.AdminLanding
	case identity.IsBound():
		return r.paths.UserLanding
	default:
		return r.paths.Bind
	}
}

// IsSharedCallback reports whether path is the OAuth callback, the one user
// realm page an admin may visit.
func (r *Resolver) IsSharedCallback(path string) bool {
	return path == r.paths.OAuthCallback
}

// Title returns the page title for path, or "" if it has none.
func (r *Resolver) Title(path string) string {
	if route, ok := r.routes[path]; ok {
		return route.Title
	}
	return ""
}

// Breadcrumbs returns the trail for path: the realm's home, then every titled
// non-alias route on the way down to path. The last crumb is not a link.
func (r *Resolver) Breadcrumbs(path string) []Crumb {
	var crumbs []Crumb

	switch {
	case r.IsAdminPath(path):
		crumbs = append(crumbs, Crumb{Name: r.homeTitle(r.paths.AdminPrefix, "Admin Console"), Path: r.paths.AdminLanding})
	case r.IsUserPath(path):
		crumbs = append(crumbs, Crumb{Name: "Home", Path: r.paths.UserLanding})
	}

	prefix := ""
	for _, seg := range routepath.Segments(path) {
		prefix += "/" + seg
		route, ok := r.routes[prefix]
		if !ok || route.Title == "" || route.Redirect != "" {
			continue
		}
		if hasCrumb(crumbs, prefix) {
			continue
		}
		crumbs = append(crumbs, Crumb{Name: route.Title, Path: prefix})
	}

	if n := len(crumbs); n > 0 && crumbs[n-1].Path == path {
		crumbs[n-1].Path = ""
	}
	return crumbs
}

func (r *Resolver) homeTitle(prefix, fallback string) string {
	if route, ok := r.routes[prefix]; ok && route.Title != "" {
		return route.Title
	}
	return fallback
}

func hasCrumb(crumbs []Crumb, path string) bool {
	for _, c := range crumbs {
		if c.Path == path {
			return true
		}
	}
	return false
}
