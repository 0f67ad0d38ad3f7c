package realm

import "github.com/quota-bridge/portal/pkg/auth"

// Route is one entry of the route table.
type Route struct {
	Path  string `json:"path"`
	Title string `json:"title"`

	// Realm is the realm that owns the page. Empty for shared public pages.
	Realm auth.Realm `json:"realm,omitempty"`

	// Public routes are allowed for everyone, signed in or not.
	Public bool `json:"public,omitempty"`

	// RequiresAdminRole restricts the route to admin identities.
	RequiresAdminRole bool `json:"requires_admin_role,omitempty"`

	// Redirect makes the route an alias for another path. Aliases are
	// resolved before any access rule runs.
	Redirect string `json:"redirect,omitempty"`
}

// Paths are the well-known pages the guard redirects to.
type Paths struct {
	UserLogin     string `json:"user_login"`
	AdminLogin    string `json:"admin_login"`
	Forbidden     string `json:"forbidden"`
	NotFound      string `json:"not_found"`
	ServerError   string `json:"server_error"`
	UserLanding   string `json:"user_landing"`
	AdminLanding  string `json:"admin_landing"`
	Bind          string `json:"bind"`
	OAuthCallback string `json:"oauth_callback"`

	UserPrefix  string `json:"user_prefix"`
	AdminPrefix string `json:"admin_prefix"`
}

// DefaultPaths returns the portal's standard page layout.
func DefaultPaths() Paths {
	return Paths{
		UserLogin:     "/user/login",
		AdminLogin:    "/admin/login",
		Forbidden:     "/403",
		NotFound:      "/404",
		ServerError:   "/500",
		UserLanding:   "/user/dashboard",
		AdminLanding:  "/admin/dashboard",
		Bind:          "/user/bind",
		OAuthCallback: "/user/oauth/callback",
		UserPrefix:    "/user",
		AdminPrefix:   "/admin",
	}
}

// DefaultRoutes returns the portal's route table.
func DefaultRoutes() []Route {
	return []Route{
		// Public
		{Path: "/user/login", Title: "Sign In", Realm: auth.RealmUser, Public: true},
		{Path: "/user/oauth/callback", Title: "OAuth Callback", Realm: auth.RealmUser, Public: true},
		{Path: "/admin/login", Title: "Admin Sign In", Realm: auth.RealmAdmin, Public: true},
		{Path: "/403", Title: "403 - Forbidden", Public: true},
		{Path: "/404", Title: "404 - Not Found", Public: true},
		{Path: "/500", Title: "500 - Server Error", Public: true},

		// User realm
		{Path: "/user", Title: "User Center", Realm: auth.RealmUser, Redirect: "/user/dashboard"},
		{Path: "/user/dashboard", Title: "Dashboard", Realm: auth.RealmUser},
		{Path: "/user/bind", Title: "Bind Account", Realm: auth.RealmUser},
		{Path: "/user/claim", Title: "Claim Quota", Realm: auth.RealmUser},
		{Path: "/user/donate", Title: "Donate Keys", Realm: auth.RealmUser},

		// Admin realm
		{Path: "/admin", Title: "Admin Console", Realm: auth.RealmAdmin, RequiresAdminRole: true, Redirect: "/admin/dashboard"},
		{Path: "/admin/dashboard", Title: "Dashboard", Realm: auth.RealmAdmin, RequiresAdminRole: true},
		{Path: "/admin/config", Title: "System Config", Realm: auth.RealmAdmin, RequiresAdminRole: true},
		{Path: "/admin/keys", Title: "Key Management", Realm: auth.RealmAdmin, RequiresAdminRole: true},
		{Path: "/admin/claims", Title: "Claim Records", Realm: auth.RealmAdmin, RequiresAdminRole: true},
		{Path: "/admin/donates", Title: "Donation Records", Realm: auth.RealmAdmin, RequiresAdminRole: true},
		{Path: "/admin/users", Title: "User Management", Realm: auth.RealmAdmin, RequiresAdminRole: true},
	}
}
