// Package realm maps paths to their realm and access requirements.
//
// The route table is static and declarative. Each Route names its path, its
// title, and whether it is public or requires the admin role. Anything not in
// the table fails closed: it requires authentication, and under the admin
// prefix it also requires the admin role.
//
//	r := realm.Default()
//	r.Classify("/admin/users")   // {RequiresAuth: true, RequiresAdminRole: true}
//	r.LoginPathFor("/admin/users") // "/admin/login"
//	r.LandingPathFor(identity)     // "/admin/dashboard", "/user/dashboard" or "/user/bind"
//
// All methods expect canonical paths from routepath.Parse.
package realm
