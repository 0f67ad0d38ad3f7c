// Package errors provides structured, actionable errors for the portal's
// configuration and command line surfaces.
//
// Navigation failures never use this package: they end in a redirect.
// PortalError is for the failures an operator has to fix, such as a
// malformed portal.json, an unreachable storage backend or a route table
// that breaks an invariant.
//
// # Error Codes
//
// Each error has a unique code that maps to a short message, a detailed
// explanation and a category:
//
//	P100-P119  config
//	P120-P139  storage
//	P140-P159  backend
//	P160-P179  routes
//	P180-P199  cli
//
// # Usage
//
//	err := errors.New("P101").
//	    WithDetail("server.port must be between 0 and 65535").
//	    WithSuggestion("Set server.port in portal.json or PORTAL_PORT")
//
//	fmt.Println(err.Format())
package errors
