// Package guard decides, for every navigation attempt, whether it may
// proceed and where to send it otherwise.
//
// Evaluate applies an ordered rule chain; the first matching rule wins:
//
//  1. public target: allow
//  2. exactly "/": landing page of the signed-in identity, else user login
//  3. target requires auth and neither realm holds an identity: validate the
//     target's realm once; a positive answer is stored, a negative one
//     redirects to that realm's login page with redirect=<target>
//  4. target requires the admin role and the identity is not admin: forbidden
//  5. admin identity on a user realm page other than the OAuth callback:
//     admin landing page
//  6. non-admin identity on an admin realm page: forbidden
//  7. allow
//
// Every path ends in exactly one of four outcomes: Allow, RedirectLogin,
// RedirectForbidden or RedirectLanding. Targets that cannot be parsed fail
// closed to the forbidden page.
//
// A Navigator wraps a Guard for one browser tab and makes sure a decision
// for an attempt that has since been superseded is never applied.
package guard
