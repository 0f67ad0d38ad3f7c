package guard

import (
	"net/url"
	"strings"

	"github.com/quota-bridge/portal/pkg/auth"
	"github.com/quota-bridge/portal/pkg/realm"
	"github.com/quota-bridge/portal/pkg/toast"
)

// RedirectParam is the query parameter carrying the post-login return target.
const RedirectParam = "redirect"

// Outcome is the terminal result of a navigation attempt.
type Outcome string

const (
	Allow             Outcome = "allow"
	RedirectLogin     Outcome = "redirect_login"
	RedirectForbidden Outcome = "redirect_forbidden"
	RedirectLanding   Outcome = "redirect_landing"
)

// Decision is the guard's answer for one navigation attempt.
type Decision struct {
	Outcome Outcome `json:"outcome"`

	// Target is the canonical form of the requested target, empty if it
	// could not be parsed.
	Target string `json:"target,omitempty"`

	// Location is where the browser ends up. For Allow it is the canonical
	// target after alias resolution, which may differ from the request.
	Location string `json:"location"`

	// ReturnTo is set on RedirectLogin so the login page can forward back.
	ReturnTo string `json:"return_to,omitempty"`

	// Realm is the realm the target belongs to.
	Realm auth.Realm `json:"realm,omitempty"`

	// Identity is the identity the decision was made for, if any.
	Identity *auth.Identity `json:"identity,omitempty"`

	Title       string        `json:"title,omitempty"`
	Breadcrumbs []realm.Crumb `json:"breadcrumbs,omitempty"`
	Notice      *toast.Notice `json:"notice,omitempty"`

	// Known is false when Location is not in the route table.
	Known bool `json:"known"`

	// Rule is the number of the rule that decided, 0 for unparsable targets.
	Rule int `json:"rule"`

	// Abandoned is set when the caller's context ended while the guard was
	// still waiting on a validation. Such a decision carries no outcome and
	// must be dropped.
	Abandoned bool `json:"-"`
}

// IsRedirect reports whether the browser must move somewhere else.
func (d Decision) IsRedirect() bool {
	return d.Outcome != Allow
}

// URL renders the decision's destination as an escaped URL, with the
// redirect parameter when a return target is carried.
func (d Decision) URL() string {
	path, query, _ := strings.Cut(d.Location, "?")
	u := url.URL{Path: path, RawQuery: query}
	if d.ReturnTo != "" {
		q := u.Query()
		q.Set(RedirectParam, d.ReturnTo)
		u.RawQuery = q.Encode()
	}
	return u.String()
}
