package backend

import (
	"context"

	"github.com/quota-bridge/portal/pkg/auth"
	"github.com/quota-bridge/portal/pkg/validator"
)

// RealmChecker checks realm sessions against the backend. The credentials
// come from the context, see ContextWithCredentials.
//
// Only the user realm has a check endpoint. An admin session is trusted for
// as long as it is stored and is invalidated by a 401 on an admin API call.
type RealmChecker struct {
	client *Client
}

var _ validator.Checker = (*RealmChecker)(nil)

// NewRealmChecker creates a checker backed by c.
func NewRealmChecker(c *Client) *RealmChecker {
	return &RealmChecker{client: c}
}

// Check implements validator.Checker.
func (rc *RealmChecker) Check(ctx context.Context, r auth.Realm) (validator.Result, error) {
	if r != auth.RealmUser {
		return validator.Result{}, validator.ErrUnsupportedRealm
	}

	res, err := rc.client.CheckAuth(ctx, CredentialsFromContext(ctx))
	if err != nil {
		return validator.Result{}, err
	}
	if !res.Authenticated || res.User == nil {
		return validator.Result{}, nil
	}

	id := res.User.Identity(auth.RoleUser)
	return validator.Result{
		Authenticated: true,
		Identity:      id,
		Session:       auth.NewSession(id, auth.CookieSessionToken, rc.client.now()),
	}, nil
}
