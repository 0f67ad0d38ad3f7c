package auth

import (
	"fmt"
	"strings"
	"time"
)

// Realm is one of the two independent privilege domains.
// Each realm owns its own session slot and its own login/landing paths.
type Realm string

const (
	RealmUser  Realm = "user"
	RealmAdmin Realm = "admin"
)

// Realms lists every realm in restore order.
var Realms = []Realm{RealmUser, RealmAdmin}

// ParseRealm converts a string into a Realm.
func ParseRealm(s string) (Realm, error) {
	switch Realm(strings.ToLower(strings.TrimSpace(s))) {
	case RealmUser:
		return RealmUser, nil
	case RealmAdmin:
		return RealmAdmin, nil
	default:
		return "", fmt.Errorf("unknown realm %q", s)
	}
}

// Valid reports whether r is a known realm.
func (r Realm) Valid() bool {
	return r == RealmUser || r == RealmAdmin
}

// Other returns the opposite realm.
func (r Realm) Other() Realm {
	if r == RealmAdmin {
		return RealmUser
	}
	return RealmAdmin
}

// StorageKey is the durable storage key of the realm's session slot.
// The two keys are independent so the realms can never be merged.
func (r Realm) StorageKey() string {
	return string(r) + "-session"
}

// Role is the privilege of an Identity.
// It is derived from how the session was established, never from a path.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Realm returns the realm whose slot holds identities of this role.
func (r Role) Realm() Realm {
	if r == RoleAdmin {
		return RealmAdmin
	}
	return RealmUser
}

// CookieSessionToken is the sentinel token stored when the real credential
// lives in the backend's HTTP-only cookie.
const CookieSessionToken = "session-cookie"

// Identity is an authenticated subject, either a regular user or an administrator.
type Identity struct {
	// SubjectID is the opaque external identifier.
	SubjectID string `json:"subject_id"`

	// DisplayName is the human readable name.
	DisplayName string `json:"display_name,omitempty"`

	// Role is exactly one of user or admin.
	Role Role `json:"role"`

	// BoundExternalAccount is set once a user links a downstream account.
	BoundExternalAccount string `json:"bound_account,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// IsAdmin reports whether the identity holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// IsBound reports whether a downstream account is linked.
func (i Identity) IsBound() bool {
	return strings.TrimSpace(i.BoundExternalAccount) != ""
}

// Session is the credential binding an Identity to the browser context.
type Session struct {
	// Token is a bearer token or CookieSessionToken.
	Token string `json:"token"`

	EstablishedAt time.Time `json:"established_at,omitempty"`

	// Realm mirrors Identity.Role.
	Realm Realm `json:"realm"`
}

// UsesCookie reports whether the credential is held by the backend cookie.
func (s Session) UsesCookie() bool {
	return s.Token == CookieSessionToken
}

// NewSession creates a session for the given identity, stamped with now.
func NewSession(identity Identity, token string, now time.Time) Session {
	return Session{
		Token:         token,
		EstablishedAt: now,
		Realm:         identity.Role.Realm(),
	}
}

// Check validates that identity and session form a usable pair.
func Check(identity Identity, session Session) error {
	if strings.TrimSpace(identity.SubjectID) == "" {
		return fmt.Errorf("%w: empty subject id", ErrInvalidIdentity)
	}
	if !identity.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidIdentity, identity.Role)
	}
	if strings.TrimSpace(session.Token) == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidIdentity)
	}
	if session.Realm != identity.Role.Realm() {
		return fmt.Errorf("%w: role %s cannot live in realm %s", ErrInvalidIdentity, identity.Role, session.Realm)
	}
	return nil
}
