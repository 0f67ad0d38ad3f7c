package backend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/quota-bridge/portal/pkg/auth"
)

// AdminSubject is the subject of an administrator identity the backend did
// not describe.
const AdminSubject = "admin"

// SessionCookie is the backend cookie carrying the user realm session.
const SessionCookie = "session_id"

// envelope is the common response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e envelope) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// APIError is a business rejection from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: status %d", e.Status)
	}
	return fmt.Sprintf("backend: %s (status %d)", e.Message, e.Status)
}

// User is the backend's description of an end user.
type User struct {
	LinuxDoID   string `json:"linux_do_id"`
	Username    string `json:"username"`
	KyxUsername string `json:"kyx_username,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// Identity converts u into an identity holding role.
func (u User) Identity(role auth.Role) auth.Identity {
	id := auth.Identity{
		SubjectID:            u.LinuxDoID,
		DisplayName:          u.Username,
		Role:                 role,
		BoundExternalAccount: u.KyxUsername,
	}
	if id.SubjectID == "" {
		id.SubjectID = u.Username
	}
	if t, err := time.Parse(time.RFC3339, u.CreatedAt); err == nil {
		id.CreatedAt = t
	}
	return id
}

// CheckResult is the answer of GET /auth/check.
type CheckResult struct {
	Authenticated bool  `json:"authenticated"`
	User          *User `json:"user,omitempty"`
}

// Credentials are what the browser would have sent with a request.
type Credentials struct {
	// Cookies are forwarded verbatim.
	Cookies []*http.Cookie

	// Token is sent as a bearer token when set.
	Token string
}

// IsZero reports whether c carries nothing.
func (c Credentials) IsZero() bool {
	return len(c.Cookies) == 0 && strings.TrimSpace(c.Token) == ""
}

// CredentialsFromRequest collects the credentials on an incoming request.
func CredentialsFromRequest(r *http.Request) Credentials {
	var c Credentials
	c.Cookies = r.Cookies()
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		c.Token = strings.TrimPrefix(h, "Bearer ")
	}
	return c
}

// OAuthResult is the outcome of a successful OAuth code exchange.
type OAuthResult struct {
	Identity auth.Identity
	Session  auth.Session

	// Cookies are the backend's Set-Cookie headers, to be relayed to the
	// browser.
	Cookies []*http.Cookie
}
