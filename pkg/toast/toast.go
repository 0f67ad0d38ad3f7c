package toast

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EventName is the DOM event name the shell dispatches for notices.
const EventName = "portal:toast"

// HeaderName carries an encoded Notice on redirect responses.
const HeaderName = "X-Portal-Notice"

// Type represents the notice level.
type Type string

const (
	TypeSuccess Type = "success"
	TypeError   Type = "error"
	TypeWarning Type = "warning"
	TypeInfo    Type = "info"
)

// Valid reports whether t is a known level.
func (t Type) Valid() bool {
	switch t {
	case TypeSuccess, TypeError, TypeWarning, TypeInfo:
		return true
	}
	return false
}

// Standard messages attached by the navigation guard.
const (
	MsgSignInRequired = "Please sign in first"
	MsgForbidden      = "You do not have permission to access this page"
	MsgAdminOnly      = "You do not have permission to access the admin console"
	MsgSignedOut      = "Signed out"
	MsgSessionExpired = "Your session has expired, please sign in again"
)

// Notice is a single non-blocking notification.
type Notice struct {
	Level   Type   `json:"level"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
}

// IsZero reports whether n carries nothing to show.
func (n Notice) IsZero() bool {
	return n.Message == ""
}

// Success creates a success notice.
//
//	toast.Success("Account linked")
func Success(message string) Notice {
	return Notice{Level: TypeSuccess, Message: message}
}

// Error creates an error notice.
func Error(message string) Notice {
	return Notice{Level: TypeError, Message: message}
}

// Warning creates a warning notice.
func Warning(message string) Notice {
	return Notice{Level: TypeWarning, Message: message}
}

// Info creates an info notice.
func Info(message string) Notice {
	return Notice{Level: TypeInfo, Message: message}
}

// WithTitle returns a copy of n with a title.
//
//	toast.Error("Login failed").WithTitle("Admin")
func (n Notice) WithTitle(title string) Notice {
	n.Title = title
	return n
}

// HeaderValue encodes n for HeaderName. Messages may hold any UTF-8 text,
// so the JSON form is base64url encoded to stay header-safe.
func (n Notice) HeaderValue() string {
	data, _ := json.Marshal(n)
	return base64.RawURLEncoding.EncodeToString(data)
}

// ParseHeader decodes a HeaderName value.
func ParseHeader(value string) (Notice, error) {
	data, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return Notice{}, fmt.Errorf("toast: bad header encoding: %w", err)
	}
	var n Notice
	if err := json.Unmarshal(data, &n); err != nil {
		return Notice{}, fmt.Errorf("toast: bad header payload: %w", err)
	}
	if !n.Level.Valid() {
		return Notice{}, fmt.Errorf("toast: unknown level %q", n.Level)
	}
	return n, nil
}
