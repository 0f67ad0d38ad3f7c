package portal

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"

	"github.com/quota-bridge/portal/pkg/auth"
	"github.com/quota-bridge/portal/pkg/guard"
	"github.com/quota-bridge/portal/pkg/realm"
	"github.com/quota-bridge/portal/pkg/toast"
)

// noticeCookie carries a notice across one redirect.
const noticeCookie = "portal_notice"

// Bootstrap is the state handed to the client application on a page load.
type Bootstrap struct {
	Tab         string         `json:"tab"`
	Path        string         `json:"path"`
	Title       string         `json:"title,omitempty"`
	Breadcrumbs []realm.Crumb  `json:"breadcrumbs,omitempty"`
	Realm       auth.Realm     `json:"realm,omitempty"`
	Identity    *auth.Identity `json:"identity,omitempty"`
	Notice      *toast.Notice  `json:"notice,omitempty"`
	Known       bool           `json:"known"`
	Status      int            `json:"status"`
	WS          string         `json:"ws"`
	Paths       realm.Paths    `json:"paths"`
}

var shellTemplate = template.Must(template.New("shell").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{if .Title}}{{.Title}} · {{end}}Portal</title>
</head>
<body>
<div id="app"></div>
<noscript>This portal requires JavaScript.</noscript>
<script>window.__PORTAL__ = {{.Bootstrap}};</script>
</body>
</html>
`))

func (p *Portal) handlePage(w http.ResponseWriter, r *http.Request) {
	t, err := p.tabFor(w, r)
	if err != nil {
		p.logger.Error("tab restore failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	requested := r.URL.RequestURI()
	d, err := t.Navigator.Navigate(p.requestContext(r), requested)
	switch {
	case errors.Is(err, guard.ErrAbandoned):
		p.logger.Debug("page load abandoned", "tab", t.ID, "target", requested)
		return
	case err != nil && !errors.Is(err, guard.ErrSuperseded):
		p.logger.Error("navigation failed", "tab", t.ID, "target", requested, "error", err)
	}

	// Allowed targets spelled in a non-canonical form are redirected too.
	if d.IsRedirect() || d.URL() != requested {
		if d.Notice != nil {
			p.setNotice(w, *d.Notice)
		}
		http.Redirect(w, r, d.URL(), http.StatusFound)
		return
	}

	notice := d.Notice
	if notice == nil {
		notice = p.takeNotice(w, r)
	}

	status := http.StatusOK
	if !d.Known {
		status = http.StatusNotFound
	}

	boot := Bootstrap{
		Tab:         t.ID,
		Path:        d.Location,
		Title:       d.Title,
		Breadcrumbs: d.Breadcrumbs,
		Realm:       d.Realm,
		Identity:    d.Identity,
		Notice:      notice,
		Known:       d.Known,
		Status:      status,
		WS:          "/_portal/ws",
		Paths:       p.resolver.Paths(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := p.shell.Execute(w, struct {
		Title     string
		Bootstrap Bootstrap
	}{d.Title, boot}); err != nil {
		p.logger.Error("render failed", "tab", t.ID, "error", err)
	}
}

func (p *Portal) setNotice(w http.ResponseWriter, n toast.Notice) {
	http.SetCookie(w, &http.Cookie{
		Name:     noticeCookie,
		Value:    n.HeaderValue(),
		Path:     "/",
		MaxAge:   30,
		HttpOnly: true,
		Secure:   p.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// takeNotice consumes the notice set before the last redirect.
func (p *Portal) takeNotice(w http.ResponseWriter, r *http.Request) *toast.Notice {
	c, err := r.Cookie(noticeCookie)
	if err != nil {
		return nil
	}
	http.SetCookie(w, &http.Cookie{Name: noticeCookie, Path: "/", MaxAge: -1})
	n, err := toast.ParseHeader(c.Value)
	if err != nil || n.IsZero() {
		return nil
	}
	return &n
}

type sessionView struct {
	Tab   string         `json:"tab"`
	User  *auth.Identity `json:"user"`
	Admin *auth.Identity `json:"admin"`
}

func (p *Portal) handleSession(w http.ResponseWriter, r *http.Request) {
	t, err := p.tabFor(w, r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session unavailable")
		return
	}
	view := sessionView{Tab: t.ID}
	if id, _, ok := t.Sessions.Get(auth.RealmUser); ok {
		view.User = &id
	}
	if id, _, ok := t.Sessions.Get(auth.RealmAdmin); ok {
		view.Admin = &id
	}
	writeData(w, http.StatusOK, view)
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}
