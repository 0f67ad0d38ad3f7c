package portal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/quota-bridge/portal/pkg/auth"
	"github.com/quota-bridge/portal/pkg/authmw"
	"github.com/quota-bridge/portal/pkg/backend"
	"github.com/quota-bridge/portal/pkg/routepath"
	"github.com/quota-bridge/portal/pkg/toast"
)

// returnCookie holds the post-login target across the OAuth round trip.
const returnCookie = "portal_return"

const maxBodyBytes = 16 << 10

type locationView struct {
	Location string `json:"location"`
}

// statusFor maps a backend or auth error to the status returned to the browser.
func statusFor(err error) int {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 {
		return apiErr.Status
	}
	if code, ok := auth.StatusCode(err); ok {
		return code
	}
	return http.StatusInternalServerError
}

// messageFor returns the text shown for err.
func messageFor(err error) string {
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	case errors.Is(err, auth.ErrValidationTransport):
		return "Backend unavailable, please try again later"
	case errors.Is(err, auth.ErrNotAuthenticated):
		return "Authentication failed"
	default:
		return "Internal error"
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (p *Portal) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if target, ok := routepath.SafeRedirect(r.URL.Query().Get("redirect")); ok {
		http.SetCookie(w, &http.Cookie{
			Name:     returnCookie,
			Value:    target,
			Path:     "/",
			MaxAge:   600,
			HttpOnly: true,
			Secure:   p.config.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}

	u, err := p.backend.OAuthURL(r.Context())
	if err != nil {
		p.logger.Warn("oauth url unavailable", "error", err)
		p.setNotice(w, toast.Error(messageFor(err)).WithTitle("Sign in failed"))
		http.Redirect(w, r, p.resolver.LoginPath(auth.RealmUser), http.StatusFound)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

func (p *Portal) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	t, err := p.tabFor(w, r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	login := p.resolver.LoginPath(auth.RealmUser)

	q := r.URL.Query()
	if msg := q.Get("error"); msg != "" {
		p.setNotice(w, toast.Error(msg).WithTitle("Sign in failed"))
		http.Redirect(w, r, login, http.StatusFound)
		return
	}

	res, err := p.backend.OAuthCallback(r.Context(), q.Get("code"), q.Get("state"))
	if err != nil {
		p.logger.Warn("oauth callback failed", "tab", t.ID, "error", err)
		p.setNotice(w, toast.Error(messageFor(err)).WithTitle("Sign in failed"))
		http.Redirect(w, r, login, http.StatusFound)
		return
	}
	if err := t.Sessions.SetIdentity(r.Context(), res.Identity, res.Session); err != nil {
		p.logger.Error("store oauth identity failed", "tab", t.ID, "error", err)
		p.setNotice(w, toast.Error("Could not save your session").WithTitle("Sign in failed"))
		http.Redirect(w, r, login, http.StatusFound)
		return
	}

	for _, c := range res.Cookies {
		c.Domain = ""
		http.SetCookie(w, c)
	}

	target := p.resolver.LandingPathFor(res.Identity)
	if c, err := r.Cookie(returnCookie); err == nil {
		if ret, ok := routepath.SafeRedirect(c.Value); ok && res.Identity.IsBound() && p.resolver.IsUserPath(ret) {
			target = ret
		}
		http.SetCookie(w, &http.Cookie{Name: returnCookie, Path: "/", MaxAge: -1})
	}

	name := res.Identity.DisplayName
	if name == "" {
		name = res.Identity.SubjectID
	}
	p.setNotice(w, toast.Success("Signed in as "+name))
	http.Redirect(w, r, target, http.StatusFound)
}

type adminLoginRequest struct {
	Password string `json:"password"`
	Redirect string `json:"redirect,omitempty"`
}

func (p *Portal) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	t, err := p.tabFor(w, r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session unavailable")
		return
	}
	if !t.loginLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "Too many sign in attempts, please wait")
		return
	}

	var req adminLoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, sess, err := p.backend.AdminLogin(r.Context(), req.Password)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			writeError(w, http.StatusUnauthorized, "Invalid password")
			return
		}
		p.logger.Warn("admin login failed", "tab", t.ID, "error", err)
		writeError(w, status, messageFor(err))
		return
	}
	if err := t.Sessions.SetIdentity(r.Context(), id, sess); err != nil {
		p.logger.Error("store admin identity failed", "tab", t.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Could not save your session")
		return
	}

	location := p.resolver.LandingPathFor(id)
	if ret, ok := routepath.SafeRedirect(req.Redirect); ok && p.resolver.IsAdminPath(ret) {
		location = ret
	}
	w.Header().Set(toast.HeaderName, toast.Success("Signed in as administrator").HeaderValue())
	writeData(w, http.StatusOK, locationView{Location: location})
}

func (p *Portal) handleLogout(w http.ResponseWriter, r *http.Request) {
	rlm := auth.RealmUser
	if s := r.URL.Query().Get("realm"); s != "" {
		parsed, err := auth.ParseRealm(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rlm = parsed
	}
	location := p.resolver.LoginPath(rlm)

	if rlm == auth.RealmUser {
		if err := p.backend.Logout(r.Context(), backend.CredentialsFromRequest(r)); err != nil {
			p.logger.Warn("backend logout failed", "error", err)
		}
		http.SetCookie(w, &http.Cookie{Name: backend.SessionCookie, Path: "/", MaxAge: -1, HttpOnly: true})
	}

	if t, err := p.existingTab(r); err == nil {
		if err := t.Sessions.Clear(r.Context(), rlm); err != nil {
			p.logger.Error("clear session failed", "tab", t.ID, "realm", rlm, "error", err)
			writeError(w, http.StatusInternalServerError, "Could not clear your session")
			return
		}
		p.metrics.RecordInvalidation(string(rlm), "logout")
	}

	w.Header().Set(toast.HeaderName, toast.Info(toast.MsgSignedOut).HeaderValue())
	writeData(w, http.StatusOK, locationView{Location: location})
}

type bindRequest struct {
	Username string `json:"username"`
}

func (p *Portal) handleBind(w http.ResponseWriter, r *http.Request) {
	t, err := p.existingTab(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, toast.MsgSignInRequired)
		return
	}
	identity, _ := authmw.IdentityFrom(r.Context())

	var req bindRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := p.backend.BindAccount(r.Context(), backend.CredentialsFromRequest(r), req.Username)
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			p.invalidate(r, t, auth.RealmUser, "bind_401")
			w.Header().Set(toast.HeaderName, toast.Warning(toast.MsgSessionExpired).HeaderValue())
		}
		writeError(w, statusFor(err), messageFor(err))
		return
	}

	identity.BoundExternalAccount = req.Username
	if user != nil && user.KyxUsername != "" {
		identity.BoundExternalAccount = user.KyxUsername
	}
	if err := t.Sessions.UpdateIdentity(r.Context(), identity); err != nil {
		p.logger.Error("store bound identity failed", "tab", t.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Could not save your session")
		return
	}

	w.Header().Set(toast.HeaderName, toast.Success("Account linked").HeaderValue())
	writeData(w, http.StatusOK, locationView{Location: p.resolver.LandingPathFor(identity)})
}

// invalidate clears realm after the backend rejected its credential.
func (p *Portal) invalidate(r *http.Request, t *Tab, rlm auth.Realm, source string) {
	if !t.Sessions.IsAuthenticated(rlm) {
		return
	}
	if err := t.Sessions.Clear(r.Context(), rlm); err != nil {
		p.logger.Error("clear session failed", "tab", t.ID, "realm", rlm, "error", err)
		return
	}
	p.metrics.RecordInvalidation(string(rlm), source)
	p.logger.Info("session invalidated", "tab", t.ID, "realm", rlm, "source", source)
}
