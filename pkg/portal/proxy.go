package portal

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/quota-bridge/portal/pkg/auth"
	"github.com/quota-bridge/portal/pkg/routepath"
	"github.com/quota-bridge/portal/pkg/toast"
)

// RedirectHeader tells the client where to go after the backend rejected a
// proxied call.
const RedirectHeader = "X-Portal-Redirect"

const apiPrefix = "/api"

type tabKey struct{}

func (p *Portal) handleAPI(w http.ResponseWriter, r *http.Request) {
	if t, err := p.existingTab(r); err == nil {
		r = r.WithContext(context.WithValue(r.Context(), tabKey{}, t))
	}
	p.proxy.ServeHTTP(w, r)
}

// apiRealm returns the realm owning a backend path such as "/admin/users".
func apiRealm(path string) auth.Realm {
	if routepath.Under(path, "/admin") {
		return auth.RealmAdmin
	}
	return auth.RealmUser
}

// isAdminLogin reports whether path is the password exchange, the one admin
// call made without a bearer.
func isAdminLogin(path string) bool {
	return path == "/admin/login"
}

func backendPath(in *url.URL) string {
	path := strings.TrimPrefix(in.Path, apiPrefix)
	if path == "" {
		path = "/"
	}
	return path
}

func (p *Portal) newProxy(base *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			path := backendPath(pr.In.URL)
			pr.Out.URL.Path = path
			pr.Out.URL.RawPath = ""
			pr.SetURL(base)
			pr.SetXForwarded()

			t, _ := pr.In.Context().Value(tabKey{}).(*Tab)
			if t == nil || apiRealm(path) != auth.RealmAdmin || isAdminLogin(path) {
				return
			}
			if _, sess, ok := t.Sessions.Get(auth.RealmAdmin); ok {
				pr.Out.Header.Set("Authorization", "Bearer "+sess.Token)
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			if resp.StatusCode != http.StatusUnauthorized {
				return nil
			}
			// The outbound URL carries the backend base path.
			path := strings.TrimPrefix(resp.Request.URL.Path, strings.TrimSuffix(base.Path, "/"))
			if isAdminLogin(path) {
				return nil
			}

			rlm := apiRealm(path)
			resp.Header.Set(toast.HeaderName, toast.Warning(toast.MsgSessionExpired).HeaderValue())
			resp.Header.Set(RedirectHeader, p.resolver.LoginPath(rlm))
			if t, ok := resp.Request.Context().Value(tabKey{}).(*Tab); ok {
				p.invalidate(resp.Request, t, rlm, "api_401")
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			p.logger.Warn("backend proxy failed", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusBadGateway, "Backend unavailable, please try again later")
		},
	}
}
