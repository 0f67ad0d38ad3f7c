package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quota-bridge/portal/pkg/auth"
	"github.com/quota-bridge/portal/pkg/telemetry"
	"github.com/quota-bridge/portal/pkg/validator"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func writeEnvelope(w http.ResponseWriter, status int, success bool, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": success,
		"message": message,
		"data":    data,
	})
}

func newTestClient(t *testing.T, h http.Handler, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/api", testLogger, opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return c, srv
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8080", "ftp://example.com", "http://", "://bad"} {
		if _, err := New(raw, nil); err == nil {
			t.Errorf("New(%q) succeeded", raw)
		}
	}
}

func TestCheckAuth(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantAuth bool
		wantErr  error
	}{
		{
			name: "authenticated",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, 200, true, "", map[string]any{
					"authenticated": true,
					"user":          map[string]any{"linux_do_id": "42", "username": "alice", "kyx_username": "kyx-alice"},
				})
			},
			wantAuth: true,
		},
		{
			name: "negative answer",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, 200, true, "", map[string]any{"authenticated": false})
			},
		},
		{
			name: "business rejection",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, 200, false, "not logged in", nil)
			},
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
			},
			wantErr: auth.ErrNotAuthenticated,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			wantErr: auth.ErrValidationTransport,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, "<html>")
			},
			wantErr: auth.ErrValidationTransport,
		},
		{
			name: "malformed data",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, 200, true, "", "not an object")
			},
			wantErr: auth.ErrValidationTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, tt.handler)
			res, err := c.CheckAuth(context.Background(), Credentials{})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CheckAuth error: %v", err)
			}
			if res.Authenticated != tt.wantAuth {
				t.Fatalf("Authenticated = %v, want %v", res.Authenticated, tt.wantAuth)
			}
		})
	}
}

func TestCheckAuthForwardsCredentials(t *testing.T) {
	var gotCookie, gotAuth, gotPath string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if ck, err := r.Cookie(SessionCookie); err == nil {
			gotCookie = ck.Value
		}
		gotAuth = r.Header.Get("Authorization")
		writeEnvelope(w, 200, true, "", map[string]any{"authenticated": false})
	}))

	creds := Credentials{
		Cookies: []*http.Cookie{{Name: SessionCookie, Value: "abc"}},
		Token:   "tok",
	}
	if _, err := c.CheckAuth(context.Background(), creds); err != nil {
		t.Fatalf("CheckAuth error: %v", err)
	}
	if gotPath != "/api/auth/check" {
		t.Errorf("path = %q", gotPath)
	}
	if gotCookie != "abc" {
		t.Errorf("cookie = %q", gotCookie)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestAdminLogin(t *testing.T) {
	t.Run("with user", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if r.Method != http.MethodPost || r.URL.Path != "/api/admin/login" || body["password"] != "secret" {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			writeEnvelope(w, 200, true, "ok", map[string]any{
				"token": "t-1",
				"user":  map[string]any{"username": "root"},
			})
		}))

		id, sess, err := c.AdminLogin(context.Background(), "secret")
		if err != nil {
			t.Fatalf("AdminLogin error: %v", err)
		}
		if id.Role != auth.RoleAdmin || id.SubjectID != "root" {
			t.Errorf("identity = %+v", id)
		}
		if sess.Token != "t-1" || sess.Realm != auth.RealmAdmin {
			t.Errorf("session = %+v", sess)
		}
	})

	t.Run("without user", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, 200, true, "", map[string]any{"token": "t-2"})
		}))
		id, _, err := c.AdminLogin(context.Background(), "secret")
		if err != nil {
			t.Fatalf("AdminLogin error: %v", err)
		}
		if id.SubjectID != AdminSubject || !id.IsAdmin() {
			t.Errorf("identity = %+v", id)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusUnauthorized, false, "invalid password", nil)
		}))
		_, _, err := c.AdminLogin(context.Background(), "nope")
		if !errors.Is(err, auth.ErrNotAuthenticated) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, 200, false, "invalid password", nil)
		}))
		_, _, err := c.AdminLogin(context.Background(), "nope")
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Message != "invalid password" {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("no token", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, 200, true, "", map[string]any{})
		}))
		_, _, err := c.AdminLogin(context.Background(), "secret")
		if !errors.Is(err, auth.ErrValidationTransport) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("empty password", func(t *testing.T) {
		var hits int32
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
		}))
		if _, _, err := c.AdminLogin(context.Background(), ""); err == nil {
			t.Fatal("expected error")
		}
		if hits != 0 {
			t.Fatal("empty password reached the backend")
		}
	})
}

func TestOAuthFlow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/url", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 200, true, "", map[string]string{"url": "https://connect.example/authorize?client_id=x"})
	})
	mux.HandleFunc("/api/auth/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("code") != "c-1" || r.URL.Query().Get("state") != "s-1" {
			writeEnvelope(w, 400, false, "bad code", nil)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "sess-1", Path: "/", HttpOnly: true})
		writeEnvelope(w, 200, true, "", map[string]any{
			"linux_do_id": "7",
			"username":    "bob",
			"created_at":  "2024-05-01T10:00:00Z",
		})
	})
	c, _ := newTestClient(t, mux)

	u, err := c.OAuthURL(context.Background())
	if err != nil || u != "https://connect.example/authorize?client_id=x" {
		t.Fatalf("OAuthURL = %q, %v", u, err)
	}

	res, err := c.OAuthCallback(context.Background(), "c-1", "s-1")
	if err != nil {
		t.Fatalf("OAuthCallback error: %v", err)
	}
	if res.Identity.SubjectID != "7" || res.Identity.IsBound() || res.Identity.CreatedAt.Year() != 2024 {
		t.Errorf("identity = %+v", res.Identity)
	}
	if !res.Session.UsesCookie() {
		t.Errorf("session = %+v", res.Session)
	}
	if len(res.Cookies) != 1 || res.Cookies[0].Value != "sess-1" {
		t.Errorf("cookies = %v", res.Cookies)
	}

	_, err = c.OAuthCallback(context.Background(), "wrong", "s-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 400 {
		t.Fatalf("err = %v", err)
	}
}

func TestBindAccount(t *testing.T) {
	var got map[string]string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/user/bind" {
			http.NotFound(w, r)
			return
		}
		if _, err := r.Cookie(SessionCookie); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeEnvelope(w, 200, true, "", map[string]any{"linux_do_id": "7", "username": "bob", "kyx_username": got["kyx_username"]})
	}))

	creds := Credentials{Cookies: []*http.Cookie{{Name: SessionCookie, Value: "sess-1"}}}
	user, err := c.BindAccount(context.Background(), creds, "  kyx-bob ")
	if err != nil {
		t.Fatalf("BindAccount error: %v", err)
	}
	if got["kyx_username"] != "kyx-bob" {
		t.Errorf("sent %v", got)
	}
	if user == nil || !user.Identity(auth.RoleUser).IsBound() {
		t.Errorf("user = %+v", user)
	}

	if _, err := c.BindAccount(context.Background(), Credentials{}, "kyx-bob"); !errors.Is(err, auth.ErrNotAuthenticated) {
		t.Fatalf("err = %v", err)
	}
}

func TestLogout(t *testing.T) {
	var method string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		writeEnvelope(w, 200, true, "", nil)
	}))
	if err := c.Logout(context.Background(), Credentials{}); err != nil {
		t.Fatalf("Logout error: %v", err)
	}
	if method != http.MethodPost {
		t.Errorf("method = %s", method)
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(base, testLogger, WithHTTPClient(&http.Client{Timeout: time.Second}))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if _, err := c.CheckAuth(context.Background(), Credentials{}); !errors.Is(err, auth.ErrValidationTransport) {
		t.Fatalf("err = %v", err)
	}
}

func TestCircuitBreaker(t *testing.T) {
	t.Run("opens on server errors", func(t *testing.T) {
		var hits int32
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			http.Error(w, "down", http.StatusBadGateway)
		}))

		for i := 0; i < 5; i++ {
			if _, err := c.CheckAuth(context.Background(), Credentials{}); !errors.Is(err, auth.ErrValidationTransport) {
				t.Fatalf("call %d err = %v", i, err)
			}
		}
		_, err := c.CheckAuth(context.Background(), Credentials{})
		if !errors.Is(err, auth.ErrValidationTransport) {
			t.Fatalf("open breaker err = %v", err)
		}
		if n := atomic.LoadInt32(&hits); n != 5 {
			t.Fatalf("backend hit %d times, want 5", n)
		}
	})

	t.Run("ignores auth rejections", func(t *testing.T) {
		var hits int32
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}))
		for i := 0; i < 10; i++ {
			_, _ = c.CheckAuth(context.Background(), Credentials{})
		}
		if n := atomic.LoadInt32(&hits); n != 10 {
			t.Fatalf("backend hit %d times, want 10", n)
		}
	})
}

func TestClientMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 200, true, "", map[string]any{"authenticated": false})
	}), WithMetrics(telemetry.NewMetrics(telemetry.WithRegistry(reg))))

	if _, err := c.CheckAuth(context.Background(), Credentials{}); err != nil {
		t.Fatalf("CheckAuth error: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != "portal_backend_requests_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["operation"] == "check_auth" && labels["status"] == "200" && m.GetCounter().GetValue() == 1 {
				return
			}
		}
	}
	t.Fatal("check_auth call not recorded")
}

func TestRealmChecker(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie(SessionCookie); err != nil {
			writeEnvelope(w, 200, true, "", map[string]any{"authenticated": false})
			return
		}
		writeEnvelope(w, 200, true, "", map[string]any{
			"authenticated": true,
			"user":          map[string]any{"linux_do_id": "42", "username": "alice"},
		})
	}))
	rc := NewRealmChecker(c)

	if _, err := rc.Check(context.Background(), auth.RealmAdmin); !errors.Is(err, validator.ErrUnsupportedRealm) {
		t.Fatalf("admin realm err = %v", err)
	}

	res, err := rc.Check(context.Background(), auth.RealmUser)
	if err != nil || res.Authenticated {
		t.Fatalf("anonymous check = %+v, %v", res, err)
	}

	ctx := ContextWithCredentials(context.Background(), Credentials{
		Cookies: []*http.Cookie{{Name: SessionCookie, Value: "abc"}},
	})
	res, err = rc.Check(ctx, auth.RealmUser)
	if err != nil || !res.Authenticated {
		t.Fatalf("cookie check = %+v, %v", res, err)
	}
	if err := auth.Check(res.Identity, res.Session); err != nil {
		t.Fatalf("unusable result: %v", err)
	}

	// Through the validator the same checker yields a definite answer.
	v := validator.New(rc, testLogger)
	if got := v.Validate(ctx, auth.RealmUser, nil); !got.Authenticated || got.Identity.SubjectID != "42" {
		t.Fatalf("Validate = %+v", got)
	}
	if got := v.Validate(ctx, auth.RealmAdmin, nil); got.Authenticated {
		t.Fatal("admin realm validated")
	}
}

func TestCredentialsFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "abc"})
	r.Header.Set("Authorization", "Bearer tok")

	c := CredentialsFromRequest(r)
	if len(c.Cookies) != 1 || c.Token != "tok" || c.IsZero() {
		t.Fatalf("credentials = %+v", c)
	}
	if !(Credentials{}).IsZero() {
		t.Fatal("empty credentials not zero")
	}
}
