package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/quota-bridge/portal/pkg/auth"
	"github.com/quota-bridge/portal/pkg/telemetry"
)

// DefaultTimeout bounds one backend round trip.
const DefaultTimeout = 30 * time.Second

const maxResponseBytes = 1 << 20

// Client talks to the backend API.
type Client struct {
	base    *url.URL
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	breakerSettings gobreaker.Settings
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithMetrics records every call in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithBreakerSettings replaces the circuit breaker settings. Name and
// IsSuccessful are always set by the client.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(c *Client) {
		c.breakerSettings = st
	}
}

// New creates a client for the API rooted at baseURL, e.g.
// "http://localhost:8080/api".
func New(baseURL string, logger *slog.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend: base url %q must be http or https", baseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("backend: base url %q has no host", baseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: DefaultTimeout},
		logger: logger.With("component", "backend"),
		tracer: telemetry.Tracer(),
		now:    time.Now,
		breakerSettings: gobreaker.Settings{
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     5 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 5 && failureRatio >= 0.6
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	st := c.breakerSettings
	st.Name = "backend"
	st.IsSuccessful = breakerSuccess
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		c.logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
	}
	c.breaker = gobreaker.NewCircuitBreaker(st)
	return c, nil
}

// BaseURL returns a copy of the API root.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// breakerSuccess counts only backend-side failures against the breaker.
func breakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return !errors.Is(err, auth.ErrValidationTransport)
}

// CheckAuth asks whether the credentials hold a valid user session.
// A well-formed negative answer is not an error.
func (c *Client) CheckAuth(ctx context.Context, creds Credentials) (CheckResult, error) {
	var res CheckResult
	_, err := c.do(ctx, call{op: "check_auth", method: http.MethodGet, path: "/auth/check", creds: creds}, &res)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return CheckResult{}, nil
	}
	if err != nil {
		return CheckResult{}, err
	}
	if !res.Authenticated {
		return CheckResult{}, nil
	}
	return res, nil
}

// Logout ends the backend session. Callers treat failure as best effort.
func (c *Client) Logout(ctx context.Context, creds Credentials) error {
	_, err := c.do(ctx, call{op: "logout", method: http.MethodPost, path: "/auth/logout", creds: creds}, nil)
	return err
}

// AdminLogin exchanges the admin password for a bearer token. When the
// backend does not describe the administrator, the identity is synthesized
// with subject AdminSubject.
func (c *Client) AdminLogin(ctx context.Context, password string) (auth.Identity, auth.Session, error) {
	if password == "" {
		return auth.Identity{}, auth.Session{}, &APIError{Status: http.StatusBadRequest, Message: "password is required"}
	}
	var res struct {
		Token string `json:"token"`
		User  *User  `json:"user,omitempty"`
	}
	body := map[string]string{"password": password}
	if _, err := c.do(ctx, call{op: "admin_login", method: http.MethodPost, path: "/admin/login", body: body}, &res); err != nil {
		return auth.Identity{}, auth.Session{}, err
	}
	if res.Token == "" {
		return auth.Identity{}, auth.Session{}, fmt.Errorf("%w: admin login returned no token", auth.ErrValidationTransport)
	}

	id := auth.Identity{SubjectID: AdminSubject, DisplayName: AdminSubject, Role: auth.RoleAdmin}
	if res.User != nil {
		id = res.User.Identity(auth.RoleAdmin)
		if id.SubjectID == "" {
			id.SubjectID = AdminSubject
		}
	}
	sess := auth.NewSession(id, res.Token, c.now())
	return id, sess, auth.Check(id, sess)
}

// OAuthURL returns the authorization URL the login page sends users to.
func (c *Client) OAuthURL(ctx context.Context) (string, error) {
	var res struct {
		URL string `json:"url"`
	}
	if _, err := c.do(ctx, call{op: "oauth_url", method: http.MethodGet, path: "/auth/url"}, &res); err != nil {
		return "", err
	}
	if res.URL == "" {
		return "", fmt.Errorf("%w: empty oauth url", auth.ErrValidationTransport)
	}
	return res.URL, nil
}

// OAuthCallback exchanges an authorization code for a user identity. The
// session itself lives in the cookies the backend sets.
func (c *Client) OAuthCallback(ctx context.Context, code, state string) (OAuthResult, error) {
	if code == "" {
		return OAuthResult{}, &APIError{Status: http.StatusBadRequest, Message: "missing authorization code"}
	}
	q := url.Values{"code": {code}}
	if state != "" {
		q.Set("state", state)
	}

	var user User
	cookies, err := c.do(ctx, call{op: "oauth_callback", method: http.MethodGet, path: "/auth/callback", query: q}, &user)
	if err != nil {
		return OAuthResult{}, err
	}

	id := user.Identity(auth.RoleUser)
	sess := auth.NewSession(id, auth.CookieSessionToken, c.now())
	if err := auth.Check(id, sess); err != nil {
		return OAuthResult{}, err
	}
	return OAuthResult{Identity: id, Session: sess, Cookies: cookies}, nil
}

// BindAccount links a downstream account to the signed-in user. The
// returned user is nil when the backend does not echo it.
func (c *Client) BindAccount(ctx context.Context, creds Credentials, username string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, &APIError{Status: http.StatusBadRequest, Message: "username is required"}
	}
	var user User
	body := map[string]string{"kyx_username": username}
	if _, err := c.do(ctx, call{op: "bind_account", method: http.MethodPost, path: "/user/bind", body: body, creds: creds}, &user); err != nil {
		return nil, err
	}
	if user.LinuxDoID == "" && user.Username == "" {
		return nil, nil
	}
	return &user, nil
}

type call struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	creds  Credentials
}

type reply struct {
	status  int
	cookies []*http.Cookie
	data    json.RawMessage
}

// do runs one call through the breaker and decodes the envelope data into
// out. It returns the cookies the backend set.
func (c *Client) do(ctx context.Context, cl call, out any) ([]*http.Cookie, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "portal.backend."+cl.op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", cl.method),
			attribute.String("portal.backend.path", cl.path),
		),
	)

	status := "error"
	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, cl)
	})
	rep, _ := v.(*reply)
	if rep != nil {
		status = strconv.Itoa(rep.status)
		span.SetAttributes(attribute.Int("http.status_code", rep.status))
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		status = "circuit_open"
		err = fmt.Errorf("%w: %s: %w", auth.ErrValidationTransport, cl.op, err)
	}

	if err == nil && out != nil && len(rep.data) > 0 && string(rep.data) != "null" {
		if derr := json.Unmarshal(rep.data, out); derr != nil {
			err = fmt.Errorf("%w: %s: decode data: %w", auth.ErrValidationTransport, cl.op, derr)
		}
	}

	c.metrics.RecordBackendCall(cl.op, status, time.Since(start))
	telemetry.EndSpan(span, err)
	if err != nil {
		c.logger.Debug("backend call failed", "op", cl.op, "status", status, "error", err)
		return nil, err
	}
	return rep.cookies, nil
}

func (c *Client) roundTrip(ctx context.Context, cl call) (*reply, error) {
	var body io.Reader
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return nil, fmt.Errorf("backend: encode %s request: %w", cl.op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.endpoint(cl.path, cl.query), body)
	if err != nil {
		return nil, fmt.Errorf("backend: build %s request: %w", cl.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, ck := range cl.creds.Cookies {
		req.AddCookie(ck)
	}
	if cl.creds.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cl.creds.Token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", auth.ErrValidationTransport, cl.op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %w", auth.ErrValidationTransport, cl.op, err)
	}

	rep := &reply{status: resp.StatusCode, cookies: resp.Cookies()}
	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	msg := env.text()
	if decodeErr != nil {
		msg = strings.TrimSpace(string(raw))
	}

	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized:
		return rep, fmt.Errorf("%w: %s", auth.ErrNotAuthenticated, msg)
	case code == http.StatusForbidden:
		return rep, fmt.Errorf("%w: %s", auth.ErrForbidden, msg)
	case code >= 500:
		return rep, fmt.Errorf("%w: %s: status %d", auth.ErrValidationTransport, cl.op, code)
	case code < 200 || code > 299:
		return rep, &APIError{Status: code, Message: msg}
	}

	if decodeErr != nil {
		return rep, fmt.Errorf("%w: %s: malformed response: %w", auth.ErrValidationTransport, cl.op, decodeErr)
	}
	if !env.Success {
		return rep, &APIError{Status: resp.StatusCode, Message: msg}
	}
	rep.data = env.Data
	return rep, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}
