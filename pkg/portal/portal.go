package portal

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/quota-bridge/portal/pkg/auth"
	"github.com/quota-bridge/portal/pkg/authmw"
	"github.com/quota-bridge/portal/pkg/backend"
	"github.com/quota-bridge/portal/pkg/kv"
	"github.com/quota-bridge/portal/pkg/middleware"
	"github.com/quota-bridge/portal/pkg/realm"
	"github.com/quota-bridge/portal/pkg/telemetry"
	"github.com/quota-bridge/portal/pkg/toast"
)

// Config configures a Portal.
type Config struct {
	// TabCookie names the cookie carrying the tab id.
	TabCookie string

	// MaxTabs bounds the in-memory tab registry.
	MaxTabs int

	// SecureCookies marks portal cookies Secure.
	SecureCookies bool

	// AllowedOrigins lists extra origins accepted on the navigation channel.
	// Same-origin requests are always accepted.
	AllowedOrigins []string

	// ValidateTimeout bounds one session validation.
	ValidateTimeout time.Duration

	// AdminLoginPerMinute and AdminLoginBurst rate limit password attempts
	// per tab.
	AdminLoginPerMinute float64
	AdminLoginBurst     int

	// DisableMetrics hides /metrics.
	DisableMetrics bool
}

// DefaultConfig returns the configuration used for zero fields.
func DefaultConfig() Config {
	return Config{
		TabCookie:           "portal_tab",
		MaxTabs:             10000,
		ValidateTimeout:     10 * time.Second,
		AdminLoginPerMinute: 5,
		AdminLoginBurst:     3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TabCookie == "" {
		c.TabCookie = d.TabCookie
	}
	if c.MaxTabs <= 0 {
		c.MaxTabs = d.MaxTabs
	}
	if c.ValidateTimeout <= 0 {
		c.ValidateTimeout = d.ValidateTimeout
	}
	if c.AdminLoginPerMinute <= 0 {
		c.AdminLoginPerMinute = d.AdminLoginPerMinute
	}
	if c.AdminLoginBurst <= 0 {
		c.AdminLoginBurst = d.AdminLoginBurst
	}
	return c
}

// Portal serves the portal over HTTP.
type Portal struct {
	config   Config
	store    kv.Store
	backend  *backend.Client
	resolver *realm.Resolver
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	gatherer prometheus.Gatherer

	tabs     *lru.Cache[string, *Tab]
	tabGroup singleflight.Group

	upgrader websocket.Upgrader
	proxy    *httputil.ReverseProxy
	shell    *template.Template
	handler  http.Handler
}

// Option configures a Portal.
type Option func(*Portal)

// WithMetrics records portal metrics in m and serves g on /metrics.
func WithMetrics(m *telemetry.Metrics, g prometheus.Gatherer) Option {
	return func(p *Portal) {
		p.metrics = m
		p.gatherer = g
	}
}

// New creates a Portal. store holds every tab's session slots; the caller
// keeps ownership of it.
func New(cfg Config, store kv.Store, client *backend.Client, resolver *realm.Resolver, logger *slog.Logger, opts ...Option) (*Portal, error) {
	if store == nil {
		return nil, fmt.Errorf("portal: store is required")
	}
	if client == nil {
		return nil, fmt.Errorf("portal: backend client is required")
	}
	if resolver == nil {
		resolver = realm.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Portal{
		config:   cfg.withDefaults(),
		store:    store,
		backend:  client,
		resolver: resolver,
		logger:   logger.With("component", "portal"),
		shell:    shellTemplate,
	}
	for _, opt := range opts {
		opt(p)
	}

	tabs, err := lru.NewWithEvict[string, *Tab](p.config.MaxTabs, func(id string, t *Tab) {
		t.disconnect()
		p.logger.Debug("tab evicted", "tab", id)
	})
	if err != nil {
		return nil, fmt.Errorf("portal: tab registry: %w", err)
	}
	p.tabs = tabs

	p.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     p.checkOrigin,
	}
	p.proxy = p.newProxy(client.BaseURL())
	p.handler = p.routes()
	return p, nil
}

// ServeHTTP implements http.Handler.
func (p *Portal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

// Resolver returns the route resolver.
func (p *Portal) Resolver() *realm.Resolver {
	return p.resolver
}

// TabCount returns the number of tabs held in memory.
func (p *Portal) TabCount() int {
	return p.tabs.Len()
}

// Close drops every in-memory tab. Persisted sessions are kept.
func (p *Portal) Close() error {
	p.tabs.Purge()
	p.metrics.SetActiveTabs(0)
	return nil
}

func (p *Portal) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		chimw.RequestID,
		middleware.Recoverer(p.logger),
		middleware.Tracing(middleware.WithSpanFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
		})),
		middleware.Metrics(p.metrics),
		middleware.RequestLogger(p.logger),
	)

	r.Get("/healthz", p.handleHealth)
	if !p.config.DisableMetrics && p.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/_portal", func(r chi.Router) {
		r.Get("/ws", p.handleWebSocket)
		r.Get("/session", p.handleSession)
		r.Get("/oauth/start", p.handleOAuthStart)
		r.Group(func(r chi.Router) {
			r.Use(p.requireScripted)
			r.Post("/admin/login", p.handleAdminLogin)
			r.Post("/logout", p.handleLogout)
			r.With(authmw.RequireRealm(p.lookupIdentity, auth.RealmUser, authmw.WithErrorHandler(p.denied))).
				Post("/bind", p.handleBind)
		})
	})

	r.Handle("/api/*", http.HandlerFunc(p.handleAPI))
	r.Get(p.resolver.Paths().OAuthCallback, p.handleOAuthCallback)
	r.Get("/*", p.handlePage)
	return r
}

// requestContext carries the browser credentials of r for backend calls.
func (p *Portal) requestContext(r *http.Request) context.Context {
	return backend.ContextWithCredentials(r.Context(), backend.CredentialsFromRequest(r))
}

// lookupIdentity finds the identity the requesting tab holds in rlm.
func (p *Portal) lookupIdentity(r *http.Request, rlm auth.Realm) (auth.Identity, bool) {
	t, err := p.existingTab(r)
	if err != nil {
		return auth.Identity{}, false
	}
	id, _, ok := t.Sessions.Get(rlm)
	return id, ok
}

func (p *Portal) denied(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := auth.StatusCode(err)
	msg := toast.MsgSignInRequired
	if status == http.StatusForbidden {
		msg = toast.MsgForbidden
	}
	writeError(w, status, msg)
}

// requireScripted rejects state-changing requests a plain HTML form could
// send: the body must be JSON, or the request must echo the tab cookie in
// TabHeader.
func (p *Portal) requireScripted(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(TabHeader) != "" && p.tabID(r) != "" {
			next.ServeHTTP(w, r)
			return
		}
		mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mt != "application/json" {
			writeError(w, http.StatusUnsupportedMediaType, "Expected a JSON request")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *Portal) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tabs": p.tabs.Len()})
}

// checkOrigin accepts same-origin requests and the configured origins.
func (p *Portal) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	for _, allowed := range p.config.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (c Config) loginLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(c.AdminLoginPerMinute/60), c.AdminLoginBurst)
}
