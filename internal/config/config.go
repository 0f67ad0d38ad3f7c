package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/quota-bridge/portal/internal/errors"
	"github.com/quota-bridge/portal/pkg/auth"
	"github.com/quota-bridge/portal/pkg/kv"
	"github.com/quota-bridge/portal/pkg/realm"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "portal.json"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "PORTAL_"

	// DefaultPort is the default listen port.
	DefaultPort = 3000

	// DefaultHost is the default listen host.
	DefaultHost = "localhost"

	// DefaultBackendURL is the API root of a locally running backend.
	DefaultBackendURL = "http://localhost:8080/api"

	// DefaultTabCookie names the cookie carrying the tab id.
	DefaultTabCookie = "portal_tab"

	// DefaultMaxTabs bounds the in-memory tab registry.
	DefaultMaxTabs = 10000
)

// Config represents the complete portal.json configuration.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Backend BackendConfig `json:"backend"`
	Storage StorageConfig `json:"storage"`
	Tabs    TabsConfig    `json:"tabs"`
	Routes  RoutesConfig  `json:"routes,omitempty"`
	Log     LogConfig     `json:"log"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// SecureCookies marks the tab cookie Secure. Enable behind HTTPS.
	SecureCookies bool `json:"secureCookies,omitempty"`

	// AllowedOrigins lists the origins accepted on the navigation
	// WebSocket. Empty means same origin only.
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`

	// ShutdownTimeout bounds graceful shutdown (e.g., "10s").
	ShutdownTimeout string `json:"shutdownTimeout,omitempty"`

	// ReadHeaderTimeout bounds reading request headers.
	ReadHeaderTimeout string `json:"readHeaderTimeout,omitempty"`

	// DisableMetrics hides /metrics.
	DisableMetrics bool `json:"disableMetrics,omitempty"`
}

// BackendConfig contains the API client settings.
type BackendConfig struct {
	// URL is the API root, e.g. "http://localhost:8080/api".
	URL string `json:"url,omitempty"`

	// Timeout bounds one API round trip.
	Timeout string `json:"timeout,omitempty"`

	// ValidateTimeout bounds one session validation.
	ValidateTimeout string `json:"validateTimeout,omitempty"`
}

// StorageConfig selects the durable session storage.
type StorageConfig struct {
	// Driver is one of memory, file, sqlite, postgres, mysql, redis, s3.
	Driver string `json:"driver,omitempty"`

	Dir   string `json:"dir,omitempty"`
	DSN   string `json:"dsn,omitempty"`
	Table string `json:"table,omitempty"`

	RedisAddr     string `json:"redisAddr,omitempty"`
	RedisPassword string `json:"redisPassword,omitempty"`
	RedisDB       int    `json:"redisDB,omitempty"`
	RedisPrefix   string `json:"redisPrefix,omitempty"`

	// TTL expires idle sessions on drivers that support it (redis).
	TTL string `json:"ttl,omitempty"`

	S3Bucket    string `json:"s3Bucket,omitempty"`
	S3Prefix    string `json:"s3Prefix,omitempty"`
	S3Region    string `json:"s3Region,omitempty"`
	S3Endpoint  string `json:"s3Endpoint,omitempty"`
	S3AccessKey string `json:"s3AccessKey,omitempty"`
	S3SecretKey string `json:"s3SecretKey,omitempty"`
}

// TabsConfig contains per-tab settings.
type TabsConfig struct {
	// Max bounds how many tabs are kept in memory. The least recently used
	// tab is evicted; its sessions stay in storage.
	Max int `json:"max,omitempty"`

	// Cookie names the cookie carrying the tab id.
	Cookie string `json:"cookie,omitempty"`

	// AdminLoginRate is the sustained admin login attempts per minute.
	AdminLoginRate float64 `json:"adminLoginRate,omitempty"`

	// AdminLoginBurst is the admin login burst size.
	AdminLoginBurst int `json:"adminLoginBurst,omitempty"`
}

// RoutesConfig overrides the built-in route table.
type RoutesConfig struct {
	UserPrefix    string `json:"userPrefix,omitempty"`
	AdminPrefix   string `json:"adminPrefix,omitempty"`
	UserLogin     string `json:"userLogin,omitempty"`
	AdminLogin    string `json:"adminLogin,omitempty"`
	Forbidden     string `json:"forbidden,omitempty"`
	NotFound      string `json:"notFound,omitempty"`
	ServerError   string `json:"serverError,omitempty"`
	UserLanding   string `json:"userLanding,omitempty"`
	AdminLanding  string `json:"adminLanding,omitempty"`
	Bind          string `json:"bind,omitempty"`
	OAuthCallback string `json:"oauthCallback,omitempty"`

	// Extra routes are added to the built-in table.
	Extra []RouteConfig `json:"extra,omitempty"`
}

// RouteConfig declares one extra route.
type RouteConfig struct {
	Path      string `json:"path"`
	Title     string `json:"title,omitempty"`
	Realm     string `json:"realm,omitempty"`
	Public    bool   `json:"public,omitempty"`
	AdminOnly bool   `json:"adminOnly,omitempty"`
	Redirect  string `json:"redirect,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level,omitempty"`

	// Format is text or json.
	Format string `json:"format,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              DefaultHost,
			Port:              DefaultPort,
			ShutdownTimeout:   "10s",
			ReadHeaderTimeout: "10s",
		},
		Backend: BackendConfig{
			URL:             DefaultBackendURL,
			Timeout:         "30s",
			ValidateTimeout: "10s",
		},
		Storage: StorageConfig{
			Driver: kv.DriverMemory,
		},
		Tabs: TabsConfig{
			Max:             DefaultMaxTabs,
			Cookie:          DefaultTabCookie,
			AdminLoginRate:  5,
			AdminLoginBurst: 3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return New(), nil
	}
	return LoadFile(path)
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("P106").
				WithDetail("No " + filepath.Base(path) + " found in " + filepath.Dir(path))
		}
		return nil, errors.New("P100").Wrap(err)
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("P100").
			WithDetail("Failed to parse " + path + ": " + err.Error())
	}

	cfg.configPath = path
	cfg.applyDefaults()
	return cfg, nil
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("P100").Wrap(err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.New("P100").Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	d := New()
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Server.ReadHeaderTimeout == "" {
		c.Server.ReadHeaderTimeout = d.Server.ReadHeaderTimeout
	}
	if c.Backend.URL == "" {
		c.Backend.URL = d.Backend.URL
	}
	if c.Backend.Timeout == "" {
		c.Backend.Timeout = d.Backend.Timeout
	}
	if c.Backend.ValidateTimeout == "" {
		c.Backend.ValidateTimeout = d.Backend.ValidateTimeout
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = d.Storage.Driver
	}
	if c.Tabs.Max == 0 {
		c.Tabs.Max = d.Tabs.Max
	}
	if c.Tabs.Cookie == "" {
		c.Tabs.Cookie = d.Tabs.Cookie
	}
	if c.Tabs.AdminLoginRate == 0 {
		c.Tabs.AdminLoginRate = d.Tabs.AdminLoginRate
	}
	if c.Tabs.AdminLoginBurst == 0 {
		c.Tabs.AdminLoginBurst = d.Tabs.AdminLoginBurst
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// ApplyEnv overrides settings from PORTAL_* variables found by lookup,
// normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"HOST":             &c.Server.Host,
		"BACKEND_URL":      &c.Backend.URL,
		"BACKEND_TIMEOUT":  &c.Backend.Timeout,
		"VALIDATE_TIMEOUT": &c.Backend.ValidateTimeout,
		"STORAGE_DRIVER":   &c.Storage.Driver,
		"STORAGE_DIR":      &c.Storage.Dir,
		"STORAGE_DSN":      &c.Storage.DSN,
		"STORAGE_TABLE":    &c.Storage.Table,
		"STORAGE_TTL":      &c.Storage.TTL,
		"REDIS_ADDR":       &c.Storage.RedisAddr,
		"REDIS_PASSWORD":   &c.Storage.RedisPassword,
		"REDIS_PREFIX":     &c.Storage.RedisPrefix,
		"S3_BUCKET":        &c.Storage.S3Bucket,
		"S3_PREFIX":        &c.Storage.S3Prefix,
		"S3_REGION":        &c.Storage.S3Region,
		"S3_ENDPOINT":      &c.Storage.S3Endpoint,
		"S3_ACCESS_KEY":    &c.Storage.S3AccessKey,
		"S3_SECRET_KEY":    &c.Storage.S3SecretKey,
		"TAB_COOKIE":       &c.Tabs.Cookie,
		"LOG_LEVEL":        &c.Log.Level,
		"LOG_FORMAT":       &c.Log.Format,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PORT":     &c.Server.Port,
		"REDIS_DB": &c.Storage.RedisDB,
		"MAX_TABS": &c.Tabs.Max,
	}
	for name, dst := range ints {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("P105").WithDetail(EnvPrefix + name + " must be an integer").Wrap(err)
		}
		*dst = n
	}

	if v, ok := lookup(EnvPrefix + "SECURE_COOKIES"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.New("P105").WithDetail(EnvPrefix + "SECURE_COOKIES must be a boolean").Wrap(err)
		}
		c.Server.SecureCookies = b
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.New("P101").
			WithDetail(fmt.Sprintf("server.port %d must be between 0 and 65535", c.Server.Port))
	}

	u, err := url.Parse(c.Backend.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("P102").WithDetail(fmt.Sprintf("backend.url %q is not an absolute http(s) URL", c.Backend.URL))
	}

	for name, v := range map[string]string{
		"server.shutdownTimeout":   c.Server.ShutdownTimeout,
		"server.readHeaderTimeout": c.Server.ReadHeaderTimeout,
		"backend.timeout":          c.Backend.Timeout,
		"backend.validateTimeout":  c.Backend.ValidateTimeout,
		"storage.ttl":              c.Storage.TTL,
	} {
		if _, err := parseDuration(v); err != nil {
			return errors.New("P103").WithDetail(fmt.Sprintf("%s: %q is not a duration", name, v))
		}
	}

	if _, err := kv.ParseDriver(c.Storage.Driver); err != nil {
		return errors.New("P120").Wrap(err)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("P104").WithDetail(fmt.Sprintf("log.level %q is not supported", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.New("P104").WithDetail(fmt.Sprintf("log.format %q is not supported", c.Log.Format))
	}

	if c.Tabs.Max <= 0 || c.Tabs.Cookie == "" || c.Tabs.AdminLoginRate <= 0 || c.Tabs.AdminLoginBurst <= 0 {
		return errors.New("P107")
	}

	if _, err := c.Resolver(); err != nil {
		return err
	}
	return nil
}

// Address returns the listen address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// ShutdownTimeout returns the parsed graceful shutdown bound.
func (c *Config) ShutdownTimeout() time.Duration {
	d, _ := parseDuration(c.Server.ShutdownTimeout)
	return d
}

// ReadHeaderTimeout returns the parsed header read bound.
func (c *Config) ReadHeaderTimeout() time.Duration {
	d, _ := parseDuration(c.Server.ReadHeaderTimeout)
	return d
}

// BackendTimeout returns the parsed API round trip bound.
func (c *Config) BackendTimeout() time.Duration {
	d, _ := parseDuration(c.Backend.Timeout)
	return d
}

// ValidateTimeout returns the parsed session validation bound.
func (c *Config) ValidateTimeout() time.Duration {
	d, _ := parseDuration(c.Backend.ValidateTimeout)
	return d
}

// KV converts the storage section into a kv.Config.
func (c *Config) KV() kv.Config {
	ttl, _ := parseDuration(c.Storage.TTL)
	return kv.Config{
		Driver:        c.Storage.Driver,
		Dir:           c.Storage.Dir,
		DSN:           c.Storage.DSN,
		Table:         c.Storage.Table,
		RedisAddr:     c.Storage.RedisAddr,
		RedisPassword: c.Storage.RedisPassword,
		RedisDB:       c.Storage.RedisDB,
		RedisPrefix:   c.Storage.RedisPrefix,
		TTL:           ttl,
		S3Bucket:      c.Storage.S3Bucket,
		S3Prefix:      c.Storage.S3Prefix,
		S3Region:      c.Storage.S3Region,
		S3Endpoint:    c.Storage.S3Endpoint,
		S3AccessKey:   c.Storage.S3AccessKey,
		S3SecretKey:   c.Storage.S3SecretKey,
	}
}

// Resolver builds the route resolver from the built-in table and the
// routes section.
func (c *Config) Resolver() (*realm.Resolver, error) {
	paths := realm.DefaultPaths()
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	rc := c.Routes
	override(&paths.UserPrefix, rc.UserPrefix)
	override(&paths.AdminPrefix, rc.AdminPrefix)
	override(&paths.UserLogin, rc.UserLogin)
	override(&paths.AdminLogin, rc.AdminLogin)
	override(&paths.Forbidden, rc.Forbidden)
	override(&paths.NotFound, rc.NotFound)
	override(&paths.ServerError, rc.ServerError)
	override(&paths.UserLanding, rc.UserLanding)
	override(&paths.AdminLanding, rc.AdminLanding)
	override(&paths.Bind, rc.Bind)
	override(&paths.OAuthCallback, rc.OAuthCallback)

	routes := realm.DefaultRoutes()
	for _, extra := range rc.Extra {
		route := realm.Route{
			Path:              extra.Path,
			Title:             extra.Title,
			Public:            extra.Public,
			RequiresAdminRole: extra.AdminOnly,
			Redirect:          extra.Redirect,
		}
		if extra.Realm != "" {
			r, err := auth.ParseRealm(extra.Realm)
			if err != nil {
				return nil, errors.New("P160").WithDetail(fmt.Sprintf("route %s: %v", extra.Path, err))
			}
			route.Realm = r
		}
		routes = append(routes, route)
	}

	r, err := realm.New(paths, routes)
	if err != nil {
		return nil, errors.New("P160").Wrap(err)
	}
	return r, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}
