package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Validation results recorded by RecordValidation.
const (
	ResultAuthenticated   = "authenticated"
	ResultUnauthenticated = "unauthenticated"
	ResultTransportError  = "transport_error"
	ResultPanic           = "panic"
	ResultSkipped         = "skipped"
)

// MetricsConfig configures the portal metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "portal").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the portal metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "portal",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the Prometheus collectors for the portal.
type Metrics struct {
	validations     *prometheus.CounterVec
	guardDecisions  *prometheus.CounterVec
	guardDuration   prometheus.Histogram
	backendRequests *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	invalidations   *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	activeTabs      prometheus.Gauge
	wsConnections   prometheus.Gauge
	wsErrors        *prometheus.CounterVec
}

// NewMetrics creates and registers the portal collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		validations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "validations_total",
			Help:        "Total number of session validations by realm and result",
			ConstLabels: config.ConstLabels,
		}, []string{"realm", "result"}),

		guardDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "guard_decisions_total",
			Help:        "Total number of navigation guard decisions by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"outcome"}),

		guardDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "guard_duration_seconds",
			Help:        "Navigation guard evaluation duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		backendRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "backend_requests_total",
			Help:        "Total backend API calls by operation and status",
			ConstLabels: config.ConstLabels,
		}, []string{"operation", "status"}),

		backendDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "backend_request_duration_seconds",
			Help:        "Backend API call duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"operation"}),

		invalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "realm_invalidations_total",
			Help:        "Total realm sessions cleared by realm and source",
			ConstLabels: config.ConstLabels,
		}, []string{"realm", "source"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "http_requests_total",
			Help:        "Total HTTP requests by route and status class",
			ConstLabels: config.ConstLabels,
		}, []string{"route", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"route"}),

		activeTabs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_tabs",
			Help:        "Number of tab contexts held in the registry",
			ConstLabels: config.ConstLabels,
		}),

		wsConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "websocket_connections",
			Help:        "Number of open navigation channels",
			ConstLabels: config.ConstLabels,
		}),

		wsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "websocket_errors_total",
			Help:        "Total navigation channel errors by type",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),
	}
}

// RecordValidation counts one validation result for realm.
func (m *Metrics) RecordValidation(realm, result string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(realm, result).Inc()
}

// RecordGuardDecision counts one guard outcome and its evaluation time.
func (m *Metrics) RecordGuardDecision(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.guardDecisions.WithLabelValues(outcome).Inc()
	m.guardDuration.Observe(d.Seconds())
}

// RecordBackendCall counts one backend API call.
func (m *Metrics) RecordBackendCall(operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.backendRequests.WithLabelValues(operation, status).Inc()
	m.backendDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordInvalidation counts a realm session being cleared.
func (m *Metrics) RecordInvalidation(realm, source string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(realm, source).Inc()
}

// RecordHTTPRequest counts one HTTP request served by the portal.
func (m *Metrics) RecordHTTPRequest(route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, status).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// SetActiveTabs sets the tab registry size.
func (m *Metrics) SetActiveTabs(n int) {
	if m == nil {
		return
	}
	m.activeTabs.Set(float64(n))
}

// RecordWebSocketOpen records a navigation channel opening.
func (m *Metrics) RecordWebSocketOpen() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

// RecordWebSocketClose records a navigation channel closing.
func (m *Metrics) RecordWebSocketClose() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}

// RecordWebSocketError records a navigation channel error.
func (m *Metrics) RecordWebSocketError(errorType string) {
	if m == nil {
		return
	}
	m.wsErrors.WithLabelValues(errorType).Inc()
}
