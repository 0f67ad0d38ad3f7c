// Package middleware provides the HTTP middleware stack of the portal host.
//
// This package includes:
//   - OpenTelemetry server spans, continuing any incoming trace context
//   - Prometheus request metrics keyed by chi route pattern
//   - Structured request logging and panic recovery
//
// All middleware has the standard func(http.Handler) http.Handler shape and
// is installed on a chi router:
//
//	r := chi.NewRouter()
//	r.Use(
//	    chimw.RequestID,
//	    middleware.Recoverer(logger),
//	    middleware.Tracing(middleware.WithSpanFilter(func(r *http.Request) bool {
//	        return r.URL.Path != "/healthz"
//	    })),
//	    middleware.Metrics(metrics),
//	    middleware.RequestLogger(logger),
//	)
//
// The tracer uses the global OpenTelemetry tracer provider. Configure it in
// main() before starting the server.
package middleware
