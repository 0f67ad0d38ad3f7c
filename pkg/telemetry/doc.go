// Package telemetry owns the portal's Prometheus metrics and OpenTelemetry
// tracer.
//
// Metrics are created against a caller-supplied registry so tests and
// multiple portals in one process never collide on the default registerer:
//
//	reg := prometheus.NewRegistry()
//	m := telemetry.NewMetrics(telemetry.WithRegistry(reg))
//	m.RecordValidation("user", telemetry.ResultAuthenticated)
//
// Every Record method is safe on a nil *Metrics, so components can be built
// without metrics in tests.
//
// Spans use the global OpenTelemetry tracer provider. Configure it in main()
// before starting the server:
//
//	otel.SetTracerProvider(tp)
package telemetry
