package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue returns the value of the counter name with exactly labels.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metricLoop:
		for _, m := range f.GetMetric() {
			if len(m.GetLabel()) != len(labels) {
				continue
			}
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metricLoop
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func familyNames(t *testing.T, reg *prometheus.Registry) map[string]bool {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg))

	m.RecordValidation("user", ResultAuthenticated)
	m.RecordValidation("user", ResultAuthenticated)
	m.RecordValidation("admin", ResultSkipped)
	m.RecordGuardDecision("allow", 5*time.Millisecond)
	m.RecordGuardDecision("redirect_login", time.Millisecond)
	m.RecordInvalidation("admin", "backend_401")

	if got := counterValue(t, reg, "portal_validations_total", map[string]string{"realm": "user", "result": ResultAuthenticated}); got != 2 {
		t.Errorf("validations{user,authenticated} = %v, want 2", got)
	}
	if got := counterValue(t, reg, "portal_guard_decisions_total", map[string]string{"outcome": "allow"}); got != 1 {
		t.Errorf("guard_decisions{allow} = %v, want 1", got)
	}
	if got := counterValue(t, reg, "portal_realm_invalidations_total", map[string]string{"realm": "admin", "source": "backend_401"}); got != 1 {
		t.Errorf("invalidations = %v, want 1", got)
	}

	names := familyNames(t, reg)
	for _, want := range []string{
		"portal_validations_total",
		"portal_guard_decisions_total",
		"portal_guard_duration_seconds",
	} {
		if !names[want] {
			t.Errorf("missing metric %s", want)
		}
	}
}

func TestMetricsNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg), WithNamespace("qp"))
	m.RecordGuardDecision("allow", time.Millisecond)

	if !familyNames(t, reg)["qp_guard_decisions_total"] {
		t.Fatal("namespace not applied")
	}
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.RecordValidation("user", ResultPanic)
	m.RecordGuardDecision("allow", time.Second)
	m.RecordBackendCall("check_auth", "ok", time.Second)
	m.RecordInvalidation("user", "logout")
	m.RecordHTTPRequest("/", "2xx", time.Second)
	m.SetActiveTabs(3)
	m.RecordWebSocketOpen()
	m.RecordWebSocketClose()
	m.RecordWebSocketError("read")
}
