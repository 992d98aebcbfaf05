package observability_test

import (
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AlfredDev/aigw/circuit"
	"github.com/AlfredDev/aigw/observability"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.New(reg)

	m.DispatchTotal.WithLabelValues("openai", "true").Inc()
	m.ObserveCircuitState("openai", circuit.Open)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}

func TestObserveCircuitStateEncoding(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.New(reg)

	m.ObserveCircuitState("a", circuit.Closed)
	m.ObserveCircuitState("b", circuit.Open)

	if got := testutilValue(t, m, "a"); got != 0 {
		t.Fatalf("expected closed to encode as 0, got %v", got)
	}
	if got := testutilValue(t, m, "b"); got != 2 {
		t.Fatalf("expected open to encode as 2, got %v", got)
	}
}

func testutilValue(t *testing.T, m *observability.Metrics, backendID string) float64 {
	t.Helper()
	g, err := m.CircuitState.GetMetricWithLabelValues(backendID)
	if err != nil {
		t.Fatalf("unexpected error fetching gauge: %v", err)
	}
	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		t.Fatalf("unexpected error writing gauge: %v", err)
	}
	return metric.GetGauge().GetValue()
}
