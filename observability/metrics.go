// Package observability exposes gateway internals as Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AlfredDev/aigw/circuit"
)

// Metrics holds the Prometheus collectors the gateway updates as it
// routes and dispatches requests.
type Metrics struct {
	DispatchTotal       *prometheus.CounterVec
	DispatchLatency     *prometheus.HistogramVec
	RoutingScore        *prometheus.GaugeVec
	QValue              *prometheus.GaugeVec
	CircuitState        *prometheus.GaugeVec
	QuotaRemaining      *prometheus.GaugeVec
	TelemetryDropped    prometheus.Counter
	FallbacksTaken      *prometheus.CounterVec
}

// New creates and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aigw_dispatch_total",
			Help: "Total dispatch attempts per backend and outcome.",
		}, []string{"backend", "success"}),
		DispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aigw_dispatch_latency_ms",
			Help:    "Dispatch response time in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"backend"}),
		RoutingScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aigw_routing_composite_score",
			Help: "Most recent composite score (F*(1+Q)) computed per backend.",
		}, []string{"backend"}),
		QValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aigw_q_value",
			Help: "Current Q-value per backend and task category.",
		}, []string{"backend", "category"}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aigw_circuit_state",
			Help: "Circuit breaker state per backend (0=closed, 1=half-open, 2=open).",
		}, []string{"backend"}),
		QuotaRemaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aigw_free_quota_remaining",
			Help: "Remaining free-tier quota units per backend.",
		}, []string{"backend"}),
		TelemetryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aigw_telemetry_dropped_total",
			Help: "Events dropped by the telemetry bus due to overflow.",
		}),
		FallbacksTaken: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aigw_fallbacks_taken_total",
			Help: "Fallback transitions per originating backend.",
		}, []string{"from_backend"}),
	}

	reg.MustRegister(
		m.DispatchTotal,
		m.DispatchLatency,
		m.RoutingScore,
		m.QValue,
		m.CircuitState,
		m.QuotaRemaining,
		m.TelemetryDropped,
		m.FallbacksTaken,
	)
	return m
}

// circuitStateValue maps a circuit.State to the gauge encoding documented
// on CircuitState.
func circuitStateValue(s circuit.State) float64 {
	switch s {
	case circuit.Closed:
		return 0
	case circuit.HalfOpen:
		return 1
	case circuit.Open:
		return 2
	default:
		return -1
	}
}

// ObserveCircuitState records the current state of a backend's breaker.
func (m *Metrics) ObserveCircuitState(backendID string, s circuit.State) {
	m.CircuitState.WithLabelValues(backendID).Set(circuitStateValue(s))
}
