// Package aigw is the adaptive AI-provider gateway: it routes each
// Request across registered backends using fuzzy scoring plus tabular
// Q-learning, enforces per-backend rate limits, quota, and circuit
// breakers, executes with sequential fallback, and publishes telemetry
// for the learning loop (see the component packages for each piece's
// design notes).
package aigw

import (
	"context"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/AlfredDev/aigw/backend"
	"github.com/AlfredDev/aigw/circuit"
	"github.com/AlfredDev/aigw/config"
	"github.com/AlfredDev/aigw/execengine"
	"github.com/AlfredDev/aigw/logger"
	"github.com/AlfredDev/aigw/metricsstore"
	"github.com/AlfredDev/aigw/observability"
	"github.com/AlfredDev/aigw/qlearn"
	"github.com/AlfredDev/aigw/quota"
	"github.com/AlfredDev/aigw/router"
	"github.com/AlfredDev/aigw/snapshot"
	"github.com/AlfredDev/aigw/telemetry"
)

// anomalyStreakTrip is the number of consecutive anomalous response-time
// flags from AnomalyWatch that count as one additional consecutive
// failure fed into the Circuit Breaker, independent of dispatch success.
const anomalyStreakTrip = 3

// Gateway is the single value wiring every component together (spec §9:
// "a single Gateway value created at startup and passed explicitly").
type Gateway struct {
	cfg *config.Config
	log zerolog.Logger

	registry *backend.Registry
	metrics  *metricsstore.Store
	anomaly  *metricsstore.AnomalyWatch
	limiter  *quota.Limiter
	ledger   *quota.Ledger
	breaker  *circuit.Breaker
	qtable   *qlearn.Table
	router   *router.Router
	bus      *telemetry.Bus
	obs      *observability.Metrics

	snapshotGroup singleflight.Group

	anomalyMu      sync.Mutex
	anomalyStreaks map[string]int

	telemetryDropped atomic.Int64
}

// New wires a Gateway from cfg. seed fixes the Q-table's RNG so routing
// is deterministic for identical inputs (spec §4.7).
func New(cfg *config.Config, seed int64) *Gateway {
	return &Gateway{
		cfg:      cfg,
		log:      logger.New(cfg),
		registry: backend.NewRegistry(),
		metrics:  metricsstore.New(cfg.EMASmoothing()),
		anomaly:  metricsstore.NewAnomalyWatch(),
		limiter:  quota.New(int64(cfg.RatePerMinuteDefault()), int64(cfg.RatePerDayDefault())),
		ledger:   quota.NewLedger(),
		breaker: circuit.New(circuit.Config{
			FailureThreshold:   cfg.CircuitThreshold(),
			ColdStartThreshold: cfg.ColdStartThreshold(),
			OpenDuration:       cfg.CircuitOpenDuration(),
			ExtendedDuration:   cfg.CircuitOpenExtendedDuration(),
			ExtendedAfter:      5,
		}),
		qtable:         qlearn.New(rand.New(rand.NewSource(seed))),
		router:         router.New(cfg.ExplorationRate(), cfg.DefaultBackend()),
		bus:            telemetry.New(cfg.TelemetryBuffer()),
		obs:            observability.New(prometheus.NewRegistry()),
		anomalyStreaks: make(map[string]int),
	}
}

// RegisterBackend adds or replaces a backend (spec §4.1, §6.1).
func (g *Gateway) RegisterBackend(id string, dispatcher backend.Dispatcher, decl backend.Declarations) {
	g.registry.Register(id, dispatcher, decl)
}

// UnregisterBackend removes a backend; only future requests are
// affected.
func (g *Gateway) UnregisterBackend(id string) {
	g.registry.Unregister(id)
}

// Subscribe attaches a telemetry consumer.
func (g *Gateway) Subscribe(s telemetry.Subscriber) {
	g.bus.Subscribe(s)
}

// publish forwards e to the telemetry bus and keeps the TelemetryDropped
// counter in lockstep with the bus's own cumulative overflow count.
func (g *Gateway) publish(e telemetry.Event) {
	g.bus.Publish(e)
	dropped := g.bus.Dropped()
	if prev := g.telemetryDropped.Swap(dropped); dropped > prev {
		g.obs.TelemetryDropped.Add(float64(dropped - prev))
	}
}

// Observability returns the gateway's Prometheus collectors, for a
// caller wiring up a /metrics endpoint.
func (g *Gateway) Observability() *observability.Metrics {
	return g.obs
}

// Metrics returns a value-copy of every backend's MetricsRecord.
func (g *Gateway) Metrics() map[string]metricsstore.Record {
	return g.metrics.Snapshot()
}

// QTable returns a value-copy of every (backend, category) Q-value.
func (g *Gateway) QTable() []qlearn.Entry {
	return g.qtable.Entries()
}

// Reconfigure stores a single runtime parameter in the config (spec §6.5).
// The EMA smoothing and exploration rate are pushed to the metrics store
// and router here, and the learning rate is read from the config on every
// update. Circuit thresholds and hold durations, rate-limit defaults, the
// telemetry buffer, the default backend and the snapshot interval are
// read only when the Gateway (or cmd/gateway's snapshot loop) is built,
// so changing them has no effect on an existing Gateway.
func (g *Gateway) Reconfigure(key, value string) error {
	if err := g.cfg.Reconfigure(key, value); err != nil {
		return err
	}
	g.metrics.SetSmoothing(g.cfg.EMASmoothing())
	g.router.SetEpsilon(g.cfg.ExplorationRate())
	return nil
}

// ExportSnapshot captures the current Q-table and MetricsRecords into a
// versioned blob (spec §4.10). Concurrent callers (e.g. a periodic
// snapshot loop racing an admin-triggered export) collapse onto a single
// in-flight computation via singleflight, so they never encode or persist
// the same instant twice.
func (g *Gateway) ExportSnapshot(now time.Time) []byte {
	blob, _, _ := g.snapshotGroup.Do("export", func() (interface{}, error) {
		metricsSnapshot := g.metrics.Snapshot()
		records := make([]metricsstore.Record, 0, len(metricsSnapshot))
		for _, r := range metricsSnapshot {
			records = append(records, r)
		}
		b := snapshot.Export(records, g.qtable.Entries(), now)
		g.publish(telemetry.Event{Kind: telemetry.KindSnapshotTaken, SchemaVersion: snapshot.SchemaVersion, SizeBytes: len(b)})
		return b, nil
	})
	return blob.([]byte)
}

// ImportSnapshot merges a previously exported blob into live state,
// skipping any backend ID not currently registered.
func (g *Gateway) ImportSnapshot(blob []byte) (snapshot.ImportResult, error) {
	known := make(map[string]struct{})
	for _, id := range g.registry.List() {
		known[id] = struct{}{}
	}

	result, err := snapshot.Import(blob, known)
	if err != nil {
		return snapshot.ImportResult{}, err
	}

	for _, m := range result.Snapshot.Metrics {
		g.metrics.Restore(m)
	}
	for _, e := range result.Snapshot.QEntries {
		g.qtable.Restore(e.BackendID, e.Category, e.Q)
	}

	return result, nil
}

// Submit routes req to the best eligible backend and executes it,
// walking the fallback chain on retryable failure (spec §6.1).
func (g *Gateway) Submit(ctx context.Context, req backend.Request) (backend.DispatchResult, error) {
	requestID := telemetry.NewRequestID()
	now := time.Now()

	candidates := g.candidatesFor(now)
	decision := g.router.Route(req, candidates, g.qtable, now)

	if decision.Primary == "" {
		if onlyCircuitOpenCandidates(req, candidates) {
			return backend.DispatchResult{}, newGatewayError(ErrProviderUnavailable, "all capable backends are circuit-open")
		}
		return backend.DispatchResult{}, newGatewayError(ErrNoEligibleBackends, "no eligible providers")
	}

	chain, err := g.resolveChain(decision)
	if err != nil {
		return backend.DispatchResult{}, err
	}

	if alt, ok := router.FindCheaperAlternative(req, candidates, decision.Primary, decision.EstimatedCost); ok {
		g.log.Debug().Str("backend", decision.Primary).Str("cheaper_alternative", alt.BackendID).
			Float64("savings_ratio", alt.SavingsRatio).Msg("cheaper eligible backend available")
	}

	g.obs.RoutingScore.WithLabelValues(decision.Primary).Set(decision.CompositeScore)
	g.publish(telemetry.Event{Kind: telemetry.KindDispatchStarted, BackendID: decision.Primary, Category: req.Category, RequestID: requestID, Priority: req.Priority})

	prevBackendID := ""
	var prevKind backend.FailureKind
	result, runErr := execengine.Run(ctx, chain, req, g.limiter, g.ledger, g.breaker, func(o execengine.Outcome) {
		g.recordOutcome(req.Category, req.QualityScoreOverride, o)

		g.obs.DispatchTotal.WithLabelValues(o.BackendID, strconv.FormatBool(o.Success)).Inc()
		g.obs.DispatchLatency.WithLabelValues(o.BackendID).Observe(o.ResponseTimeMs)
		g.obs.ObserveCircuitState(o.BackendID, g.breaker.State(o.BackendID))
		g.obs.QValue.WithLabelValues(o.BackendID, string(req.Category)).Set(g.qtable.Get(o.BackendID, req.Category))
		g.obs.QuotaRemaining.WithLabelValues(o.BackendID).Set(float64(g.ledger.Remaining(o.BackendID)))

		g.publish(telemetry.Event{
			Kind: telemetry.KindDispatchCompleted, BackendID: o.BackendID, Category: req.Category,
			RequestID: requestID, Success: o.Success, InputUnits: o.InputUnits, OutputUnits: o.OutputUnits,
			Cost: o.IncurredCost, ResponseTimeMs: o.ResponseTimeMs, UsedFreeQuota: o.UsedFreeQuota, ErrorKind: o.FailureKind,
		})
		// Any outcome after the first means the previous backend failed
		// retryably and the chain moved on to o.BackendID.
		if prevBackendID != "" {
			g.obs.FallbacksTaken.WithLabelValues(prevBackendID).Inc()
			g.publish(telemetry.Event{Kind: telemetry.KindFallbackTaken, RequestID: requestID, FromBackend: prevBackendID, BackendID: o.BackendID, ErrorKind: prevKind})
		}
		prevBackendID = o.BackendID
		prevKind = o.FailureKind
	})

	if runErr != nil {
		return backend.DispatchResult{}, translateExecError(runErr)
	}
	return result, nil
}

// onlyCircuitOpenCandidates reports whether at least one candidate would
// have been eligible for req ignoring circuit state alone, and every such
// candidate is currently circuit-open. This distinguishes "nothing can ever
// serve this request" (ErrNoEligibleBackends) from "the right backend exists
// but is tripped" (ErrProviderUnavailable, spec §8).
func onlyCircuitOpenCandidates(req backend.Request, candidates []router.Candidate) bool {
	excluded := make(map[string]struct{}, len(req.ExcludedBackends))
	for _, id := range req.ExcludedBackends {
		excluded[id] = struct{}{}
	}
	preferred := make(map[string]struct{}, len(req.PreferredBackends))
	for _, id := range req.PreferredBackends {
		preferred[id] = struct{}{}
	}

	sawCapable := false
	for _, c := range candidates {
		if _, ok := excluded[c.ID]; ok {
			continue
		}
		if !c.Declarations.Capabilities.HasAll(req.RequiredCapabilities) {
			continue
		}
		if c.Declarations.ContextWindow > 0 && c.Declarations.ContextWindow < req.EstimatedInputUnits+req.MaxOutputUnits {
			continue
		}
		if req.PreferFreeTier {
			insufficientFree := c.FreeRemaining < req.EstimatedInputUnits+req.MaxOutputUnits
			_, isPreferred := preferred[c.ID]
			if insufficientFree && !isPreferred {
				continue
			}
		}
		sawCapable = true
		if c.CircuitState != circuit.Open {
			return false
		}
	}
	return sawCapable
}

func (g *Gateway) candidatesFor(now time.Time) []router.Candidate {
	all := g.registry.All()
	out := make([]router.Candidate, 0, len(all))
	for id, b := range all {
		minuteRemaining, dayRemaining := g.limiter.Remaining(id, now)
		out = append(out, router.Candidate{
			ID:            id,
			Declarations:  b.Declarations,
			Metrics:       g.metrics.Get(id),
			CircuitState:  g.breaker.CurrentState(id, now),
			FreeRemaining: g.ledger.Remaining(id),
			RateMinuteOK:  minuteRemaining > 0,
			RateDayOK:     dayRemaining > 0,
		})
	}
	// Map iteration order is random; sort so the router draws lazily
	// initialized Q-values in the same order for the same seed.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (g *Gateway) resolveChain(decision router.RoutingDecision) (execengine.Chain, error) {
	ids := append([]string{decision.Primary}, decision.Fallbacks...)
	backends := make([]backend.Backend, 0, len(ids))
	for _, id := range ids {
		b, ok := g.registry.Get(id)
		if !ok {
			continue
		}
		backends = append(backends, *b)
	}
	if len(backends) == 0 {
		return execengine.Chain{}, newGatewayError(ErrNoEligibleBackends, "resolved chain is empty")
	}
	return execengine.Chain{Backends: backends}, nil
}

func (g *Gateway) recordOutcome(category backend.TaskCategory, qualityOverride *float64, o execengine.Outcome) {
	prior := g.metrics.Get(o.BackendID)
	g.metrics.Apply(metricsstore.Outcome{
		BackendID:       o.BackendID,
		Success:         o.Success,
		ResponseTimeMs:  o.ResponseTimeMs,
		InputUnits:      o.InputUnits,
		OutputUnits:     o.OutputUnits,
		IncurredCost:    o.IncurredCost,
		At:              o.CompletedAt,
		QualityOverride: qualityOverride,
	})

	coldStart := !o.Success && o.FailureKind == backend.FailureTimeout && o.ResponseTimeMs < 2000
	if !o.Success {
		g.breaker.RecordFailure(o.BackendID, coldStart, o.CompletedAt)
	} else {
		g.breaker.RecordSuccess(o.BackendID)
	}

	decl, _ := g.registry.Get(o.BackendID)
	costPerUnit := 0.0
	if decl != nil {
		costPerUnit = decl.Declarations.Pricing.CostPerInputUnit
	}

	g.qtable.Update(qlearn.Outcome{
		BackendID:              o.BackendID,
		Category:               category,
		Success:                o.Success,
		AvgResponseTimeMs:      prior.AvgResponseTimeMs,
		ObservedResponseTimeMs: o.ResponseTimeMs,
		UsedFreeQuota:          o.UsedFreeQuota,
		CostPerUnit:            costPerUnit,
		Units:                  o.InputUnits + o.OutputUnits,
	}, g.cfg.LearningRate())

	if g.anomaly.Observe(o.BackendID, o.ResponseTimeMs) {
		g.anomalyMu.Lock()
		g.anomalyStreaks[o.BackendID]++
		streak := g.anomalyStreaks[o.BackendID]
		if streak >= anomalyStreakTrip {
			g.anomalyStreaks[o.BackendID] = 0
		}
		g.anomalyMu.Unlock()
		if streak >= anomalyStreakTrip {
			g.breaker.RecordFailure(o.BackendID, false, o.CompletedAt)
		}
	} else {
		g.anomalyMu.Lock()
		g.anomalyStreaks[o.BackendID] = 0
		g.anomalyMu.Unlock()
	}
}

func translateExecError(err error) error {
	switch e := err.(type) {
	case *execengine.TerminalError:
		return newGatewayError(ErrorKind(e.Kind), e.Message)
	case *execengine.AllProvidersFailedError:
		attempts := make([]AttemptError, len(e.Attempts))
		for i, a := range e.Attempts {
			attempts[i] = AttemptError{BackendID: a.BackendID, Kind: ErrorKind(a.Kind), Message: a.Message}
		}
		ge := newGatewayError(ErrAllProvidersFailed, "all providers failed")
		ge.Attempts = attempts
		return ge
	default:
		return newGatewayError(ErrTransient, err.Error())
	}
}
