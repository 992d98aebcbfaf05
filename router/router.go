// Package router implements the Router (spec §4.7): eligibility
// filtering over the Registry/Metrics/Quota/Circuit snapshot, fuzzy +
// Q-value scoring, and ε-greedy primary selection producing a ranked
// RoutingDecision.
package router

import (
	"sort"
	"time"

	"github.com/AlfredDev/aigw/backend"
	"github.com/AlfredDev/aigw/circuit"
	"github.com/AlfredDev/aigw/fuzzy"
	"github.com/AlfredDev/aigw/metricsstore"
	"github.com/AlfredDev/aigw/qlearn"
)

// qFloor is the floor applied to (1+Q) so a deeply negative Q cannot
// invert or zero out a backend's ranking (spec §4.7 step 4).
const qFloor = 0.01

// Candidate is one backend's full snapshot view as seen by the router:
// its declarations plus current metrics/quota/circuit state.
type Candidate struct {
	ID            string
	Declarations  backend.Declarations
	Metrics       metricsstore.Record
	CircuitState  circuit.State
	FreeRemaining int64
	RateMinuteOK  bool
	RateDayOK     bool
	Load          float64 // 0..1 normalized utilization proxy
}

// RoutingDecision is the Router's output: a primary pick, ranked
// fallbacks, and the estimates/rationale a caller or the Execution
// Engine needs (spec §4.7 step 6).
type RoutingDecision struct {
	Primary          string
	Fallbacks        []string
	EstimatedCost    float64
	EstimatedLatency float64
	Confidence       float64
	Rationale        string
	UsedFreeTier     bool
	CompositeScore   float64
}

// scored is an eligible candidate carrying its computed fuzzy and
// composite scores.
type scored struct {
	Candidate
	fuzzyScore float64
	q          float64
	composite  float64
	usedFree   bool
}

// Router holds the tunables that aren't part of per-request input.
type Router struct {
	epsilon        float64
	defaultBackend string
}

// New creates a Router with the given exploration rate and default
// fallback backend (used when the eligible set is empty).
func New(epsilon float64, defaultBackend string) *Router {
	return &Router{epsilon: epsilon, defaultBackend: defaultBackend}
}

// SetEpsilon updates the exploration rate (spec §6.5 exploration_rate).
func (r *Router) SetEpsilon(epsilon float64) { r.epsilon = epsilon }

// Route produces a RoutingDecision for req given the candidate snapshot.
// table provides Q-values and the seeded RNG driving ε-greedy choice;
// callers must supply the same table (and hence the same RNG sequence)
// to get deterministic routing for identical inputs (spec §4.7).
func (r *Router) Route(req backend.Request, candidates []Candidate, table *qlearn.Table, now time.Time) RoutingDecision {
	eligible := r.filter(req, candidates, now)

	if len(req.PreferredBackends) > 0 {
		if intersection := intersect(eligible, req.PreferredBackends); len(intersection) > 0 {
			eligible = intersection
		}
	}

	if len(eligible) == 0 {
		if r.defaultBackend == "" {
			return RoutingDecision{Confidence: 0.1, Rationale: "no eligible providers"}
		}
		return RoutingDecision{
			Primary:    r.defaultBackend,
			Confidence: 0.1,
			Rationale:  "no eligible providers",
		}
	}

	scoredList := make([]scored, 0, len(eligible))
	for _, c := range eligible {
		usedFree := req.PreferFreeTier && c.FreeRemaining >= req.EstimatedInputUnits+req.MaxOutputUnits

		costEfficiency := 1.0
		if !usedFree {
			costEfficiency = costEfficiencyOf(c.Declarations.Pricing)
		}

		f := fuzzy.Score(fuzzy.Inputs{
			ResponseTimeMs: c.Metrics.AvgResponseTimeMs,
			CostEfficiency: costEfficiency,
			QualityScore:   c.Metrics.QualityScore,
			Load:           c.Load,
		}, req.PriorityAxis)

		q := table.Get(c.ID, req.Category)
		qTerm := q + 1
		if qTerm < qFloor {
			qTerm = qFloor
		}

		scoredList = append(scoredList, scored{
			Candidate:  c,
			fuzzyScore: f,
			q:          q,
			composite:  f * qTerm,
			usedFree:   usedFree,
		})
	}

	sort.SliceStable(scoredList, func(i, j int) bool {
		return scoredList[i].composite > scoredList[j].composite
	})

	primaryIdx := 0
	if table.EpsilonGreedy(r.epsilon) {
		primaryIdx = table.PickUniform(len(scoredList))
	}
	primary := scoredList[primaryIdx]

	fallbacks := make([]string, 0, 2)
	for i, s := range scoredList {
		if i == primaryIdx {
			continue
		}
		fallbacks = append(fallbacks, s.ID)
		if len(fallbacks) == 2 {
			break
		}
	}

	confidence := 0.1
	if len(scoredList) > 1 {
		runnerUp := pickRunnerUp(scoredList, primaryIdx)
		confidence = confidenceFrom(primary.composite, runnerUp)
	} else {
		confidence = 0.95
	}

	decl := primary.Declarations
	estCost := 0.0
	if !primary.usedFree {
		estCost = float64(req.EstimatedInputUnits)*decl.Pricing.CostPerInputUnit +
			float64(req.MaxOutputUnits)*decl.Pricing.CostPerOutputUnit
	}

	return RoutingDecision{
		Primary:          primary.ID,
		Fallbacks:        fallbacks,
		EstimatedCost:    estCost,
		EstimatedLatency: primary.Metrics.AvgResponseTimeMs,
		Confidence:       confidence,
		Rationale:        rationale(primary),
		UsedFreeTier:     primary.usedFree,
		CompositeScore:   primary.composite,
	}
}

func (r *Router) filter(req backend.Request, candidates []Candidate, now time.Time) []Candidate {
	excluded := toSet(req.ExcludedBackends)
	preferred := toSet(req.PreferredBackends)

	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := excluded[c.ID]; ok {
			continue
		}
		if c.CircuitState == circuit.Open {
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
		out = append(out, c)
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func intersect(candidates []Candidate, preferred []string) []Candidate {
	pref := toSet(preferred)
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := pref[c.ID]; ok {
			out = append(out, c)
		}
	}
	return out
}

// costEfficiencyOf derives a 0..1 cost-efficiency figure from a pricing
// declaration: cheaper backends score closer to 1. Backends with zero
// declared cost (e.g. always-free) score 1.
func costEfficiencyOf(p backend.Pricing) float64 {
	total := p.CostPerInputUnit + p.CostPerOutputUnit
	if total <= 0 {
		return 1.0
	}
	// A representative "expensive" reference point; costs at or above it
	// floor out at 0 efficiency, costs at 0 ceiling at 1.
	const referenceCost = 0.00006 // roughly GPT-4-tier combined per-token cost
	eff := 1.0 - total/referenceCost
	if eff < 0 {
		eff = 0
	}
	if eff > 1 {
		eff = 1
	}
	return eff
}

func pickRunnerUp(scoredList []scored, primaryIdx int) float64 {
	for i, s := range scoredList {
		if i != primaryIdx {
			return s.composite
		}
	}
	return 0
}

func confidenceFrom(primaryScore, runnerUp float64) float64 {
	if primaryScore <= 0 {
		return 0.1
	}
	gap := (primaryScore - runnerUp) / primaryScore
	conf := 0.5 + gap*0.45
	if conf < 0.1 {
		conf = 0.1
	}
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

func rationale(s scored) string {
	reasons := make([]string, 0, 2)
	if s.usedFree {
		reasons = append(reasons, "free units available")
	}
	if s.Metrics.SuccessRate >= 0.9 {
		reasons = append(reasons, "high reliability")
	}
	if s.Metrics.AvgResponseTimeMs > 0 && s.Metrics.AvgResponseTimeMs < 500 {
		reasons = append(reasons, "low latency headroom")
	}
	if len(s.Declarations.Capabilities) > 0 {
		reasons = append(reasons, "capability specialty")
	}
	if len(reasons) == 0 {
		return "highest composite score among eligible backends"
	}
	if len(reasons) > 2 {
		reasons = reasons[:2]
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}
