// Package qlearn implements the tabular Q-Learner (spec §4.6): a table
// indexed by (backend, task-category), updated after each dispatch
// outcome using a cost-aware, clamped reward.
package qlearn

import (
	"math/rand"
	"sync"

	"github.com/AlfredDev/aigw/backend"
)

const (
	minInitialQ = 0.01
	maxInitialQ = 0.10

	rewardClampLow  = -2.0
	rewardClampHigh = 2.0

	responseRatioClampLow  = 0.5
	responseRatioClampHigh = 2.0

	freeQuotaRewardMultiplier = 1.5

	costRewardClampLow  = 0.5
	costRewardClampHigh = 2.0
)

type key struct {
	backendID string
	category  backend.TaskCategory
}

// Table is the Q-value store, keyed by (backendID, category). Get and
// Update are funneled through a per-key lock so concurrent updates to
// different keys proceed in parallel while updates to the same key
// linearize (spec §5). Restore writes under the table-wide lock only.
type Table struct {
	rng *rand.Rand

	mu      sync.Mutex
	entries map[key]*float64
	locks   map[key]*sync.Mutex
}

// New creates a Q-table seeded from the given RNG source. Callers that
// need reproducible routing decisions must supply a rand.Rand created
// from a fixed seed (spec §4.7: "routing is deterministic given a fixed
// RNG seed").
func New(rng *rand.Rand) *Table {
	return &Table{rng: rng, entries: make(map[key]*float64), locks: make(map[key]*sync.Mutex)}
}

func (t *Table) lockFor(k key) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[k]
	if !ok {
		l = &sync.Mutex{}
		t.locks[k] = l
	}
	return l
}

// Get returns the current Q-value for (backendID, category), lazily
// initializing it to a small positive random value in [0.01, 0.10) on
// first observation (spec §3).
func (t *Table) Get(backendID string, category backend.TaskCategory) float64 {
	k := key{backendID, category}
	l := t.lockFor(k)
	l.Lock()
	defer l.Unlock()

	t.mu.Lock()
	v, ok := t.entries[k]
	t.mu.Unlock()
	if ok {
		return *v
	}

	init := minInitialQ + t.rng.Float64()*(maxInitialQ-minInitialQ)
	t.mu.Lock()
	t.entries[k] = &init
	t.mu.Unlock()
	return init
}

// Outcome is the subset of an OutcomeEvent the learner needs to compute
// a reward.
type Outcome struct {
	BackendID        string
	Category         backend.TaskCategory
	Success          bool
	AvgResponseTimeMs float64 // prior EMA, before this sample
	ObservedResponseTimeMs float64
	UsedFreeQuota    bool
	CostPerUnit      float64
	Units            int64
}

// Reward computes the clamped, cost-aware reward for one outcome (spec
// §4.6).
func Reward(o Outcome) float64 {
	base := -1.0
	if o.Success {
		base = 1.0
	}

	ratio := 1.0
	if o.ObservedResponseTimeMs > 0 && o.AvgResponseTimeMs > 0 {
		ratio = o.AvgResponseTimeMs / o.ObservedResponseTimeMs
	}
	ratio = clamp(ratio, responseRatioClampLow, responseRatioClampHigh)
	r := base * ratio

	if o.Success && o.UsedFreeQuota {
		r *= freeQuotaRewardMultiplier
	} else {
		costFactor := 1.0
		if o.CostPerUnit > 0 && o.Units > 0 {
			costFactor = 0.1 / (o.CostPerUnit * float64(o.Units))
		}
		costFactor = clamp(costFactor, costRewardClampLow, costRewardClampHigh)
		r *= costFactor
	}

	return clamp(r, rewardClampLow, rewardClampHigh)
}

// Update applies the Q-learning rule Q ← Q + α·(R−Q) for the given
// outcome's (backend, category) key, using reward R computed from o via
// Reward.
func (t *Table) Update(o Outcome, alpha float64) float64 {
	k := key{o.BackendID, o.Category}
	l := t.lockFor(k)
	l.Lock()
	defer l.Unlock()

	t.mu.Lock()
	v, ok := t.entries[k]
	t.mu.Unlock()

	current := 0.0
	if ok {
		current = *v
	} else {
		current = minInitialQ + t.rng.Float64()*(maxInitialQ-minInitialQ)
	}

	reward := Reward(o)
	updated := current + alpha*(reward-current)

	t.mu.Lock()
	t.entries[k] = &updated
	t.mu.Unlock()
	return updated
}

// EpsilonGreedy reports whether this routing decision should explore
// uniformly at random rather than exploit the argmax, given ε and the
// table's RNG.
func (t *Table) EpsilonGreedy(epsilon float64) bool {
	return t.rng.Float64() < epsilon
}

// PickUniform returns a uniformly random index in [0, n) using the
// table's RNG, for ε-greedy exploration among eligible backends.
func (t *Table) PickUniform(n int) int {
	if n <= 0 {
		return 0
	}
	return t.rng.Intn(n)
}

// Entry is one (backendID, category, Q) tuple, used by the Snapshot
// Codec's body encoding (spec §6.3).
type Entry struct {
	BackendID string
	Category  backend.TaskCategory
	Q         float64
}

// Entries returns a value-copy of every (backendID, category) → Q entry.
func (t *Table) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.entries))
	for k, v := range t.entries {
		out = append(out, Entry{BackendID: k.backendID, Category: k.category, Q: *v})
	}
	return out
}

// Restore sets the Q-value for (backendID, category) directly, used by
// the Snapshot Codec on import.
func (t *Table) Restore(backendID string, category backend.TaskCategory, q float64) {
	k := key{backendID, category}
	t.mu.Lock()
	defer t.mu.Unlock()
	v := q
	t.entries[k] = &v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
