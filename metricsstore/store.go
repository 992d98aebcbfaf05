// Package metricsstore maintains per-backend running statistics fed by
// OutcomeEvents from the telemetry bus (spec §4.2).
package metricsstore

import (
	"sync"
	"time"
)

// defaultQuality is used until a caller supplies a quality score; per
// spec §9's open question, quality is never learned from outcomes.
const defaultQuality = 0.7

// Record is the per-backend running statistics snapshot (spec §3).
type Record struct {
	BackendID          string
	AvgResponseTimeMs  float64
	SuccessRate        float64
	QualityScore       float64
	CumulativeUnits    int64
	CumulativeCost     float64
	RequestCount       int64
	SuccessCount       int64
	FailureCount       int64
	LastFailure        time.Time
	LastUpdated        time.Time
}

type entry struct {
	mu     sync.Mutex
	record Record
}

// Store holds one Record per backend. Updates for a given backend are
// serialized through that backend's own mutex so EMAs apply in strict
// per-backend order; independent backends never contend with each other
// (spec §4.2, §5 "lock granularity is per-backend, never global").
type Store struct {
	smoothing float64

	mu      sync.RWMutex
	byID    map[string]*entry
}

// New creates a metrics store with the given EMA smoothing factor alpha.
func New(smoothing float64) *Store {
	return &Store{smoothing: smoothing, byID: make(map[string]*entry)}
}

// SetSmoothing updates the EMA smoothing factor applied to future updates
// (spec §6.5 ema_smoothing reconfiguration).
func (s *Store) SetSmoothing(alpha float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.smoothing = alpha
}

func (s *Store) entryFor(backendID string) *entry {
	s.mu.RLock()
	e, ok := s.byID[backendID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.byID[backendID]; ok {
		return e
	}
	e = &entry{record: Record{
		BackendID:    backendID,
		QualityScore: defaultQuality,
	}}
	s.byID[backendID] = e
	return e
}

// Outcome is the subset of an OutcomeEvent the metrics store consumes.
type Outcome struct {
	BackendID       string
	Success         bool
	ResponseTimeMs  float64
	InputUnits      int64
	OutputUnits     int64
	IncurredCost    float64
	QualityOverride *float64
	At              time.Time
}

// Apply updates the backend's Record from one OutcomeEvent (spec §4.2):
// EMA for response time / success rate / quality, additive totals for
// cost and units, incremented counters, and last-failure/last-updated
// timestamps.
func (s *Store) Apply(o Outcome) {
	e := s.entryFor(o.BackendID)
	s.mu.RLock()
	alpha := s.smoothing
	s.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	r := &e.record
	successVal := 0.0
	if o.Success {
		successVal = 1.0
	}

	if r.RequestCount == 0 {
		// First observation seeds the EMA directly rather than blending
		// against an arbitrary zero value.
		r.AvgResponseTimeMs = o.ResponseTimeMs
		r.SuccessRate = successVal
	} else {
		if o.Success {
			r.AvgResponseTimeMs = ema(r.AvgResponseTimeMs, o.ResponseTimeMs, alpha)
		}
		r.SuccessRate = ema(r.SuccessRate, successVal, alpha)
	}

	if o.QualityOverride != nil {
		if r.RequestCount == 0 {
			r.QualityScore = *o.QualityOverride
		} else {
			r.QualityScore = ema(r.QualityScore, *o.QualityOverride, alpha)
		}
	}

	r.CumulativeUnits += o.InputUnits + o.OutputUnits
	r.CumulativeCost += o.IncurredCost
	r.RequestCount++
	if o.Success {
		r.SuccessCount++
	} else {
		r.FailureCount++
		r.LastFailure = o.At
	}
	r.LastUpdated = o.At
}

func ema(prev, sample, alpha float64) float64 {
	return prev + alpha*(sample-prev)
}

// Get returns a value-copy of the Record for backendID, or the zero
// Record with QualityScore defaulted if the backend has never been
// observed.
func (s *Store) Get(backendID string) Record {
	s.mu.RLock()
	e, ok := s.byID[backendID]
	s.mu.RUnlock()
	if !ok {
		return Record{BackendID: backendID, QualityScore: defaultQuality}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record
}

// Snapshot returns a value-copy of every backend's Record, safe for the
// Router to read without locking the store itself (spec §4.2 "Snapshot
// export produces a value-copy that the Router may read without
// locking").
func (s *Store) Snapshot() map[string]Record {
	s.mu.RLock()
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make(map[string]Record, len(ids))
	for _, id := range ids {
		out[id] = s.Get(id)
	}
	return out
}

// Restore overwrites (or creates) the Record for a backend, used by the
// Snapshot Codec on import (spec §4.10).
func (s *Store) Restore(r Record) {
	e := s.entryFor(r.BackendID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record = r
}
