// Package circuit implements a per-backend three-state circuit breaker
// (spec §4.4): closed, open, and half-open, with separate hold durations
// for ordinary failures and cold-start-heavy backends.
package circuit

import (
	"sync"
	"time"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the thresholds and durations governing one breaker.
type Config struct {
	FailureThreshold   int           // consecutive failures before tripping
	ColdStartThreshold int           // consecutive cold-start failures before tripping
	OpenDuration       time.Duration // baseline hold before half-open probe
	ExtendedDuration   time.Duration // hold used after repeated cold-start trips
	ExtendedAfter      int           // cold-start trip count after which ExtendedDuration applies
}

type backendBreaker struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	consecutiveColdFail int
	coldStartTrips      int
	openedAt            time.Time
	holdDuration        time.Duration
	halfOpenInFlight    bool
}

// Breaker tracks the circuit state of every backend independently.
type Breaker struct {
	cfg Config

	mu       sync.RWMutex
	backends map[string]*backendBreaker
}

// New creates a Breaker with the given thresholds.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, backends: make(map[string]*backendBreaker)}
}

func (b *Breaker) stateFor(backendID string) *backendBreaker {
	b.mu.RLock()
	bb, ok := b.backends[backendID]
	b.mu.RUnlock()
	if ok {
		return bb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if bb, ok = b.backends[backendID]; ok {
		return bb
	}
	bb = &backendBreaker{state: Closed}
	b.backends[backendID] = bb
	return bb
}

// Allow reports whether a dispatch attempt to backendID may proceed right
// now. A half-open breaker allows exactly one in-flight probe at a time;
// concurrent callers racing the same half-open window are denied until
// the probe resolves.
func (b *Breaker) Allow(backendID string, now time.Time) bool {
	bb := b.stateFor(backendID)
	bb.mu.Lock()
	defer bb.mu.Unlock()

	switch bb.state {
	case Closed:
		return true
	case Open:
		if now.Sub(bb.openedAt) >= bb.holdDuration {
			bb.state = HalfOpen
			bb.halfOpenInFlight = true
			return true
		}
		return false
	case HalfOpen:
		if bb.halfOpenInFlight {
			return false
		}
		bb.halfOpenInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess closes the breaker and resets failure counters.
func (b *Breaker) RecordSuccess(backendID string) {
	bb := b.stateFor(backendID)
	bb.mu.Lock()
	defer bb.mu.Unlock()

	bb.state = Closed
	bb.consecutiveFailures = 0
	bb.consecutiveColdFail = 0
	bb.halfOpenInFlight = false
}

// RecordFailure registers a failed attempt. coldStart marks a failure
// that looks like a provider cold-start (timeout on first byte) rather
// than an ordinary error, which trips sooner under ColdStartThreshold.
func (b *Breaker) RecordFailure(backendID string, coldStart bool, now time.Time) {
	bb := b.stateFor(backendID)
	bb.mu.Lock()
	defer bb.mu.Unlock()

	bb.halfOpenInFlight = false

	if bb.state == HalfOpen {
		b.trip(bb, coldStart, now)
		return
	}

	bb.consecutiveFailures++
	if coldStart {
		bb.consecutiveColdFail++
	} else {
		bb.consecutiveColdFail = 0
	}

	if bb.consecutiveFailures >= b.cfg.FailureThreshold ||
		(b.cfg.ColdStartThreshold > 0 && bb.consecutiveColdFail >= b.cfg.ColdStartThreshold) {
		b.trip(bb, coldStart, now)
	}
}

func (b *Breaker) trip(bb *backendBreaker, coldStart bool, now time.Time) {
	bb.state = Open
	bb.openedAt = now
	if coldStart {
		bb.coldStartTrips++
	}
	if b.cfg.ExtendedAfter > 0 && bb.coldStartTrips > b.cfg.ExtendedAfter {
		bb.holdDuration = b.cfg.ExtendedDuration
	} else {
		bb.holdDuration = b.cfg.OpenDuration
	}
}

// State returns the current state of backendID's breaker.
func (b *Breaker) State(backendID string) State {
	bb := b.stateFor(backendID)
	bb.mu.Lock()
	defer bb.mu.Unlock()
	return bb.state
}

// CurrentState reports backendID's breaker state as of now, lazily
// advancing Open to HalfOpen once the hold duration has elapsed. Unlike
// Allow, it never claims the single half-open probe slot, so it is safe
// to call when building a routing snapshot that may never result in an
// actual dispatch to backendID — only the real Allow call at dispatch
// time contends for the probe.
func (b *Breaker) CurrentState(backendID string, now time.Time) State {
	bb := b.stateFor(backendID)
	bb.mu.Lock()
	defer bb.mu.Unlock()
	if bb.state == Open && now.Sub(bb.openedAt) >= bb.holdDuration {
		bb.state = HalfOpen
	}
	return bb.state
}
