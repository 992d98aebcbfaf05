// Package execengine implements the Execution Engine (spec §4.8):
// sequential fallback dispatch under a deadline, quota reservation and
// release, and outcome publication in strict primary-then-fallback
// order.
package execengine

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/AlfredDev/aigw/backend"
	"github.com/AlfredDev/aigw/quota"
)

// defaultBackendTimeout bounds a single dispatch attempt when the
// caller's request deadline is absent or further out (spec §4.8 step 2).
const defaultBackendTimeout = 60 * time.Second

// interAttemptBackoffMax is the MaxElapsedTime of the backoff that paces
// the pause after a retryably failed dispatch before the next fallback,
// so a burst of fallbacks doesn't hammer the next backend the instant the
// first one fails. A backend skipped by the rate limiter or the circuit
// gate is passed over without a pause.
const interAttemptBackoffMax = 2 * time.Second

// Attempt records one backend's outcome within a fallback walk.
type Attempt struct {
	BackendID string
	Kind      backend.FailureKind
	Message   string
	Terminal  bool
}

// AllProvidersFailedError aggregates every retryable attempt's failure
// kind once the fallback chain is exhausted (spec §7).
type AllProvidersFailedError struct {
	Attempts []Attempt
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("all %d provider(s) failed", len(e.Attempts))
}

// TerminalError wraps a single terminal failure that short-circuits the
// fallback chain (spec §4.8 step 5).
type TerminalError struct {
	BackendID string
	Kind      backend.FailureKind
	Message   string
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.BackendID, e.Kind, e.Message)
}

// Outcome is published once per attempted backend, in fallback order, so
// callers can feed it to Metrics/Quota/Circuit/Q-Learner/Telemetry.
type Outcome struct {
	BackendID      string
	Success        bool
	ResponseTimeMs float64
	InputUnits     int64
	OutputUnits    int64
	IncurredCost   float64
	UsedFreeQuota  bool
	FailureKind    backend.FailureKind // zero value on success
	StartedAt      time.Time
	CompletedAt    time.Time
}

// Chain is the ordered candidate list the Router produced: primary first,
// then fallbacks.
type Chain struct {
	Backends []backend.Backend
}

// Limiter is the narrow rate-limiting surface the engine needs.
type Limiter interface {
	Acquire(backendID string, now time.Time) quota.Decision
}

// CircuitGate is the narrow circuit-breaker surface the engine needs to
// admit a dispatch attempt. Allow is the only accessor that claims the
// single half-open probe slot; a candidate snapshot built earlier in the
// request's lifecycle may have listed a backend as half-open without any
// guarantee it will still win the probe by the time Run reaches it.
type CircuitGate interface {
	Allow(backendID string, now time.Time) bool
}

// Publisher receives one Outcome per attempted backend, called
// synchronously and in order before the engine advances to the next
// fallback.
type Publisher func(Outcome)

// Run attempts chain.Backends in order under a deadline equal to
// min(req.Deadline, defaultBackendTimeout), reserving and settling free
// quota where declared, publishing one Outcome per attempt, and
// returning the first success or an aggregated failure.
func Run(ctx context.Context, chain Chain, req backend.Request, limiter Limiter, ledger *quota.Ledger, breaker CircuitGate, publish Publisher) (backend.DispatchResult, error) {
	attempts := make([]Attempt, 0, len(chain.Backends))

	for _, b := range chain.Backends {
		now := time.Now()

		if limiter.Acquire(b.ID, now) != quota.Allowed {
			attempts = append(attempts, Attempt{BackendID: b.ID, Kind: backend.FailureRateLimited, Message: "rate limit exhausted"})
			continue
		}

		if breaker != nil && !breaker.Allow(b.ID, now) {
			attempts = append(attempts, Attempt{BackendID: b.ID, Kind: backend.FailureProviderUnavailable, Message: "circuit open or probe already in flight"})
			continue
		}

		decl := b.Declarations
		usedFree := req.PreferFreeTier && decl.Pricing.FreeQuotaTotal > 0

		reservationID := b.ID + ":" + fmt.Sprint(now.UnixNano())
		var reserved bool
		if usedFree {
			_, reserved = ledger.Reserve(b.ID, reservationID, decl.Pricing.FreeQuotaTotal, req.EstimatedInputUnits+req.MaxOutputUnits, now)
			usedFree = reserved
		}

		deadline := min(req.Deadline, now.Add(defaultBackendTimeout))
		dctx, cancel := context.WithDeadline(ctx, deadline)
		started := time.Now()
		result, err := b.Dispatcher.Dispatch(dctx, req)
		completed := time.Now()
		cancel()

		if err == nil {
			if reserved {
				ledger.Settle(b.ID, reservationID, result.Usage.InputUnits+result.Usage.OutputUnits)
			}
			cost := costOf(decl.Pricing, result.Usage, usedFree)
			publish(Outcome{
				BackendID:      b.ID,
				Success:        true,
				ResponseTimeMs: float64(completed.Sub(started).Milliseconds()),
				InputUnits:     result.Usage.InputUnits,
				OutputUnits:    result.Usage.OutputUnits,
				IncurredCost:   cost,
				UsedFreeQuota:  usedFree,
				StartedAt:      started,
				CompletedAt:    completed,
			})
			return result, nil
		}

		if reserved {
			ledger.Refund(b.ID, reservationID)
		}

		kind, message := classify(dctx, err)
		publish(Outcome{
			BackendID:      b.ID,
			Success:        false,
			ResponseTimeMs: float64(completed.Sub(started).Milliseconds()),
			FailureKind:    kind,
			StartedAt:      started,
			CompletedAt:    completed,
		})

		if !kind.Retryable() {
			return backend.DispatchResult{}, &TerminalError{BackendID: b.ID, Kind: kind, Message: message}
		}

		attempts = append(attempts, Attempt{BackendID: b.ID, Kind: kind, Message: message})

		if err := backoffBeforeNext(ctx); err != nil {
			break
		}
	}

	return backend.DispatchResult{}, &AllProvidersFailedError{Attempts: attempts}
}

func classify(ctx context.Context, err error) (backend.FailureKind, string) {
	if ctx.Err() == context.DeadlineExceeded {
		return backend.FailureTimeout, "deadline exceeded"
	}
	if de, ok := err.(*backend.DispatchError); ok {
		return de.Kind, de.Message
	}
	return backend.FailureTransient, err.Error()
}

func costOf(p backend.Pricing, usage backend.Usage, usedFree bool) float64 {
	if usedFree {
		return 0
	}
	return float64(usage.InputUnits)*p.CostPerInputUnit + float64(usage.OutputUnits)*p.CostPerOutputUnit
}

func min(deadline time.Time, backendTimeout time.Time) time.Time {
	if deadline.IsZero() {
		return backendTimeout
	}
	if deadline.Before(backendTimeout) {
		return deadline
	}
	return backendTimeout
}

// backoffBeforeNext pauses briefly before trying the next fallback,
// bounded by ctx. Each call starts a fresh exponential backoff and waits
// for its first (randomized initial) interval only, so the pause does not
// grow from one fallback to the next.
func backoffBeforeNext(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = interAttemptBackoffMax
	d := b.NextBackOff()
	if d == backoff.Stop {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
