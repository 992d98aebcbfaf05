package circuit_test

import (
	"testing"
	"time"

	"github.com/AlfredDev/aigw/circuit"
)

func defaultConfig() circuit.Config {
	return circuit.Config{
		FailureThreshold:   8,
		ColdStartThreshold: 3,
		OpenDuration:       30 * time.Second,
		ExtendedDuration:   60 * time.Second,
		ExtendedAfter:      5,
	}
}

func TestBreakerStartsClosed(t *testing.T) {
	b := circuit.New(defaultConfig())
	if b.State("a") != circuit.Closed {
		t.Fatal("expected fresh breaker to be closed")
	}
	if !b.Allow("a", time.Now()) {
		t.Fatal("expected closed breaker to allow")
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := circuit.New(defaultConfig())
	now := time.Now()

	for i := 0; i < 7; i++ {
		b.RecordFailure("a", false, now)
	}
	if b.State("a") != circuit.Closed {
		t.Fatal("expected breaker to remain closed below threshold")
	}
	b.RecordFailure("a", false, now)
	if b.State("a") != circuit.Open {
		t.Fatal("expected breaker to trip open at threshold")
	}
	if b.Allow("a", now) {
		t.Fatal("expected open breaker to deny immediately after tripping")
	}
}

func TestBreakerColdStartTripsSooner(t *testing.T) {
	b := circuit.New(defaultConfig())
	now := time.Now()

	for i := 0; i < 2; i++ {
		b.RecordFailure("a", true, now)
	}
	if b.State("a") != circuit.Closed {
		t.Fatal("expected breaker closed below cold-start threshold")
	}
	b.RecordFailure("a", true, now)
	if b.State("a") != circuit.Open {
		t.Fatal("expected breaker to trip at cold-start threshold, well below ordinary failure threshold")
	}
}

func TestBreakerSuccessResetsCounters(t *testing.T) {
	b := circuit.New(defaultConfig())
	now := time.Now()

	for i := 0; i < 7; i++ {
		b.RecordFailure("a", false, now)
	}
	b.RecordSuccess("a")
	for i := 0; i < 7; i++ {
		b.RecordFailure("a", false, now)
	}
	if b.State("a") != circuit.Closed {
		t.Fatal("expected success to reset consecutive failure count")
	}
}

func TestBreakerHalfOpenAfterHoldDuration(t *testing.T) {
	b := circuit.New(defaultConfig())
	now := time.Now()

	for i := 0; i < 8; i++ {
		b.RecordFailure("a", false, now)
	}
	if b.Allow("a", now.Add(10*time.Second)) {
		t.Fatal("expected breaker to still deny before hold duration elapses")
	}
	if !b.Allow("a", now.Add(31*time.Second)) {
		t.Fatal("expected breaker to allow a single probe after hold duration elapses")
	}
	if b.State("a") != circuit.HalfOpen {
		t.Fatal("expected breaker to move to half-open on probe admission")
	}
}

func TestBreakerHalfOpenAdmitsOnlyOneProbe(t *testing.T) {
	b := circuit.New(defaultConfig())
	now := time.Now()

	for i := 0; i < 8; i++ {
		b.RecordFailure("a", false, now)
	}
	probeTime := now.Add(31 * time.Second)
	if !b.Allow("a", probeTime) {
		t.Fatal("expected first probe to be admitted")
	}
	if b.Allow("a", probeTime) {
		t.Fatal("expected concurrent second probe to be denied while first is in flight")
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := circuit.New(defaultConfig())
	now := time.Now()

	for i := 0; i < 8; i++ {
		b.RecordFailure("a", false, now)
	}
	probeTime := now.Add(31 * time.Second)
	b.Allow("a", probeTime)
	b.RecordFailure("a", false, probeTime)

	if b.State("a") != circuit.Open {
		t.Fatal("expected failed probe to reopen the breaker")
	}
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	b := circuit.New(defaultConfig())
	now := time.Now()

	for i := 0; i < 8; i++ {
		b.RecordFailure("a", false, now)
	}
	probeTime := now.Add(31 * time.Second)
	b.Allow("a", probeTime)
	b.RecordSuccess("a")

	if b.State("a") != circuit.Closed {
		t.Fatal("expected successful probe to close the breaker")
	}
}

func TestBreakerExtendedHoldAfterRepeatedColdStartTrips(t *testing.T) {
	b := circuit.New(defaultConfig())
	now := time.Now()

	// First trip: three consecutive cold-start failures while closed.
	// coldStartTrips becomes 1.
	for i := 0; i < 3; i++ {
		b.RecordFailure("a", true, now)
	}

	// Five more trips via failed half-open probes push coldStartTrips to 6,
	// past ExtendedAfter (5), so the breaker should switch to the extended
	// hold duration.
	for i := 0; i < 5; i++ {
		now = now.Add(31 * time.Second)
		if !b.Allow("a", now) {
			t.Fatalf("expected probe to be admitted on iteration %d", i)
		}
		b.RecordFailure("a", true, now)
	}

	if b.Allow("a", now.Add(31*time.Second)) {
		t.Fatal("expected extended hold duration (60s) to still deny a probe at 31s")
	}
	if !b.Allow("a", now.Add(61*time.Second)) {
		t.Fatal("expected extended hold duration to admit a probe once 60s has elapsed")
	}
}

func TestCurrentStateAdvancesToHalfOpenWithoutClaimingProbe(t *testing.T) {
	b := circuit.New(defaultConfig())
	now := time.Now()

	for i := 0; i < 8; i++ {
		b.RecordFailure("a", false, now)
	}
	if got := b.CurrentState("a", now.Add(10*time.Second)); got != circuit.Open {
		t.Fatalf("expected still-open state before hold elapses, got %v", got)
	}
	if got := b.CurrentState("a", now.Add(31*time.Second)); got != circuit.HalfOpen {
		t.Fatalf("expected half-open state once hold elapses, got %v", got)
	}
	// CurrentState must not have claimed the probe: both of the following
	// Allow calls represent independent callers racing the same window, and
	// exactly one of them must still be admitted.
	first := b.Allow("a", now.Add(32*time.Second))
	second := b.Allow("a", now.Add(32*time.Second))
	if first == second {
		t.Fatal("expected exactly one of two racing Allow calls to be admitted")
	}
}

func TestBackendsAreIndependent(t *testing.T) {
	b := circuit.New(defaultConfig())
	now := time.Now()
	for i := 0; i < 8; i++ {
		b.RecordFailure("a", false, now)
	}
	if b.State("b") != circuit.Closed {
		t.Fatal("expected backend b to be unaffected by backend a's failures")
	}
}
