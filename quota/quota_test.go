package quota_test

import (
	"testing"
	"time"

	"github.com/AlfredDev/aigw/quota"
)

func TestLimiterAllowsWithinLimit(t *testing.T) {
	l := quota.New(2, 100)
	now := time.Now()

	if got := l.Acquire("a", now); got != quota.Allowed {
		t.Fatalf("expected Allowed, got %v", got)
	}
	if got := l.Acquire("a", now); got != quota.Allowed {
		t.Fatalf("expected Allowed, got %v", got)
	}
	if got := l.Acquire("a", now); got != quota.RateLimited {
		t.Fatalf("expected RateLimited on third call, got %v", got)
	}
}

func TestLimiterResetsOnWindowBoundary(t *testing.T) {
	l := quota.New(1, 100)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if got := l.Acquire("a", base); got != quota.Allowed {
		t.Fatalf("expected Allowed, got %v", got)
	}
	if got := l.Acquire("a", base.Add(30*time.Second)); got != quota.RateLimited {
		t.Fatalf("expected RateLimited inside same minute window, got %v", got)
	}
	if got := l.Acquire("a", base.Add(61*time.Second)); got != quota.Allowed {
		t.Fatalf("expected Allowed after minute boundary passes, got %v", got)
	}
}

func TestLimiterDayWindowBlocksEvenWithMinuteCapacity(t *testing.T) {
	l := quota.New(100, 1)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := l.Acquire("a", base); got != quota.Allowed {
		t.Fatalf("expected Allowed, got %v", got)
	}
	if got := l.Acquire("a", base.Add(time.Minute)); got != quota.RateLimited {
		t.Fatalf("expected day window to reject despite fresh minute window, got %v", got)
	}
}

func TestLimiterBackendsAreIndependent(t *testing.T) {
	l := quota.New(1, 100)
	now := time.Now()

	l.Acquire("a", now)
	if got := l.Acquire("b", now); got != quota.Allowed {
		t.Fatalf("expected backend b to be unaffected by backend a's usage, got %v", got)
	}
}

func TestLedgerReserveSettleRefund(t *testing.T) {
	l := quota.NewLedger()
	now := time.Now()

	r, ok := l.Reserve("groq", "req-1", 1000, 100, now)
	if !ok {
		t.Fatal("expected reservation to succeed within free quota")
	}
	if l.Remaining("groq") != 900 {
		t.Fatalf("expected remaining 900 while reserved, got %d", l.Remaining("groq"))
	}

	settled, err := l.Settle("groq", r.ID, 80)
	if err != nil {
		t.Fatalf("unexpected settle error: %v", err)
	}
	if settled.ActualUnits != 80 {
		t.Fatalf("expected actual units 80, got %d", settled.ActualUnits)
	}
	if l.Remaining("groq") != 920 {
		t.Fatalf("expected remaining 920 after settling fewer units than reserved, got %d", l.Remaining("groq"))
	}
}

func TestLedgerRefundReleasesHold(t *testing.T) {
	l := quota.NewLedger()
	now := time.Now()

	r, _ := l.Reserve("groq", "req-1", 100, 100, now)
	if l.Remaining("groq") != 0 {
		t.Fatalf("expected no remaining quota while fully reserved, got %d", l.Remaining("groq"))
	}

	if _, err := l.Refund("groq", r.ID); err != nil {
		t.Fatalf("unexpected refund error: %v", err)
	}
	if l.Remaining("groq") != 100 {
		t.Fatalf("expected full quota restored after refund, got %d", l.Remaining("groq"))
	}
}

func TestLedgerRejectsOverReservation(t *testing.T) {
	l := quota.NewLedger()
	now := time.Now()

	l.Reserve("groq", "req-1", 100, 60, now)
	_, ok := l.Reserve("groq", "req-2", 100, 60, now)
	if ok {
		t.Fatal("expected second reservation to be rejected when it would exceed total free quota")
	}
}

func TestLedgerDoubleSettleFails(t *testing.T) {
	l := quota.NewLedger()
	now := time.Now()

	r, _ := l.Reserve("groq", "req-1", 100, 50, now)
	if _, err := l.Settle("groq", r.ID, 50); err != nil {
		t.Fatalf("unexpected error on first settle: %v", err)
	}
	if _, err := l.Settle("groq", r.ID, 50); err == nil {
		t.Fatal("expected error settling an already-settled reservation")
	}
}

func TestLedgerUnknownReservationErrors(t *testing.T) {
	l := quota.NewLedger()
	if _, err := l.Settle("groq", "nope", 1); err == nil {
		t.Fatal("expected error for unknown reservation")
	}
}
