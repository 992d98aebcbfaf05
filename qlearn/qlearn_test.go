package qlearn_test

import (
	"math/rand"
	"testing"

	"github.com/AlfredDev/aigw/backend"
	"github.com/AlfredDev/aigw/qlearn"
)

func TestGetInitializesWithinRange(t *testing.T) {
	table := qlearn.New(rand.New(rand.NewSource(1)))
	q := table.Get("a", backend.CategoryTextGeneration)
	if q < 0.01 || q >= 0.10 {
		t.Fatalf("expected initial Q in [0.01, 0.10), got %v", q)
	}
}

func TestGetIsStableAcrossCalls(t *testing.T) {
	table := qlearn.New(rand.New(rand.NewSource(1)))
	first := table.Get("a", backend.CategoryTextGeneration)
	second := table.Get("a", backend.CategoryTextGeneration)
	if first != second {
		t.Fatalf("expected repeated Get to return the same value, got %v then %v", first, second)
	}
}

func TestRewardSuccessIsPositive(t *testing.T) {
	r := qlearn.Reward(qlearn.Outcome{
		Success:                true,
		AvgResponseTimeMs:      500,
		ObservedResponseTimeMs: 500,
		CostPerUnit:            0.00001,
		Units:                  100,
	})
	if r <= 0 {
		t.Fatalf("expected positive reward on success, got %v", r)
	}
}

func TestRewardFailureIsNegative(t *testing.T) {
	r := qlearn.Reward(qlearn.Outcome{
		Success:                false,
		AvgResponseTimeMs:      500,
		ObservedResponseTimeMs: 500,
		CostPerUnit:            0.00001,
		Units:                  100,
	})
	if r >= 0 {
		t.Fatalf("expected negative reward on failure, got %v", r)
	}
}

func TestRewardFreeQuotaMultiplier(t *testing.T) {
	free := qlearn.Reward(qlearn.Outcome{Success: true, AvgResponseTimeMs: 500, ObservedResponseTimeMs: 500, UsedFreeQuota: true})
	paid := qlearn.Reward(qlearn.Outcome{Success: true, AvgResponseTimeMs: 500, ObservedResponseTimeMs: 500, CostPerUnit: 0.0001, Units: 1000})
	if free <= paid {
		t.Fatalf("expected free-quota success to reward more than an equivalent paid success: free=%v paid=%v", free, paid)
	}
}

func TestRewardIsClampedToRange(t *testing.T) {
	r := qlearn.Reward(qlearn.Outcome{Success: true, AvgResponseTimeMs: 10000, ObservedResponseTimeMs: 1, UsedFreeQuota: true})
	if r > 2.0 || r < -2.0 {
		t.Fatalf("expected reward clamped to [-2, 2], got %v", r)
	}
}

func TestUpdateMovesTowardReward(t *testing.T) {
	table := qlearn.New(rand.New(rand.NewSource(1)))
	initial := table.Get("a", backend.CategoryTextGeneration)

	updated := table.Update(qlearn.Outcome{
		BackendID:              "a",
		Category:               backend.CategoryTextGeneration,
		Success:                true,
		AvgResponseTimeMs:      500,
		ObservedResponseTimeMs: 500,
		UsedFreeQuota:          true,
	}, 0.1)

	if updated <= initial {
		t.Fatalf("expected Q to move toward a positive reward: initial=%v updated=%v", initial, updated)
	}
}

func TestUpdateConvergesWithRepeatedPositiveReward(t *testing.T) {
	table := qlearn.New(rand.New(rand.NewSource(1)))
	var last float64
	for i := 0; i < 200; i++ {
		last = table.Update(qlearn.Outcome{
			BackendID:              "a",
			Category:               backend.CategoryTextGeneration,
			Success:                true,
			AvgResponseTimeMs:      500,
			ObservedResponseTimeMs: 500,
			UsedFreeQuota:          true,
		}, 0.1)
	}
	if last < 1.0 {
		t.Fatalf("expected Q to converge toward the free-quota success reward (1.5) with repeated positive outcomes, got %v", last)
	}
}

func TestEntriesReflectsUpdates(t *testing.T) {
	table := qlearn.New(rand.New(rand.NewSource(1)))
	table.Update(qlearn.Outcome{BackendID: "a", Category: backend.CategoryChatCompletion, Success: true, AvgResponseTimeMs: 1, ObservedResponseTimeMs: 1}, 0.1)

	entries := table.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].BackendID != "a" || entries[0].Category != backend.CategoryChatCompletion {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestRestoreSetsExactValue(t *testing.T) {
	table := qlearn.New(rand.New(rand.NewSource(1)))
	table.Restore("a", backend.CategoryEmbeddings, 0.42)
	if got := table.Get("a", backend.CategoryEmbeddings); got != 0.42 {
		t.Fatalf("expected restored value 0.42, got %v", got)
	}
}

func TestEpsilonGreedyRespectsSeed(t *testing.T) {
	t1 := qlearn.New(rand.New(rand.NewSource(42)))
	t2 := qlearn.New(rand.New(rand.NewSource(42)))

	for i := 0; i < 50; i++ {
		if t1.EpsilonGreedy(0.1) != t2.EpsilonGreedy(0.1) {
			t.Fatal("expected identically-seeded tables to produce identical exploration decisions")
		}
	}
}
