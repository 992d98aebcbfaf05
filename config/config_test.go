package config_test

import (
	"os"
	"testing"

	"github.com/AlfredDev/aigw/config"
)

func TestLoadConfigFromEnv(t *testing.T) {
	os.Setenv("REDIS_URL", "redis://localhost:6379")
	os.Setenv("ENV", "test")
	os.Setenv("LEARNING_RATE", "0.2")
	defer func() {
		os.Unsetenv("REDIS_URL")
		os.Unsetenv("ENV")
		os.Unsetenv("LEARNING_RATE")
	}()

	cfg := config.Load()
	if cfg.RedisURL != "redis://localhost:6379" {
		t.Fatalf("expected REDIS_URL to be loaded, got %s", cfg.RedisURL)
	}
	if cfg.Env != "test" {
		t.Fatalf("expected ENV=test, got %s", cfg.Env)
	}
	if cfg.LearningRate() != 0.2 {
		t.Fatalf("expected learning rate 0.2, got %v", cfg.LearningRate())
	}
}

func TestDefaults(t *testing.T) {
	os.Unsetenv("CIRCUIT_THRESHOLD")
	cfg := config.Load()
	if cfg.CircuitThreshold() != 8 {
		t.Fatalf("expected default circuit_threshold 8, got %d", cfg.CircuitThreshold())
	}
	if cfg.RatePerDayDefault() != 10000 {
		t.Fatalf("expected default rate_per_day_default 10000, got %d", cfg.RatePerDayDefault())
	}
}

func TestReconfigure(t *testing.T) {
	cfg := config.Load()

	if err := cfg.Reconfigure("exploration_rate", "0.25"); err != nil {
		t.Fatalf("reconfigure exploration_rate: %v", err)
	}
	if cfg.ExplorationRate() != 0.25 {
		t.Fatalf("expected exploration rate 0.25, got %v", cfg.ExplorationRate())
	}

	if err := cfg.Reconfigure("exploration_rate", "not-a-float"); err == nil {
		t.Fatal("expected error for malformed value")
	}
	if cfg.ExplorationRate() != 0.25 {
		t.Fatalf("malformed value must not mutate state, got %v", cfg.ExplorationRate())
	}

	if err := cfg.Reconfigure("unknown_key", "1"); err == nil {
		t.Fatal("expected error for unrecognized key")
	}
}
