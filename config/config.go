// Package config loads gateway configuration from the environment and
// exposes the reconfigurable routing/learning knobs from spec §6.5.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the gateway's static and reconfigurable parameters.
type Config struct {
	Env      string
	RedisURL string
	LogLevel string

	mu sync.RWMutex

	learningRate          float64
	explorationRate       float64
	emaSmoothing          float64
	circuitThreshold      int
	coldStartThreshold    int
	circuitOpenSeconds    int
	circuitOpenExtSeconds int
	ratePerMinuteDefault  int
	ratePerDayDefault     int
	telemetryBuffer       int
	snapshotIntervalSec   int
	defaultBackend        string
}

// Load reads configuration from environment variables and an optional
// .env file, following the teacher's getEnv/getEnvInt/getEnvBool pattern.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env:                   getEnv("ENV", "development"),
		RedisURL:              getEnv("REDIS_URL", "redis://redis:6379"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		learningRate:          getEnvFloat("LEARNING_RATE", 0.1),
		explorationRate:       getEnvFloat("EXPLORATION_RATE", 0.1),
		emaSmoothing:          getEnvFloat("EMA_SMOOTHING", 0.1),
		circuitThreshold:      getEnvInt("CIRCUIT_THRESHOLD", 8),
		coldStartThreshold:    getEnvInt("COLD_START_THRESHOLD", 3),
		circuitOpenSeconds:    getEnvInt("CIRCUIT_OPEN_SECONDS", 30),
		circuitOpenExtSeconds: getEnvInt("CIRCUIT_OPEN_EXTENDED_SECONDS", 60),
		ratePerMinuteDefault:  getEnvInt("RATE_PER_MINUTE_DEFAULT", 60),
		ratePerDayDefault:     getEnvInt("RATE_PER_DAY_DEFAULT", 10000),
		telemetryBuffer:       getEnvInt("TELEMETRY_BUFFER", 1024),
		snapshotIntervalSec:   getEnvInt("SNAPSHOT_INTERVAL_SECONDS", 300),
		defaultBackend:        getEnv("DEFAULT_BACKEND", ""),
	}
}

func (c *Config) IsDevelopment() bool { return c.Env == "development" }
func (c *Config) IsProduction() bool  { return c.Env == "production" }

func (c *Config) LearningRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.learningRate
}

func (c *Config) ExplorationRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.explorationRate
}

func (c *Config) EMASmoothing() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.emaSmoothing
}

func (c *Config) CircuitThreshold() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.circuitThreshold
}

func (c *Config) ColdStartThreshold() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.coldStartThreshold
}

func (c *Config) CircuitOpenDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.circuitOpenSeconds) * time.Second
}

func (c *Config) CircuitOpenExtendedDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.circuitOpenExtSeconds) * time.Second
}

func (c *Config) RatePerMinuteDefault() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ratePerMinuteDefault
}

func (c *Config) RatePerDayDefault() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ratePerDayDefault
}

func (c *Config) TelemetryBuffer() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.telemetryBuffer
}

func (c *Config) SnapshotInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.snapshotIntervalSec) * time.Second
}

func (c *Config) DefaultBackend() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultBackend
}

// Reconfigure mutates a single recognized key at runtime (spec §6.5 /
// §6.1 Reconfigure). Unknown keys return an error; malformed values for a
// known key return an error without mutating state.
func (c *Config) Reconfigure(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch key {
	case "learning_rate":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("reconfigure %s: %w", key, err)
		}
		c.learningRate = v
	case "exploration_rate":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("reconfigure %s: %w", key, err)
		}
		c.explorationRate = v
	case "ema_smoothing":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("reconfigure %s: %w", key, err)
		}
		c.emaSmoothing = v
	case "circuit_threshold":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("reconfigure %s: %w", key, err)
		}
		c.circuitThreshold = v
	case "cold_start_threshold":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("reconfigure %s: %w", key, err)
		}
		c.coldStartThreshold = v
	case "circuit_open_seconds":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("reconfigure %s: %w", key, err)
		}
		c.circuitOpenSeconds = v
	case "circuit_open_extended_seconds":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("reconfigure %s: %w", key, err)
		}
		c.circuitOpenExtSeconds = v
	case "rate_per_minute_default":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("reconfigure %s: %w", key, err)
		}
		c.ratePerMinuteDefault = v
	case "rate_per_day_default":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("reconfigure %s: %w", key, err)
		}
		c.ratePerDayDefault = v
	case "telemetry_buffer":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("reconfigure %s: %w", key, err)
		}
		c.telemetryBuffer = v
	case "snapshot_interval_seconds":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("reconfigure %s: %w", key, err)
		}
		c.snapshotIntervalSec = v
	case "default_backend":
		c.defaultBackend = value
	default:
		return fmt.Errorf("reconfigure: unrecognized key %q", key)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
