// Command gateway is an illustrative entry point: it wires a Gateway with
// a couple of stub backends, persists its learning state to Redis on a
// timer, and shuts down gracefully on SIGINT/SIGTERM. The HTTP surface
// (authentication, request validation, JSON shaping) is out of scope for
// the core and is not reproduced here; a real deployment sits that layer
// in front of aigw.Gateway.Submit.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	aigw "github.com/AlfredDev/aigw"
	"github.com/AlfredDev/aigw/backend"
	"github.com/AlfredDev/aigw/config"
	"github.com/AlfredDev/aigw/logger"
	"github.com/AlfredDev/aigw/snapshot"
	"github.com/AlfredDev/aigw/telemetry"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("aigw starting")

	store, err := snapshot.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("redis init failed — snapshots will not persist")
		store = nil
	}

	gw := aigw.New(cfg, time.Now().UnixNano())
	registerStubBackends(gw)

	gw.Subscribe(func(ev telemetry.Event) {
		log.Debug().Str("kind", string(ev.Kind)).Str("backend", ev.BackendID).Msg("telemetry")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if store != nil {
		if blob, err := store.Load(ctx); err != nil {
			log.Warn().Err(err).Msg("snapshot load failed")
		} else if blob != nil {
			if result, err := gw.ImportSnapshot(blob); err != nil {
				log.Warn().Err(err).Msg("snapshot import failed")
			} else {
				log.Info().Int("skipped", len(result.Skipped)).Msg("snapshot imported")
			}
		}
	}

	stopSnapshots := startSnapshotLoop(ctx, gw, store, cfg.SnapshotInterval(), log)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done
	log.Info().Msg("shutdown signal received")

	cancel()
	<-stopSnapshots

	if store != nil {
		if err := store.Save(context.Background(), gw.ExportSnapshot(time.Now())); err != nil {
			log.Error().Err(err).Msg("final snapshot save failed")
		}
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("redis close failed")
		}
	}
	log.Info().Msg("aigw stopped gracefully")
}

// startSnapshotLoop periodically exports and persists learning state,
// returning a channel closed once the loop has exited after ctx is done.
func startSnapshotLoop(ctx context.Context, gw *aigw.Gateway, store *snapshot.RedisStore, interval time.Duration, log zerolog.Logger) <-chan struct{} {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if store == nil {
					continue
				}
				blob := gw.ExportSnapshot(now)
				if err := store.Save(ctx, blob); err != nil {
					log.Warn().Err(err).Msg("periodic snapshot save failed")
				}
			}
		}
	}()
	return stopped
}

// registerStubBackends wires a couple of illustrative dispatchers so the
// routing/learning loop has something to dispatch against. Real deployments
// replace these with backend.Dispatcher implementations for the providers
// they speak to (see backend.HTTPDispatcherSupport for the HTTP on-ramp).
func registerStubBackends(gw *aigw.Gateway) {
	gw.RegisterBackend("stub-fast", echoDispatcher{modelID: "stub-fast", latencyMs: 120},
		backend.Declarations{
			Capabilities:  backend.NewCapabilitySet(backend.CapText, backend.CapChat),
			Pricing:       backend.Pricing{CostPerInputUnit: 0.000002, CostPerOutputUnit: 0.000006, FreeQuotaTotal: 100000, WindowSeconds: 86400},
			ContextWindow: 32000,
		})
	gw.RegisterBackend("stub-accurate", echoDispatcher{modelID: "stub-accurate", latencyMs: 600},
		backend.Declarations{
			Capabilities:  backend.NewCapabilitySet(backend.CapText, backend.CapChat, backend.CapReasoning, backend.CapLongContext),
			Pricing:       backend.Pricing{CostPerInputUnit: 0.00003, CostPerOutputUnit: 0.00006},
			ContextWindow: 200000,
		})
}

// echoDispatcher is a deterministic in-memory stand-in for a real provider
// adapter, useful for exercising the routing/learning loop without network
// access.
type echoDispatcher struct {
	modelID   string
	latencyMs int
}

func (d echoDispatcher) Dispatch(ctx context.Context, req backend.Request) (backend.DispatchResult, error) {
	select {
	case <-time.After(time.Duration(d.latencyMs) * time.Millisecond):
	case <-ctx.Done():
		return backend.DispatchResult{}, &backend.DispatchError{Kind: backend.FailureTimeout, Message: ctx.Err().Error()}
	}
	return backend.DispatchResult{
		Content:         "stub response",
		Usage:           backend.Usage{InputUnits: req.EstimatedInputUnits, OutputUnits: req.MaxOutputUnits},
		ModelIdentifier: d.modelID,
	}, nil
}

func (d echoDispatcher) Capabilities() backend.CapabilitySet { return nil }
func (d echoDispatcher) Pricing() backend.Pricing            { return backend.Pricing{} }
