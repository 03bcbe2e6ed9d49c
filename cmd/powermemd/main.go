// Command powermemd is the composition root for the memory engine: it
// wires config, storage, the LLM/embedding providers, the lock and event
// bus backends, and the engine facade, then runs the async profile
// consolidation consumer and the periodic Ebbinghaus maintenance sweep
// until signaled to stop. HTTP/MCP transport is an external collaborator
// and is intentionally not built here.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/powermem/powermem/internal/config"
	"github.com/powermem/powermem/internal/embedding"
	"github.com/powermem/powermem/internal/engine"
	"github.com/powermem/powermem/internal/eventbus"
	"github.com/powermem/powermem/internal/llm/providers"
	"github.com/powermem/powermem/internal/lock"
	"github.com/powermem/powermem/internal/observability"
	"github.com/powermem/powermem/internal/store"
	"github.com/powermem/powermem/internal/telemetry"
)

func main() {
	// Load environment from .env (or fall back to example.env) before the
	// logger is initialized, so POWERMEM_LOG_PATH/POWERMEM_LOG_LEVEL env
	// overrides apply.
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	telemetry.InitLogger(cfg.Logging.LogPath, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// OTel export is optional: a missing/unreachable collector endpoint must
	// not block startup, it only means trace/metric export is lost.
	if shutdown, err := telemetry.InitOTel(ctx, cfg.Telemetry); err != nil {
		log.Warn().Err(err).Msg("otel init skipped, continuing without tracing/metrics export")
	} else {
		telemetry.EnableOTelLogBridge(cfg.Telemetry.ServiceName)
		defer func() { _ = shutdown(context.Background()) }()
	}

	mgr, err := store.NewManager(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init store backends")
	}
	defer mgr.Close()

	httpClient := observability.NewHTTPClient(&http.Client{Timeout: cfg.Concurrency.CallTimeout})
	provider, err := providers.Build(cfg, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build llm provider")
	}
	embedder := embedding.New(cfg.Embedder)

	locker, err := buildLocker(cfg.Lock, cfg.Concurrency.LockStripes)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build lock backend")
	}

	bus := buildEventBus(cfg.EventBus)

	eng := engine.New(mgr, provider, embedder, cfg,
		engine.WithLocker(locker),
		engine.WithEventBus(bus),
	)
	defer eng.Close()

	if consumer, ok := bus.(eventbus.Bus); ok {
		go func() {
			if err := consumer.Run(ctx, eng.ProfileEventHandler()); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("event bus consumer stopped unexpectedly")
			}
			_ = consumer.Close()
		}()
	}

	go runMaintenanceLoop(ctx, eng, cfg.Intelligence.MaintenanceInterval)

	log.Info().Msg("powermemd started")
	<-ctx.Done()
	log.Info().Msg("powermemd shutting down")
}

// buildLocker selects the per-id mutation lock backend. Redis requires a
// connection DSN; a misconfigured "redis" backend fails fast at startup
// rather than silently degrading to an in-process lock a multi-process
// deployment would need.
func buildLocker(cfg config.LockConfig, stripes int) (lock.Locker, error) {
	switch cfg.Backend {
	case "", "memory":
		return lock.NewStriped(stripes), nil
	case "redis":
		return lock.NewRedis(cfg.Connection, 30*time.Second)
	default:
		return nil, fmt.Errorf("unsupported lock backend %q", cfg.Backend)
	}
}

// buildEventBus selects the async event bus. An unrecognized backend falls
// back to the in-process bus rather than aborting startup, since the bus
// only drives best-effort async consolidation (spec §9: profile
// consolidation failures never surface to the caller).
func buildEventBus(cfg config.EventBusConfig) eventbus.Publisher {
	switch cfg.Backend {
	case "kafka":
		return eventbus.NewKafka(cfg.Brokers, cfg.Topic, cfg.GroupID, 0)
	default:
		return eventbus.NewMemory()
	}
}

// runMaintenanceLoop drives C7's retention sweep on a ticker until ctx is
// canceled. A zero or negative interval disables the sweep entirely.
func runMaintenanceLoop(ctx context.Context, eng *engine.Engine, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := eng.RunMaintenance(ctx); err != nil {
				log.Error().Err(err).Msg("maintenance sweep failed")
			}
		}
	}
}
