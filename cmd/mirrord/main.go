// Command mirrord runs the trade-mirroring engine: it watches one or more
// source wallets' fills and order events and replicates them onto a
// destination venue account, applying per-account sizing, leverage, and
// allowlist policy.
//
// Architecture:
//
//	main.go                  — entry point: loads config, starts the supervisor, waits for SIGINT/SIGTERM
//	internal/supervisor      — per-account worker lifecycle, reconciled on every config hot-reload
//	internal/mirror          — classifier, handlers, reverse-flip, TWAP aggregation, worker dispatch loop
//	internal/sizing          — Position Calculator: source notional -> destination quantity
//	internal/venue           — destination venue REST client (place/cancel/query) + optional order stream
//	internal/registry        — per-account symbol registry + allowlist filter
//	internal/retry           — typed retry policy for venue calls
//	internal/notify          — fill/error notification sink (webhook or no-op)
//	internal/store           — local event log (in-memory or file-backed)
//	internal/config          — config loading, validation, and hot-reload watch
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mirror-engine/internal/config"
	"mirror-engine/internal/mirror"
	"mirror-engine/internal/store"
	"mirror-engine/internal/supervisor"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("MIRROR_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	dataDir := cfg.Store.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	eventStore, err := store.Open(dataDir)
	if err != nil {
		logger.Error("failed to open event store", "dir", dataDir, "error", err)
		os.Exit(1)
	}

	events := make(chan mirror.EngineEvent, 256)
	go logEngineEvents(events, logger)

	sup := supervisor.New(cfg.Venue.BaseURL, cfg.DryRun, eventStore, events, logger)
	sup.Reconcile(cfg.Accounts)

	stopWatch := make(chan struct{})
	go config.Watch(cfgPath, 5*time.Second, logger, func(reloaded *config.Config) {
		sup.Reconcile(reloaded.Accounts)
	}, stopWatch)

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("mirror engine started", "accounts", len(cfg.Accounts), "dry_run", cfg.DryRun)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	close(stopWatch)
	sup.Stop()
	logger.Info("shutdown complete")
}

// logEngineEvents drains the supervisor's shared event channel for
// observability. Workers put one event on it per finished fill, success or
// failure, and drop the event when the channel is full; order outcomes are
// not sent here. Notifications go to each account's notify.Sink separately.
func logEngineEvents(events <-chan mirror.EngineEvent, logger *slog.Logger) {
	for evt := range events {
		if evt.Err != nil {
			logger.Error("mirror event failed",
				"account", evt.Account, "classification", evt.Classification,
				"symbol", evt.Symbol, "reason", evt.Reason, "error", evt.Err)
			continue
		}
		logger.Info("mirror event",
			"account", evt.Account, "classification", evt.Classification,
			"symbol", evt.Symbol, "side", evt.Side, "size", evt.Size, "price", evt.Price)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
