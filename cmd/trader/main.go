package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"signal_trader/internal/bybit"
	"signal_trader/internal/config"
	"signal_trader/internal/core"
	"signal_trader/internal/engine"
	"signal_trader/internal/instruments"
	"signal_trader/internal/intake"
	"signal_trader/internal/logging"
	"signal_trader/internal/state"
	"signal_trader/internal/supervisor"
	"signal_trader/internal/telemetry"
	apperrors "signal_trader/pkg/errors"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Starting signal trader",
		"testnet", cfg.Testnet,
		"category", cfg.Category,
		"dry_run", cfg.DryRun,
		"state_file", cfg.StateFile)

	store := state.NewFileStore(cfg.StateFile)
	st, err := store.Load(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	var exch core.IExchange = bybit.NewClient(cfg, logger)
	rules := instruments.NewCache(exch)

	// An authentication failure must be fatal before anything trades.
	if !cfg.DryRun {
		startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := exch.WalletEquity(startupCtx); err != nil {
			if errors.Is(err, apperrors.ErrAuthenticationFailed) {
				return fmt.Errorf("credential validation failed: %w", err)
			}
			logger.Warn("Startup equity check failed, continuing", "error", err)
		}
	}

	eng := engine.New(exch, rules, cfg, st, logger)
	source := intake.NewFileSource(cfg.SignalsFile)
	adapter := intake.NewAdapter(source, cfg, st, logger)
	sup := supervisor.New(eng, adapter, store, st, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *telemetry.Server
	if cfg.MetricsPort > 0 {
		metrics = telemetry.NewServer(cfg.MetricsPort, logger)
		metrics.Start()
	}

	var stream *bybit.Stream
	if !cfg.DryRun {
		stream = bybit.NewStream(cfg, sup.Enqueue, logger)
		stream.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sup.Run(gctx)
	})

	err = g.Wait()

	if stream != nil {
		stream.Stop()
	}
	if metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metrics.Stop(shutdownCtx)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Supervisor exited with error", "error", err)
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}
