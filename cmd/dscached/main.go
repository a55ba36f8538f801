// dscached serves the session data cache over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dscache/dscache/internal/backend"
	"github.com/dscache/dscache/internal/config"
	"github.com/dscache/dscache/internal/logger"
	"github.com/dscache/dscache/internal/metrics"
	"github.com/dscache/dscache/internal/store"
	"github.com/dscache/dscache/pkg/api"
	"github.com/dscache/dscache/pkg/health"
)

var (
	configFile string
	listenAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dscached",
		Short: "Session-scoped two-tier data cache daemon",
		Long: `dscached keeps session working sets in a fast in-memory tier backed by
a durable disk tier, with sliding expiry on both and whole-session
eviction under memory pressure.`,
		RunE: run,
	}

	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "configuration file (YAML)")
	rootCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "listen address, overrides the configuration")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	cfg := config.NewDefault()
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return err
		}
	}
	cfg.LoadFromEnv()
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()

	be, err := buildBackend(ctx, cfg)
	if err != nil {
		return err
	}
	guarded := backend.NewGuarded(be, cfg.Storage.Breaker, log)

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder(cfg.Metrics.Namespace)
	}

	cache, err := store.NewHybridCache(ctx, store.HybridConfig{
		Memory: store.MemoryConfig{
			BudgetBytes:        cfg.MemoryBudgetBytes(),
			PressureThreshold:  cfg.Cache.MemoryPressureThreshold,
			MaxSessions:        cfg.Cache.MaxSessionsInMemory,
			MaxItemsPerSession: cfg.Cache.MaxItemsPerSession,
			TTL:                cfg.Cache.MemoryTTL,
		},
		Disk: store.DiskConfig{
			BudgetBytes:       cfg.DiskBudgetBytes(),
			PressureThreshold: cfg.Cache.DiskPressureThreshold,
			TTL:               cfg.Cache.DiskTTL,
		},
		SweepInterval:    cfg.Cache.SweepInterval,
		LazyLoadEviction: cfg.Cache.LazyLoadEviction,
	}, guarded, recorder, log)
	if err != nil {
		return fmt.Errorf("failed to build cache: %w", err)
	}
	defer cache.Close()

	checker := health.NewChecker(guarded, 15*time.Second)

	server := api.NewServer(api.Config{
		Address:      cfg.Server.Listen,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, cache, checker, recorder, log)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func buildBackend(ctx context.Context, cfg *config.Configuration) (backend.ObjectBackend, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return backend.NewS3(ctx, cfg.Storage.S3)
	default:
		return backend.NewLocal(cfg.Storage.CacheDirectory)
	}
}
