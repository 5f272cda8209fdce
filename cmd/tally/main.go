// Package main is the entry point for the tally service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/tallystack/tally/internal/access"
	"github.com/tallystack/tally/internal/config"
	"github.com/tallystack/tally/internal/delta"
	"github.com/tallystack/tally/internal/ingest"
	"github.com/tallystack/tally/internal/merger"
	"github.com/tallystack/tally/internal/metrics"
	"github.com/tallystack/tally/internal/resolver"
	"github.com/tallystack/tally/internal/snapshot"
	"github.com/tallystack/tally/internal/storage"
	"github.com/tallystack/tally/internal/store"
)

func main() {
	// Determine config path
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "/config/config.yaml"
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := newLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting tally",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("log_level", cfg.App.LogLevel),
	)

	// Open store
	st, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	if err := st.Ping(); err != nil {
		logger.Fatal("store ping failed", zap.Error(err))
	}

	// Initialize Prometheus metrics
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	// Start metrics/health server
	metricsServer := metrics.NewServer(
		cfg.Metrics.Port,
		cfg.Metrics.Path,
		cfg.Health.LivenessPath,
		cfg.Health.ReadinessPath,
		registry,
	)
	metricsServer.UpdateHealthCheck("store", "ok")

	// Create context with cancellation for shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create components
	clk := clock.New()
	mg := merger.NewMerger(st, cfg, m, logger)
	snapEngine := snapshot.NewEngine(st, cfg, m, clk, logger)
	deltaEngine := delta.NewEngine(st, cfg, m, clk, logger)
	checker := access.NewChecker(cfg.Access)
	sm := storage.NewMonitor(st, cfg, m, logger)

	var res resolver.Resolver
	if len(cfg.Names.Users) > 0 || len(cfg.Names.Scopes) > 0 {
		res = &resolver.Static{Users: cfg.Names.Users, Scopes: cfg.Names.Scopes}
	}
	intake := ingest.NewServer(st, mg, deltaEngine, checker, res, cfg, m, clk, logger)

	// Use errgroup for goroutine lifecycle
	g, gCtx := errgroup.WithContext(ctx)

	// Start metrics server
	g.Go(func() error {
		logger.Info("starting metrics server", zap.Int("port", cfg.Metrics.Port))
		return metricsServer.Start()
	})

	// Start intake server
	if cfg.Ingest.IsEnabled() {
		g.Go(func() error {
			logger.Info("starting intake server", zap.Int("port", cfg.Ingest.Port))
			metricsServer.UpdateHealthCheck("intake", "ok")
			return intake.Start()
		})
	}

	// Start snapshot engine
	if cfg.Snapshot.IsEnabled() {
		g.Go(func() error {
			snapEngine.Start(gCtx)
			return nil
		})
	}

	// Start storage monitor
	g.Go(func() error {
		sm.Start(gCtx)
		return nil
	})

	// Mark as ready
	metricsServer.SetReady(true)
	logger.Info("tally is ready")

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-gCtx.Done():
		logger.Info("context cancelled")
	}

	// Graceful shutdown sequence
	logger.Info("starting graceful shutdown")
	metricsServer.SetReady(false)

	// Cancel context to stop the periodic loops
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP servers
	if err := intake.Shutdown(shutdownCtx); err != nil {
		logger.Error("intake server shutdown error", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}

	// Wait for all goroutines
	if err := g.Wait(); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}

	logger.Info("tally shutdown complete")
}

func newLogger(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}
