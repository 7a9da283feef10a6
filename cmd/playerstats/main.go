// Package main is the entry point for the playerstats service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/bryonbaker/playerstats/internal/accumulator"
	"github.com/bryonbaker/playerstats/internal/api"
	"github.com/bryonbaker/playerstats/internal/config"
	"github.com/bryonbaker/playerstats/internal/database"
	"github.com/bryonbaker/playerstats/internal/flush"
	"github.com/bryonbaker/playerstats/internal/ingest"
	"github.com/bryonbaker/playerstats/internal/metrics"
	"github.com/bryonbaker/playerstats/internal/monitor"
	"github.com/bryonbaker/playerstats/internal/retry"
	"github.com/bryonbaker/playerstats/internal/scheduler"
	"github.com/bryonbaker/playerstats/internal/session"
	"github.com/bryonbaker/playerstats/internal/workerpool"
)

// drainTimeout bounds the HTTP shutdown, pool drain and session close steps.
const drainTimeout = 30 * time.Second

func main() {
	// Determine config path
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "/config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.App)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting playerstats",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("log_level", cfg.App.LogLevel),
		zap.String("log_file", cfg.App.LogFile),
		zap.String("driver", cfg.Storage.Driver),
	)

	store, err := database.NewSQLStore(cfg.Storage.Driver, cfg.Storage.DSN, database.Options{
		MaxOpenConns:      cfg.Storage.MaxOpenConns,
		PreserveFirstJoin: cfg.Sessions.PreserveFirstJoin,
	}, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer store.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), cfg.Storage.OpTimeout.Duration)
	err = store.Ping(pingCtx)
	pingCancel()
	if err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	metricsPath := cfg.Metrics.Path
	if !cfg.Metrics.Enabled {
		metricsPath = ""
	}
	server := metrics.NewServer(
		cfg.Metrics.Port,
		metricsPath,
		cfg.Health.LivenessPath,
		cfg.Health.ReadinessPath,
		registry,
	)
	server.Require(metrics.ComponentDatabase, metrics.ComponentScheduler, metrics.ComponentWorkerPool)
	server.UpdateHealthCheck(metrics.ComponentDatabase, metrics.StatusOK)

	// Core components
	acc := accumulator.New()
	sessions := session.NewTracker(nil)
	pool := workerpool.New(cfg.Flush.Workers, cfg.Flush.QueueSize, m, logger)
	worker := flush.NewWorker(acc, store, pool, retry.FromConfig(cfg.Retry), cfg, m, logger)
	sched := scheduler.NewScheduler(worker, cfg, m, logger)
	ingestor := ingest.NewIngestor(acc, sessions, worker, pool, m, logger)
	mon := monitor.NewMonitor(store, acc, sessions, pool, server, cfg, m, logger)

	server.Handle(cfg.Ingress.EventsPath, api.NewEventsHandler(ingestor, cfg.Ingress.MaxInFlight, m, logger))
	server.Handle(cfg.Ingress.FlushPath, api.NewFlushHandler(sched, cfg.AdminToken, logger))
	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_AUTH_TOKEN not set, manual flush is disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", zap.Int("port", cfg.Metrics.Port))
		return server.Start()
	})

	g.Go(func() error {
		server.UpdateHealthCheck(metrics.ComponentScheduler, metrics.StatusOK)
		sched.Start(gCtx)
		return nil
	})

	g.Go(func() error {
		mon.Start(gCtx)
		return nil
	})

	server.UpdateHealthCheck(metrics.ComponentWorkerPool, metrics.StatusOK)
	server.SetReady(true)
	logger.Info("playerstats is ready",
		zap.String("events_path", cfg.Ingress.EventsPath),
		zap.Duration("flush_interval", cfg.Flush.Interval.Duration),
	)

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
	server.SetReady(false)

	// Stop taking events before the final flush.
	httpCtx, httpCancel := context.WithTimeout(context.Background(), drainTimeout)
	if err := server.Shutdown(httpCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	httpCancel()

	cancel()
	if err := g.Wait(); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}

	// The scheduler bounds the final flush by flush.shutdownTimeout.
	if res, err := sched.Shutdown(context.Background()); err != nil {
		logger.Error("final flush incomplete",
			zap.Int("players", res.Players),
			zap.Int("failed", res.Failed),
			zap.Error(err),
		)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()

	if err := pool.Shutdown(drainCtx); err != nil {
		logger.Error("worker pool did not drain", zap.Error(err))
	}

	ingestor.CloseSessions(drainCtx)

	logger.Info("playerstats shutdown complete")
}

func newLogger(app config.AppConfig) (*zap.Logger, error) {
	var cfg zap.Config
	if app.LogFormat == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	lvl, err := zapcore.ParseLevel(app.LogLevel)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	if app.LogFile != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, app.LogFile)
	}

	return cfg.Build()
}
