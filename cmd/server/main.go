// Package main is the entrypoint for the people-counter API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rbalaji/peoplecounter/internal/api"
	"github.com/rbalaji/peoplecounter/internal/api/handler"
	mw "github.com/rbalaji/peoplecounter/internal/api/middleware"
	"github.com/rbalaji/peoplecounter/internal/cache"
	"github.com/rbalaji/peoplecounter/internal/config"
	"github.com/rbalaji/peoplecounter/internal/detect"
	"github.com/rbalaji/peoplecounter/internal/fetch"
	"github.com/rbalaji/peoplecounter/internal/jobs"
	"github.com/rbalaji/peoplecounter/internal/metrics"
	"github.com/rbalaji/peoplecounter/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast when invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"detector_provider", cfg.Detector.Provider,
		"pool_size", cfg.Worker.PoolSize,
		"env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create detector provider
	detector, err := detect.NewDetector(ctx, cfg.Detector)
	if err != nil {
		return fmt.Errorf("create detector: %w", err)
	}
	slog.Info("detector initialized",
		"provider", detector.Name(), "affinity", detector.Affinity())

	// 6. Create store, fetcher, pipeline, and orchestrator
	pgStore := store.NewPostgresStore(pool)
	fetcher := fetch.NewDownloader(ctx, cfg.Fetch)
	reg := metrics.NewRegistry()

	pipeline := jobs.NewPipeline(fetcher, cfg.Decode, detector, cfg.Detector, reg)
	orchestrator := jobs.NewOrchestrator(pgStore, redisCache, pipeline, reg, cfg.Worker)
	reg.SetOccupancyFunc(orchestrator.Occupancy)

	if err := orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:   handler.NewHealthHandler(pgStore, redisCache, detector),
		MetricsHandler:  handler.NewMetricsHandler(reg),
		AnalyzeHandler:  handler.NewAnalyzeHandler(orchestrator),
		GetJobHandler:   handler.NewGetJobHandler(pgStore, redisCache),
		ListJobsHandler: handler.NewListJobsHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining...")
	}

	// Stop accepting requests, then drain in-flight jobs.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Worker.DrainTimeout)
	defer cancelDrain()

	if err := orchestrator.Shutdown(drainCtx); err != nil {
		slog.Warn("orchestrator drain incomplete; interrupted jobs recover on restart", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
