// Package main is the entrypoint for the meshforge API server.
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

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/meshforge/internal/api"
	"github.com/kiranshivaraju/meshforge/internal/api/handler"
	mw "github.com/kiranshivaraju/meshforge/internal/api/middleware"
	"github.com/kiranshivaraju/meshforge/internal/cache"
	"github.com/kiranshivaraju/meshforge/internal/config"
	"github.com/kiranshivaraju/meshforge/internal/generation"
	"github.com/kiranshivaraju/meshforge/internal/genservice"
	"github.com/kiranshivaraju/meshforge/internal/metrics"
	"github.com/kiranshivaraju/meshforge/internal/session"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 30 * time.Second
	metricsNamespace = "meshforge"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// A missing .env file is fine; the environment wins over it either way.
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"generation_service", cfg.Generation.ServiceURL,
		"poll_interval", cfg.Generation.PollInterval,
		"rate_limit", cfg.RateLimitEnabled(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg)
}

// serve runs the HTTP server and the session sweeper until ctx is cancelled
// or one of them fails.
func serve(ctx context.Context, cfg *config.Config) error {
	// 2. Connect Redis when configured; it only backs rate limiting
	var rc cache.Cache
	var rateLimit *mw.RateLimit
	if cfg.RateLimitEnabled() {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")

		rc = redisCache
		rateLimit = mw.NewRateLimit(redisCache, cfg.Redis.RateLimitPerMinute)
	} else {
		slog.Warn("REDIS_URL not set, rate limiting disabled")
	}

	// 3. Generation Service client, metrics and sessions
	client := genservice.NewHTTPClient(cfg.Generation.ServiceURL, cfg.Generation.HTTPTimeout)
	collector := metrics.NewCollector(metricsNamespace)
	registry := newRegistry(cfg, client, collector)

	// 4. Build router with dependencies
	router := newRouter(registry, rc, rateLimit, collector)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays unset: it would cut long-lived event streams.
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return registry.Run(gctx, cfg.Session.IdleTTL/2)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newRegistry builds the session registry. Every session gets its own
// Controller sharing the client and the metrics collector.
func newRegistry(cfg *config.Config, client genservice.Client, collector *metrics.Collector) *session.Registry {
	logger := slog.Default().With("component", "generation")
	defaults := generation.GenerateDefaults{
		ArtStyle:       cfg.Generation.ArtStyle,
		NegativePrompt: cfg.Generation.NegativePrompt,
	}

	factory := func() *generation.Controller {
		return generation.New(client,
			generation.WithPollInterval(cfg.Generation.PollInterval),
			generation.WithLogger(logger),
			generation.WithRecorder(collector),
			generation.WithGenerateDefaults(defaults),
		)
	}

	return session.NewRegistry(factory,
		session.WithIdleTTL(cfg.Session.IdleTTL),
		session.WithMaxSessions(cfg.Session.MaxSessions),
		session.WithObserver(collector.SetActiveSessions),
	)
}

// newRouter wires handlers to the registry. rc and rateLimit are nil when
// Redis is not configured.
func newRouter(registry *session.Registry, rc cache.Cache, rateLimit *mw.RateLimit, collector *metrics.Collector) http.Handler {
	return api.NewRouter(api.Dependencies{
		Sessions:  mw.NewSessionLoader(registry),
		RateLimit: rateLimit,
		Metrics:   collector,

		HealthHandler:  handler.NewHealthHandler(rc),
		MetricsHandler: collector.Handler(),

		CreateSession: handler.NewCreateSessionHandler(registry),
		GetSession:    handler.NewGetSessionHandler(),
		DeleteSession: handler.NewDeleteSessionHandler(registry),
		Generate:      handler.NewGenerateHandler(),
		Refine:        handler.NewRefineHandler(),
		SessionEvents: handler.NewEventsHandler(registry, nil),
	})
}
