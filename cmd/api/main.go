package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Lew-Ashby/Token-Flow-API/internal/cache"
	"github.com/Lew-Ashby/Token-Flow-API/internal/classifier"
	"github.com/Lew-Ashby/Token-Flow-API/internal/config"
	"github.com/Lew-Ashby/Token-Flow-API/internal/entity"
	"github.com/Lew-Ashby/Token-Flow-API/internal/flowgraph"
	"github.com/Lew-Ashby/Token-Flow-API/internal/intent"
	"github.com/Lew-Ashby/Token-Flow-API/internal/risk"
	"github.com/Lew-Ashby/Token-Flow-API/internal/server"
	"github.com/Lew-Ashby/Token-Flow-API/internal/store/postgres"
	"github.com/Lew-Ashby/Token-Flow-API/internal/tenant"
	"github.com/Lew-Ashby/Token-Flow-API/internal/upstream"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	db, err := postgres.New(postgres.Config{
		URL:             cfg.DatabaseURL(),
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	kv := cache.Connect(cfg.KV.URL, logger)
	defer kv.Close()

	userRepo := postgres.NewUserRepo(db)
	subRepo := postgres.NewSubscriptionRepo(db)
	keyRepo := postgres.NewApiKeyRepo(db)
	usageRepo := postgres.NewUsageLogRepo(db)
	entityRepo := postgres.NewEntityRepo(db)
	flowPathRepo := postgres.NewFlowPathRepo(db)
	riskFlagRepo := postgres.NewRiskFlagRepo(db)
	webhookRepo := postgres.NewWebhookEventRepo(db)

	registry, err := entity.NewRegistry(entityRepo, logger)
	if err != nil {
		return fmt.Errorf("entity registry: %w", err)
	}

	seedCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = registry.SeedKnownPrograms(seedCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("seed entities: %w", err)
	}

	adapter := upstream.NewAdapter(upstream.Config{
		RPCURL:      cfg.Upstream.RPCURL,
		EnhancedURL: cfg.Upstream.EnhancedURL,
		APIKey:      cfg.Upstream.APIKey,
	}, kv, classifier.New(), logger)

	flows := flowgraph.NewEngine(adapter, registry, flowPathRepo, logger)
	risks := risk.NewEngine(adapter, registry, flows, riskFlagRepo, kv, logger)
	intents := intent.NewClient(cfg.Intent.ServiceURL, kv, logger)

	tenants := tenant.NewService(db, userRepo, subRepo, keyRepo, usageRepo, cfg.Tenant.APIKeySalt, logger)
	limiter := tenant.NewRateLimiter(kv, logger)
	webhooks := tenant.NewWebhookProcessor(tenants, webhookRepo, logger)

	srv := server.New(server.Deps{
		Config:   cfg,
		Tenants:  tenants,
		Limiter:  limiter,
		Webhooks: webhooks,
		Upstream: adapter,
		Flows:    flows,
		Risks:    risks,
		Intents:  intents,
		Entities: registry,
		Users:    userRepo,
		Keys:     keyRepo,
		Usage:    usageRepo,
		KV:       kv,
		Ingest:   postgres.NewIngestor(db),
		DBPing:   db.PingContext,
	}, logger)

	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	opsMux := http.NewServeMux()
	opsMux.Handle("/metrics", promhttp.Handler())
	opsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HealthPort),
		Handler:           opsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api server listening", "addr", apiServer.Addr, "env", cfg.Env)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("ops server listening", "addr", opsServer.Addr)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("api server shutdown", "error", err)
		}
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ops server shutdown", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
