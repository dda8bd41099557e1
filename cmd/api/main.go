// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adiadia/promptflow/internal/config"
	"github.com/adiadia/promptflow/internal/entitlement"
	"github.com/adiadia/promptflow/internal/logging"
	"github.com/adiadia/promptflow/internal/persistence/postgres"
	"github.com/adiadia/promptflow/internal/prefill"
	"github.com/adiadia/promptflow/internal/repository"
	"github.com/adiadia/promptflow/internal/runtime"
	httptransport "github.com/adiadia/promptflow/internal/transport/http"
	"github.com/adiadia/promptflow/internal/transport/middleware"
	"github.com/adiadia/promptflow/internal/usage"
	"github.com/adiadia/promptflow/internal/worker"
	"github.com/adiadia/promptflow/internal/workflow"
	"github.com/redis/go-redis/v9"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{MaxConns: cfg.DBMaxConns})
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			log.Fatalf("schema migration failed: %v", err)
		}
	} else if err := postgres.SchemaReady(ctx, pool); err != nil {
		log.Fatalf("schema not ready: %v", err)
	}

	catalog, err := loadCatalog(os.DirFS(cfg.WorkflowsDir), logger.With("dir", cfg.WorkflowsDir))
	if err != nil {
		log.Fatalf("load workflows from %s: %v", cfg.WorkflowsDir, err)
	}

	sessionRepo := repository.NewSessionRepository(pool, logger)
	subscriptionRepo := repository.NewSubscriptionRepository(pool, logger)
	usageRepo := repository.NewUsageRepository(pool, logger)
	presetRepo := repository.NewPresetRepository(pool, logger)
	aliasRepo := repository.NewAliasRepository(pool, logger)

	aliases := prefill.NewRegistry(prefill.DefaultAliasTable(), aliasRepo, logging.Component(logger, "prefill"))
	if n, err := aliases.Load(ctx); err != nil {
		log.Fatalf("load field aliases: %v", err)
	} else {
		logger.Info("field aliases loaded", "stored", n)
	}

	daily, closeDaily := dailyAggregate(ctx, cfg.RedisURL, logger)
	defer closeDaily()

	counter := usage.NewCounter(usageRepo, logging.Component(logger, "usage"), usage.WithDailyAggregate(daily))
	gate := entitlement.NewGate(
		subscriptionRepo,
		counter,
		entitlement.Limits{HardLimit: cfg.FreeRunLimit, SoftThreshold: cfg.AnonSoftThreshold},
		logging.Component(logger, "entitlement"),
	)

	svc := runtime.NewService(runtime.Config{
		Catalog: catalog,
		Gate:    gate,
		Counter: counter,
		Presets: presetRepo,
		Aliases: aliases.Table(),
		Logger:  logging.Component(logger, "runtime"),
	})

	sweeper := worker.New(worker.Deps{
		Target:   svc,
		Logger:   logging.Component(logger, "sweeper"),
		Interval: cfg.SweepInterval,
		MaxIdle:  cfg.RunIdleTimeout,
	})
	go sweeper.Run(ctx)

	handler := httptransport.NewRouter(httptransport.Deps{
		Runtime:         svc,
		Catalog:         catalog,
		Aliases:         aliases,
		SessionResolver: sessionRepo,
		RateLimits:      middleware.DefaultRateLimits(),
		HealthChecker:   postgres.NewSchemaHealthChecker(pool),
		Cookies: httptransport.CookieConfig{
			Session: cfg.SessionCookie,
			Counter: cfg.AnonCounterCookie,
			Secure:  cfg.Env == "prod",
		},
		Logger:     logger,
		AdminToken: cfg.AdminToken,
		Version:    Version,
		Commit:     Commit,
		BuildDate:  BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped", "active_runs_dropped", svc.ActiveRuns())
}

// loadCatalog fails only when the directory cannot be read. Invalid files are
// logged and left out; the remaining workflows are served.
func loadCatalog(fsys fs.FS, logger *slog.Logger) (*workflow.Catalog, error) {
	catalog, err := workflow.LoadFS(fsys)
	if catalog == nil {
		return nil, err
	}
	if err != nil {
		logger.Error("invalid workflow definitions skipped", "error", err)
	}
	logger.Info("workflows loaded", "count", len(catalog.List()))
	return catalog, nil
}

// dailyAggregate connects to Redis when configured and falls back to an
// in-process aggregate otherwise.
func dailyAggregate(ctx context.Context, redisURL string, logger *slog.Logger) (usage.DailyAggregate, func()) {
	if redisURL == "" {
		return usage.NewMemoryDailyAggregate(), func() {}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, using in-memory daily aggregate", "error", err)
		return usage.NewMemoryDailyAggregate(), func() {}
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, using in-memory daily aggregate", "error", err)
		_ = client.Close()
		return usage.NewMemoryDailyAggregate(), func() {}
	}

	logger.Info("redis connected", "addr", opts.Addr)
	return usage.NewRedisDailyAggregate(client), func() { _ = client.Close() }
}
