package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/strata-ai/model-registry/internal/config"
	"github.com/strata-ai/model-registry/internal/core/catalog"
	"github.com/strata-ai/model-registry/internal/core/reconciler"
	"github.com/strata-ai/model-registry/internal/core/resolver"
	"github.com/strata-ai/model-registry/internal/core/usage"
	"github.com/strata-ai/model-registry/internal/platform/logger"
	"github.com/strata-ai/model-registry/internal/platform/otel"
	"github.com/strata-ai/model-registry/internal/scheduler"
	"github.com/strata-ai/model-registry/internal/server"
	"github.com/strata-ai/model-registry/internal/store/sqlite"
	"github.com/strata-ai/model-registry/internal/version"
	"go.uber.org/zap"
)

func main() {
	logger.Initialize(logger.DefaultConfig())
	defer logger.Sync()
	log := logger.Get()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	go version.CheckForUpdates(log)

	shutdownTracer, err := otel.InitTracer("model-registry", log, os.Stdout)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	repo, err := sqlite.NewSQLiteStorage(cfg.Store.DSN, log)
	if err != nil {
		log.Fatal("Failed to open store", zap.Error(err))
	}
	defer func() {
		_ = repo.Close()
	}()

	// The run lock must hold across replicas when more than one instance can
	// trigger reconciliation; Redis provides that. A single instance can get
	// by with the in-process gate.
	var lock reconciler.RunLock
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		lock = reconciler.NewRedisLock(client)
		log.Info("Using Redis reconciliation lock", zap.String("addr", cfg.Redis.Addr))
	} else {
		lock = reconciler.NewLocalLock()
	}

	catalogClient := catalog.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, cfg.Upstream.PageSize, cfg.Upstream.Timeout)
	rec := reconciler.New(func() reconciler.PageIterator { return catalogClient.Pages() }, repo, lock, log)

	engine := resolver.NewEngine(repo, log)
	aggregator := usage.NewAggregator(repo, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Reconcile.Enabled {
		scheduler.New(rec, cfg.Reconcile.Interval, log).Start(ctx)
	}

	srv := server.New(cfg, log, engine, aggregator, rec, repo)
	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: srv.Handler(),
	}

	go func() {
		<-ctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Server shutdown failed", zap.Error(err))
		}
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Error("Tracer shutdown failed", zap.Error(err))
		}
	}()

	log.Info("Starting model registry", zap.String("port", cfg.Server.Port), zap.String("env", cfg.Server.Env))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("Server failed", zap.Error(err))
	}
}
