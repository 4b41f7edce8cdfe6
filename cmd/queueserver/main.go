// Package main wires together the crawl queue control plane binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/crawlops/crawlqueue/internal/api"
	"github.com/crawlops/crawlqueue/internal/clock/system"
	"github.com/crawlops/crawlqueue/internal/config"
	"github.com/crawlops/crawlqueue/internal/crawlqueue"
	"github.com/crawlops/crawlqueue/internal/id/uuid"
	"github.com/crawlops/crawlqueue/internal/ingest"
	"github.com/crawlops/crawlqueue/internal/lifecycle"
	"github.com/crawlops/crawlqueue/internal/logging"
	"github.com/crawlops/crawlqueue/internal/metrics"
	"github.com/crawlops/crawlqueue/internal/service"
	"github.com/crawlops/crawlqueue/internal/store/memory"
	"github.com/crawlops/crawlqueue/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		jobStore   crawlqueue.JobStore
		queueStore crawlqueue.QueueStore
	)
	switch cfg.DB.Provider {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Fatal("connect postgres failed", zap.Error(err))
		}
		defer pool.Close()
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal("ensure schema failed", zap.Error(err))
		}
		jobStore = postgres.NewJobStore(pool)
		queueStore = postgres.NewQueueStore(pool)
		logger.Info("using postgres store")
	default:
		jobStore = memory.NewJobStore()
		queueStore = memory.NewQueueStore()
		logger.Info("using in-memory store")
	}

	var discoveries crawlqueue.DiscoveryQueue
	switch cfg.Ingest.Provider {
	case "pubsub":
		psQueue, err := ingest.NewPubSubQueue(
			ctx,
			cfg.Ingest.ProjectID,
			cfg.Ingest.SubscriptionID,
			cfg.Ingest.QueueDepth,
			logger.Named("pubsub"),
		)
		if err != nil {
			logger.Fatal("pubsub queue init failed", zap.Error(err))
		}
		psQueue.Start(ctx)
		defer func() {
			if closeErr := psQueue.Close(); closeErr != nil {
				logger.Warn("pubsub queue close failed", zap.Error(closeErr))
			}
		}()
		discoveries = psQueue
		logger.Info("using pubsub ingest",
			zap.String("project", cfg.Ingest.ProjectID),
			zap.String("subscription", cfg.Ingest.SubscriptionID),
		)
	default:
		memQueue := ingest.NewMemoryQueue(cfg.Ingest.QueueDepth)
		defer memQueue.Close()
		discoveries = memQueue
		logger.Info("using in-memory ingest", zap.Int("depth", cfg.Ingest.QueueDepth))
	}

	clock := system.New()
	idGen := uuid.New()

	crawls := service.NewCrawlService(jobStore, queueStore, idGen, clock, service.Defaults{
		Scale:      cfg.Crawls.DefaultScale,
		MaxScale:   cfg.Crawls.MaxScale,
		Channel:    cfg.Crawls.DefaultChannel,
		Storage:    cfg.Crawls.DefaultStorage,
		TTLSeconds: cfg.Crawls.DefaultTTLSec,
	}, logger.Named("crawls"))
	query := service.NewQueryService(jobStore, queueStore, cfg.Queue.MatchLimit, logger.Named("query"))

	consumer := ingest.NewConsumer(discoveries, jobStore, queueStore, logger.Named("consumer"))
	controller := lifecycle.New(jobStore, queueStore, clock, cfg.ReconcileInterval(), logger.Named("lifecycle"))

	apiServer := api.NewServer(crawls, query, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("discovery consumer started")
		consumer.Run(ctx)
	}()

	go func() {
		logger.Info("lifecycle controller started")
		controller.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
