package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/purchasing/internal/app"
	"github.com/odyssey-erp/purchasing/internal/catalog"
	"github.com/odyssey-erp/purchasing/internal/gateway"
	jobmetrics "github.com/odyssey-erp/purchasing/internal/jobs"
	"github.com/odyssey-erp/purchasing/internal/platform/cache"
	"github.com/odyssey-erp/purchasing/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	redisClient, err := cache.New(ctx, cfg.RedisAddr, 0)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	backend := gateway.NewClient(cfg.BackendURL, cfg.BackendToken, cfg.BackendTimeout, logger)
	catalogStore := catalog.NewStore(backend, catalog.NewCache(redisClient, cfg.CatalogTTL), logger)
	refreshJob := jobs.NewCatalogRefreshJob(catalogStore, logger, jobmetrics.NewMetrics(nil))

	refreshTask, err := jobs.NewCatalogRefreshTask("scheduled")
	if err != nil {
		logger.Error("build catalog refresh task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCatalogRefresh, Handler: refreshJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.CatalogRefreshCron, Task: refreshTask, Options: []asynq.Option{asynq.MaxRetry(3), asynq.Queue(jobs.QueueDefault)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
