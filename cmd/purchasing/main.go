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

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/purchasing/cmd/purchasing/cli"
	"github.com/odyssey-erp/purchasing/internal/app"
	"github.com/odyssey-erp/purchasing/internal/catalog"
	"github.com/odyssey-erp/purchasing/internal/console"
	"github.com/odyssey-erp/purchasing/internal/gateway"
	"github.com/odyssey-erp/purchasing/internal/observability"
	"github.com/odyssey-erp/purchasing/internal/platform/cache"
	"github.com/odyssey-erp/purchasing/internal/purchasing"
	"github.com/odyssey-erp/purchasing/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 {
		if err := runCommand(ctx, cfg, os.Args[1:]); err != nil {
			logger.Error("command failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

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
	if err := backend.Ping(ctx); err != nil {
		logger.Warn("backend ping", slog.String("url", cfg.BackendURL), slog.Any("error", err))
	}

	catalogStore := catalog.NewStore(backend, catalog.NewCache(redisClient, cfg.CatalogTTL), logger)
	if err := catalogStore.Watch(ctx); err != nil {
		logger.Warn("watch catalog invalidations", slog.Any("error", err))
	}
	if _, err := catalogStore.Load(ctx); err != nil {
		logger.Warn("initial catalog load", slog.Any("error", err))
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	manager := purchasing.NewManager(backend, purchasing.NewOrderStore(), catalogStore, jobClient, metrics, logger)
	consoleHandler := console.NewHandler(logger, manager, catalogStore, console.NewDraftStore(redisClient, cfg.DraftTTL), cfg.DismissGrace)
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		ConsoleHandler: consoleHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("backend", cfg.BackendURL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// runCommand handles the operator subcommands:
//
//	purchasing jobs trigger catalog:refresh
//	purchasing jobs stats
func runCommand(ctx context.Context, cfg *app.Config, args []string) error {
	if args[0] != "jobs" || len(args) < 2 {
		return fmt.Errorf("unknown command %q", args)
	}
	ops, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		_ = ops.Close()
	}()
	switch args[1] {
	case "trigger":
		if len(args) < 3 {
			return errors.New("jobs trigger: task name required")
		}
		info, err := ops.Trigger(ctx, args[2])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := ops.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		return fmt.Errorf("jobs: unknown subcommand %q", args[1])
	}
	return nil
}
