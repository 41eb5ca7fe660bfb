package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bensco/susu/internal/app"
	jobmetrics "github.com/bensco/susu/internal/jobs"
	"github.com/bensco/susu/internal/observability"
	"github.com/bensco/susu/internal/platform/cache"
	"github.com/bensco/susu/internal/platform/db"
	"github.com/bensco/susu/internal/savings"
	"github.com/bensco/susu/internal/shared"
	"github.com/bensco/susu/jobs"
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

	logger := app.NewLogger(cfg)

	policy, err := app.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		logger.Error("load policy", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	manager := savings.NewManager(savings.NewRepository(pool), savings.Config{
		DefaultLength:    policy.Cycle.DefaultLength,
		MaxAttempts:      policy.Cycle.MaxAttempts,
		SweepConcurrency: policy.Sweep.Concurrency,
	}, logger)

	metrics := observability.NewMetrics()
	sweepJob := wireSweep(manager, shared.NewLocker(redisClient), cfg.SweepLockTTL, logger, metrics)
	sweepTask, err := jobs.NewCycleSweepTask(jobs.CycleSweepPayload{})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCycleSweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsSrv := metricsServer(cfg.WorkerMetricsAddr, metrics)
	go func() {
		logger.Info("starting metrics listener", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics listener shutdown", slog.Any("error", err))
		}
	}()

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

// wireSweep builds the sweep handler so that closures and job runs land on
// the registry served by the worker's metrics listener.
func wireSweep(manager *savings.Manager, locker jobs.SweepLocker, lockTTL time.Duration, logger *slog.Logger, metrics *observability.Metrics) *jobs.CycleSweepJob {
	manager.WithObserver(metrics)
	return jobs.NewCycleSweepJob(manager, locker, lockTTL, logger, jobmetrics.NewMetrics(metrics.Registerer()))
}

func metricsServer(addr string, metrics *observability.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
