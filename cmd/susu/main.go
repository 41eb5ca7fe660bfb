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
	"github.com/bensco/susu/internal/clients"
	"github.com/bensco/susu/internal/contributions"
	"github.com/bensco/susu/internal/observability"
	"github.com/bensco/susu/internal/payouts"
	"github.com/bensco/susu/internal/platform/cache"
	"github.com/bensco/susu/internal/platform/db"
	"github.com/bensco/susu/internal/rbac"
	"github.com/bensco/susu/internal/savings"
	"github.com/bensco/susu/internal/shared"
	"github.com/bensco/susu/internal/users"
	"github.com/bensco/susu/jobs"
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

	policy, err := app.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		logger.Error("load policy", slog.Any("error", err))
		os.Exit(1)
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	clientRepo := clients.NewRepository(dbpool)
	userService := users.NewService(users.NewRepository(dbpool))
	rbacMiddleware := rbac.Middleware{Resolver: userService, Logger: logger}

	manager := savings.NewManager(savings.NewRepository(dbpool), savings.Config{
		DefaultLength:    policy.Cycle.DefaultLength,
		MaxAttempts:      policy.Cycle.MaxAttempts,
		SweepConcurrency: policy.Sweep.Concurrency,
	}, logger)
	manager.WithObserver(metrics)
	ledger := contributions.NewLedger(contributions.NewRepository(dbpool), clientRepo, manager, logger)
	workflow := payouts.NewWorkflow(payouts.NewRepository(dbpool), manager, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		RBACMiddleware:      rbacMiddleware,
		SavingsHandler:      savings.NewHandler(logger, manager, clientRepo, jobClient),
		ContributionHandler: contributions.NewHandler(logger, ledger).WithIdempotency(shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL)),
		PayoutHandler:       payouts.NewHandler(logger, workflow),
		JobHandler:          jobs.NewHandler(inspector, logger),
		Metrics:             metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
