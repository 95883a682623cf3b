package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fxreval/internal/app"
	jobmetrics "github.com/odyssey-erp/fxreval/internal/jobs"
	"github.com/odyssey-erp/fxreval/internal/platform/cache"
	"github.com/odyssey-erp/fxreval/internal/platform/db"
	"github.com/odyssey-erp/fxreval/jobs"
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

	logger := app.NewLogger(cfg, os.Stdout)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	svc := app.NewServices(cfg, logger, pool, redisClient, nil)
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("event producer close", slog.Any("error", err))
		}
	}()

	if purged, err := svc.Idempotency.Purge(ctx, cfg.IdempotencyRetention); err != nil {
		logger.Warn("purge idempotency keys", slog.Any("error", err))
	} else if purged > 0 {
		logger.Info("idempotency keys purged", slog.Int64("count", purged))
	}

	revaluationJob := jobs.NewFXRevaluationJob(svc.Orchestrator, svc.Idempotency, logger, jobmetrics.NewMetrics(nil))

	cron, err := jobs.CronForCompanies(cfg.Schedule, cfg.Companies, true)
	if err != nil {
		logger.Error("build revaluation schedule", slog.Any("error", err))
		os.Exit(1)
	}
	if len(cron) == 0 {
		logger.Warn("FX_COMPANIES is empty, only on-demand revaluations will run")
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskFXRevaluation, Handler: revaluationJob.Handle},
		},
		Cron: cron,
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
