package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/Matteomic94/ElementMedica-sub007/internal/app"
	"github.com/Matteomic94/ElementMedica-sub007/internal/audit"
	jobmetrics "github.com/Matteomic94/ElementMedica-sub007/internal/jobs"
	"github.com/Matteomic94/ElementMedica-sub007/internal/observability"
	"github.com/Matteomic94/ElementMedica-sub007/internal/platform/cache"
	"github.com/Matteomic94/ElementMedica-sub007/internal/platform/db"
	"github.com/Matteomic94/ElementMedica-sub007/jobs"
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

	logger := app.NewLogger(cfg, "elementmedica-worker")

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{
		MaxConns:        cfg.PGMaxConns,
		MinConns:        cfg.PGMinConns,
		ApplicationName: "elementmedica-worker",
	})
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

	auditStore := audit.NewStore(pool)
	stack, err := app.NewStack(app.StackDeps{
		Config:    cfg,
		Logger:    logger,
		Pool:      pool,
		Redis:     redisClient,
		Metrics:   observability.NewMetrics(),
		AuditSink: auditStore,
	})
	if err != nil {
		logger.Error("init authorization stack", slog.Any("error", err))
		os.Exit(1)
	}
	defer stack.Audit.Wait()

	jobMetrics := jobmetrics.NewMetrics(nil)
	deliveryJob := jobs.NewAuditDeliveryJob(auditStore, logger, jobMetrics)
	purgeJob := jobs.NewSoftDeletePurgeJob(stack.Gate, cfg.SoftDeleteRetention, redisClient, logger, jobMetrics)

	purgeTask, err := jobs.NewSoftDeletePurgeTask(jobs.SoftDeletePurgePayload{})
	if err != nil {
		logger.Error("build purge task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuditDeliver, Handler: deliveryJob.Handle},
			{Type: jobs.TaskSoftDeletePurge, Handler: purgeJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 2 * * *", Task: purgeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
