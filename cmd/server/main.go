package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Matteomic94/ElementMedica-sub007/internal/app"
	"github.com/Matteomic94/ElementMedica-sub007/internal/audit"
	audithttp "github.com/Matteomic94/ElementMedica-sub007/internal/audit/http"
	"github.com/Matteomic94/ElementMedica-sub007/internal/auth"
	"github.com/Matteomic94/ElementMedica-sub007/internal/observability"
	"github.com/Matteomic94/ElementMedica-sub007/internal/platform/cache"
	"github.com/Matteomic94/ElementMedica-sub007/internal/platform/db"
	"github.com/Matteomic94/ElementMedica-sub007/internal/rbac"
	"github.com/Matteomic94/ElementMedica-sub007/internal/records"
	"github.com/Matteomic94/ElementMedica-sub007/jobs"
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

	logger := app.NewLogger(cfg, "elementmedica-api")

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{
		MaxConns:        cfg.PGMaxConns,
		MinConns:        cfg.PGMinConns,
		ApplicationName: "elementmedica-api",
	})
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
	queueClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	auditStore := audit.NewStore(dbpool)
	var auditSink audit.Sink
	switch cfg.AuditSink {
	case app.AuditSinkQueue:
		auditSink = jobs.NewAuditQueue(queueClient)
	case app.AuditSinkLog:
		auditSink = audit.LogSink{Logger: logger}
	default:
		auditSink = auditStore
	}

	metrics := observability.NewMetrics()
	stack, err := app.NewStack(app.StackDeps{
		Config:    cfg,
		Logger:    logger,
		Pool:      dbpool,
		Redis:     redisClient,
		Metrics:   metrics,
		AuditSink: auditSink,
	})
	if err != nil {
		logger.Error("init authorization stack", slog.Any("error", err))
		os.Exit(1)
	}
	defer stack.Audit.Wait()

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Gate:               stack.Gate,
		AuthHandler:        auth.NewHandler(logger, stack.Auth, stack.Resolver),
		RecordsHandler:     records.NewHandler(logger, stack.Gate),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, stack.Roles, stack.RoleCache, stack.Conditions, stack.Gate),
		AuditHandler:       audithttp.NewHandler(logger, audit.NewService(auditStore), stack.Gate),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
		Health: func(r *http.Request) error {
			return dbpool.Ping(r.Context())
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
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
