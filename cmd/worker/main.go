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

	"github.com/odyssey-erp/fulfillment/internal/app"
	"github.com/odyssey-erp/fulfillment/internal/notify"
	"github.com/odyssey-erp/fulfillment/internal/observability"
	"github.com/odyssey-erp/fulfillment/internal/platform/cache"
	"github.com/odyssey-erp/fulfillment/internal/platform/db"
	"github.com/odyssey-erp/fulfillment/internal/replenishment"
	"github.com/odyssey-erp/fulfillment/internal/shared"
	"github.com/odyssey-erp/fulfillment/jobs"
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

	shutdownTracer, err := app.InitTracer(ctx, cfg, "fulfillment-worker", logger)
	if err != nil {
		logger.Error("init tracer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGMaxConnLife})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The worker owns the schedule, so it refuses to start without the lock store.
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

	// Events queued by the API are delivered to Kafka when brokers are
	// configured and to the log otherwise.
	var outbound notify.Sink = notify.NewLogSink(logger)
	if cfg.KafkaEnabled() {
		kafka := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := kafka.Close(); err != nil {
				logger.Warn("kafka writer close", slog.Any("error", err))
			}
		}()
		outbound = kafka
	}

	// Events raised by the worker itself go straight to the audit log and the
	// outbound sink; there is no point re-queueing them.
	events := notify.NewDispatcher(logger, notify.NewLogSink(logger), notify.NewAuditSink(shared.NewAuditLogger(pool)), outbound)

	metrics := observability.NewMetrics()
	replenishmentService := replenishment.NewService(
		replenishment.NewRepository(pool),
		replenishment.NewCache(redisClient, cfg.SnapshotCacheTTL),
		events,
		metrics.Jobs(),
		logger,
		replenishment.Config{
			SurplusThreshold:   cfg.SurplusThreshold,
			ForecastWindowDays: cfg.ForecastWindowDays,
			Location:           cfg.Location(),
		},
	)
	scheduler := replenishment.NewScheduler(replenishmentService, cache.NewLocker(redisClient), replenishment.SchedulerConfig{
		Hour:     cfg.ReplenishmentHour,
		Minute:   cfg.ReplenishmentMinute,
		Location: cfg.Location(),
		CatchUp:  cfg.ReplenishmentCatchUp,
	}, logger)
	snapshotJob := replenishment.NewSnapshotJob(scheduler.RunNow, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReplenishmentSnapshot, Handler: snapshotJob.Handle},
			{Type: notify.TaskDeliver, Handler: jobs.NewDeliverHandler(outbound, logger)},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(shared.NewIdempotencyStore(pool), cfg.IdempotencyRetention, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "17 * * * *", Task: jobs.NewIdempotencyCleanupTask()},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics listener", slog.Any("error", err))
			}
		}()
		defer func() { _ = metricsServer.Close() }()
	}

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("start replenishment scheduler", slog.Any("error", err))
		os.Exit(1)
	}
	defer scheduler.Stop()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
