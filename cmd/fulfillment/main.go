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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/fulfillment/internal/app"
	"github.com/odyssey-erp/fulfillment/internal/branches"
	"github.com/odyssey-erp/fulfillment/internal/catalog"
	"github.com/odyssey-erp/fulfillment/internal/inventory"
	"github.com/odyssey-erp/fulfillment/internal/notify"
	"github.com/odyssey-erp/fulfillment/internal/observability"
	"github.com/odyssey-erp/fulfillment/internal/orders"
	"github.com/odyssey-erp/fulfillment/internal/platform/cache"
	"github.com/odyssey-erp/fulfillment/internal/platform/db"
	"github.com/odyssey-erp/fulfillment/internal/replenishment"
	"github.com/odyssey-erp/fulfillment/internal/shared"
	"github.com/odyssey-erp/fulfillment/internal/transfers"
	"github.com/odyssey-erp/fulfillment/jobs"
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

	shutdownTracer, err := app.InitTracer(ctx, cfg, "fulfillment-api", logger)
	if err != nil {
		logger.Error("init tracer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown", slog.Any("error", err))
		}
	}()

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGMaxConnLife})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Redis backs the snapshot cache and the run lock; the API keeps serving
	// without it.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, caching disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	sinks := []notify.Sink{
		notify.NewLogSink(logger),
		notify.NewAuditSink(auditLogger),
		notify.NewQueueSink(jobClient.Asynq(), jobs.QueueNotify),
	}
	events := notify.NewDispatcher(logger, sinks...)

	metrics := observability.NewMetrics()

	fee, err := cfg.ShippingFee()
	if err != nil {
		logger.Error("shipping fee", slog.Any("error", err))
		os.Exit(1)
	}
	orderService := orders.NewService(orders.NewRepository(pool), events, logger,
		orders.WithCarrierTokenHash(cfg.CarrierWebhookTokenHash),
		orders.WithPaymentTokenHash(cfg.PaymentCallbackHash),
		orders.WithFlatShippingFee(fee),
		orders.WithMetrics(metrics),
	)
	transferService := transfers.NewService(transfers.NewRepository(pool), events, logger)
	inventoryService := inventory.NewService(inventory.NewRepository(pool), auditLogger, logger)
	branchService := branches.NewService(branches.NewRepository(pool))
	catalogService := catalog.NewService(catalog.NewRepository(pool))

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
	// On-demand runs share the worker's Redis lock; the cron loop itself only
	// runs in the worker.
	runGuard := replenishment.NewScheduler(replenishmentService, cache.NewLocker(redisClient), replenishment.SchedulerConfig{
		Hour:     cfg.ReplenishmentHour,
		Minute:   cfg.ReplenishmentMinute,
		Location: cfg.Location(),
	}, logger)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		Metrics:              metrics,
		OrdersHandler:        orders.NewHandler(logger, orderService),
		TransfersHandler:     transfers.NewHandler(logger, transferService),
		InventoryHandler:     inventory.NewHandler(logger, inventoryService),
		BranchesHandler:      branches.NewHandler(logger, branchService),
		CatalogHandler:       catalog.NewHandler(logger, catalogService),
		ReplenishmentHandler: replenishment.NewHandler(logger, replenishmentService, runGuard.RunNow),
		JobHandler:           jobs.NewHandler(inspector, logger),
		Ready:                readiness(pool, redisClient),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
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

func readiness(pool *pgxpool.Pool, client *redis.Client) func(*http.Request) error {
	return func(r *http.Request) error {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			return err
		}
		if client != nil {
			return client.Ping(ctx).Err()
		}
		return nil
	}
}
