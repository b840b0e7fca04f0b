package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/webhook-relay/internal/config"
	"github.com/kursadbilgin/webhook-relay/internal/delivery"
	"github.com/kursadbilgin/webhook-relay/internal/dispatch"
	"github.com/kursadbilgin/webhook-relay/internal/handler"
	"github.com/kursadbilgin/webhook-relay/internal/health"
	"github.com/kursadbilgin/webhook-relay/internal/infra/postgresql"
	"github.com/kursadbilgin/webhook-relay/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/webhook-relay/internal/infra/redis"
	"github.com/kursadbilgin/webhook-relay/internal/observability"
	"github.com/kursadbilgin/webhook-relay/internal/queue"
	"github.com/kursadbilgin/webhook-relay/internal/repository"
	"github.com/kursadbilgin/webhook-relay/internal/service"
	"github.com/kursadbilgin/webhook-relay/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer broker.Close()

	metrics := observability.NewMetrics()

	subscriptionRepo := repository.NewGormSubscriptionRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)

	governor, err := health.NewGovernor(subscriptionRepo, logger)
	if err != nil {
		logger.Fatal("health governor init failed", zap.Error(err))
	}
	governor.SetMetrics(metrics)

	executor, err := delivery.NewExecutor(
		attemptRepo,
		governor,
		time.Duration(cfg.DeliveryTimeoutSeconds)*time.Second,
		logger,
	)
	if err != nil {
		logger.Fatal("delivery executor init failed", zap.Error(err))
	}
	executor.SetMetrics(metrics)

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter init failed", zap.Error(err))
	}
	executor.SetRateLimiter(limiter)

	dispatcher, err := dispatch.NewDispatcher(subscriptionRepo, executor, cfg.DispatchConcurrency, logger)
	if err != nil {
		logger.Fatal("dispatcher init failed", zap.Error(err))
	}

	webhookService, err := service.NewWebhookService(subscriptionRepo, attemptRepo, executor, logger)
	if err != nil {
		logger.Fatal("webhook service init failed", zap.Error(err))
	}

	consumer := queue.NewRabbitMQConsumer(broker, cfg.WorkerConcurrency, logger)
	eventWorker, err := service.NewEventWorker(consumer, dispatcher, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("event worker init failed", zap.Error(err))
	}

	sweeper, err := service.NewPendingSweeper(
		attemptRepo,
		time.Duration(cfg.SweepIntervalSeconds)*time.Second,
		time.Duration(cfg.SweepMaxAgeSeconds)*time.Second,
		logger,
	)
	if err != nil {
		logger.Fatal("pending sweeper init failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "webhook-relay",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterSubscriptionRoutes(app, webhookService); err != nil {
		logger.Fatal("subscription routes init failed", zap.Error(err))
	}
	if err := handler.RegisterDeliveryRoutes(app, webhookService); err != nil {
		logger.Fatal("delivery routes init failed", zap.Error(err))
	}
	if err := handler.RegisterEventRoutes(app, dispatcher); err != nil {
		logger.Fatal("event routes init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("webhook-relay api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("fiber listen failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return eventWorker.Start(groupCtx)
	})

	g.Go(func() error {
		return sweeper.Start(groupCtx)
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		logger.Error("shutdown with error", zap.Error(err))
	}
	logger.Info("webhook-relay stopped")
}
