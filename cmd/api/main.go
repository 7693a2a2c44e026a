package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"imessage-scheduler/internal/api"
	"imessage-scheduler/internal/clock"
	"imessage-scheduler/internal/config"
	"imessage-scheduler/internal/db"
	"imessage-scheduler/internal/events"
	"imessage-scheduler/internal/gatewayauth"
	"imessage-scheduler/internal/idempotency"
	"imessage-scheduler/internal/observability"
	"imessage-scheduler/internal/scheduler"
	"imessage-scheduler/internal/tickrunner"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	logger := observability.GetLoggerFromEnv()
	defer logger.Sync()
	logger.Info("starting scheduler API")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	postgres, err := db.NewPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer postgres.Close()

	if err := postgres.RunMigrations("migrations"); err != nil {
		logger.Warn("failed to run migrations", zap.Error(err))
	}

	var redisDB *db.RedisDB
	if cfg.RedisURL != "" {
		redisDB, err = db.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisDB.Close()
	}
	idemStore := idempotency.NewStore(redisDB, logger)

	var publisher events.Publisher = events.Noop{}
	if cfg.NATSURL != "" {
		natsPublisher, err := events.NewNatsPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Fatal("failed to connect to nats", zap.Error(err))
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
	}

	otelShutdown, err := observability.SetupOpenTelemetry("scheduler-api", logger)
	if err != nil {
		logger.Warn("failed to initialize OpenTelemetry", zap.Error(err))
	} else {
		defer otelShutdown()
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	gatewayAuth, err := gatewayauth.New(cfg.GatewaySharedSecret)
	if err != nil {
		logger.Fatal("failed to initialize gateway auth", zap.Error(err))
	}

	store := scheduler.NewPostgresStore(postgres.DB)
	engine := scheduler.NewEngine(store, clock.Real{}, logger,
		scheduler.WithPublisher(publisher),
		scheduler.WithMetrics(metrics))

	runner := tickrunner.New(engine, cfg.TickInterval, logger)
	go runner.Run(ctx)

	handlers := api.NewHandlers(engine, idemStore, clock.Real{}, redisDB)

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fiberErr, ok := err.(*fiber.Error); ok {
				return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
			}
			logger.Error("unhandled fiber error", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
		},
	})

	api.SetupRoutes(app, logger, metrics, handlers, gatewayAuth)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("scheduler API started", zap.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	cancel()

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("failed to shutdown gracefully", zap.Error(err))
	}

	logger.Info("scheduler API stopped")
}
