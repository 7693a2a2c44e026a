package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"imessage-scheduler/internal/config"
	"imessage-scheduler/internal/gatewayclient"
	"imessage-scheduler/internal/observability"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	logger := observability.GetLoggerFromEnv()
	defer logger.Sync()

	logger.Info("starting gateway client",
		zap.String("gateway_id", cfg.GatewayID),
		zap.String("api_base_url", cfg.GatewayAPIBaseURL))

	client := gatewayclient.New(cfg.GatewayAPIBaseURL, cfg.GatewayID, cfg.GatewaySharedSecret, cfg.GatewayPollInterval, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("shutting down gateway client...")
		cancel()
	}()

	client.Run(ctx)
	logger.Info("gateway client stopped")
}
