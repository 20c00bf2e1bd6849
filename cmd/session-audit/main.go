package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shop-admin/internal/config"
	"shop-admin/internal/messaging"
	"shop-admin/internal/observability"
)

func main() {
	cfg := config.Load()

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = "json"
	}
	observability.InitLogger(logLevel, logFormat)

	slog.Info("starting session audit")

	if cfg.RabbitMQURL == "" {
		slog.Error("RABBITMQ_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rmqCtx, rmqCancel := context.WithTimeout(ctx, 60*time.Second)
	defer rmqCancel()

	rmq, err := messaging.NewRabbitMQWithRetry(rmqCtx, cfg.RabbitMQURL)
	if err != nil {
		slog.Error("failed to connect to rabbitmq", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer rmq.Close()

	slog.Info("connected to rabbitmq")

	consumer := messaging.NewAuditConsumer(rmq, logEvent)
	if err := consumer.Start(ctx); err != nil {
		slog.Error("failed to start consuming", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("session audit is ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down session audit")
	cancel()

	time.Sleep(100 * time.Millisecond)
	slog.Info("session audit stopped")
}

func logEvent(ctx context.Context, event *messaging.SessionEvent) error {
	slog.Info("session event",
		slog.String("type", event.Type),
		slog.String("device", event.Device),
		slog.String("profile_id", event.ProfileID),
		slog.String("username", event.Username),
		slog.String("shop", event.ShopName),
		slog.Time("at", time.Unix(event.Timestamp, 0).UTC()))
	return nil
}
