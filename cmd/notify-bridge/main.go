package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/assetdesk/backend/internal/config"
	"github.com/assetdesk/backend/internal/db"
	"github.com/assetdesk/backend/internal/notify"
	"github.com/assetdesk/backend/internal/repositories"
	"github.com/assetdesk/backend/internal/services"
	"go.uber.org/zap"
)

// Notify Bridge: drains notification envelopes from the Redis queue, stores
// the in-app copy and forwards each one to the delivery service. Failed
// deliveries stay queued and are retried.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, "assetdesk-notify-bridge", log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, "assetdesk-notify-bridge", log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	delivery := services.NewNotificationService(
		repositories.NewNotificationRepo(pool),
		notify.NewHTTPDispatcher(cfg.NotifyInternalURL, log),
		log,
	)
	consumer := notify.NewRedisConsumer(rdb, cfg.NotifyQueue, log)

	log.Info("notify-bridge started", zap.String("queue", cfg.NotifyQueue))

	if err := consumer.Consume(ctx, delivery.Deliver); err != nil {
		log.Fatal("notification consumer failed", zap.Error(err))
	}

	log.Info("shutting down notify-bridge")
}
