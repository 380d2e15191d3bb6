package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/assetdesk/backend/internal/cascade"
	"github.com/assetdesk/backend/internal/config"
	"github.com/assetdesk/backend/internal/db"
	apphttp "github.com/assetdesk/backend/internal/http"
	"github.com/assetdesk/backend/internal/http/handlers"
	"github.com/assetdesk/backend/internal/metrics"
	"github.com/assetdesk/backend/internal/notify"
	"github.com/assetdesk/backend/internal/repositories"
	"github.com/assetdesk/backend/internal/services"
	"github.com/assetdesk/backend/migrations"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, "assetdesk-api", log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, migrations.Source(cfg.MigrationsDir), log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, "assetdesk-api", log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	deletionRepo := repositories.NewDeletionRepo(pool)
	alertRepo := repositories.NewAlertRepo(pool)
	notificationRepo := repositories.NewNotificationRepo(pool)
	purgeRepo, err := repositories.NewPurgeRepo(pool, cascade.TenantGraph())
	if err != nil {
		log.Fatal("invalid tenant cascade", zap.Error(err))
	}

	var markers services.MarkerStore
	if cfg.AlertMarkersEnabled {
		markers = repositories.NewAlertMarkers(rdb, cfg.AlertMarkerTTL)
	}

	// Services
	auditService := services.NewAuditService(auditRepo, log, services.WithMetrics(m))
	go auditService.DrainOutcomes(ctx, services.LogOutcome(log))
	erasureService := services.NewErasureService(deletionRepo, purgeRepo, userRepo, db.NewTxRunner(pool), auditService, cfg, log, services.WithMetrics(m))
	var forwarder services.Forwarder
	if cfg.NotifyTransport == notify.TransportHTTP {
		forwarder = notify.NewHTTPDispatcher(cfg.NotifyInternalURL, log)
	}
	notificationService := services.NewNotificationService(notificationRepo, forwarder, log)
	dispatcher := services.SelectDispatcher(cfg, rdb, notificationService, log)
	alertService := services.NewAlertService(alertRepo, markers, dispatcher, userRepo, auditService, cfg, log, services.WithMetrics(m))

	// Handlers
	userHandler := handlers.NewUserHandler(userRepo, erasureService, log)
	erasureHandler := handlers.NewErasureHandler(erasureService, log)
	adminHandler := handlers.NewAdminHandler(auditService, alertService, erasureService, log)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, userHandler, erasureHandler, adminHandler)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
