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
	"github.com/assetdesk/backend/internal/jobs"
	"github.com/assetdesk/backend/internal/metrics"
	"github.com/assetdesk/backend/internal/notify"
	"github.com/assetdesk/backend/internal/repositories"
	"github.com/assetdesk/backend/internal/scheduler"
	"github.com/assetdesk/backend/internal/services"
	"github.com/assetdesk/backend/migrations"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, "assetdesk-worker", log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrations.Source(cfg.MigrationsDir), log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, "assetdesk-worker", log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Repos
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
	erasureService := services.NewErasureService(deletionRepo, purgeRepo, userRepo, db.NewTxRunner(pool), auditService, cfg, log, services.WithMetrics(m))

	var forwarder services.Forwarder
	if cfg.NotifyTransport == notify.TransportHTTP {
		forwarder = notify.NewHTTPDispatcher(cfg.NotifyInternalURL, log)
	}
	notificationService := services.NewNotificationService(notificationRepo, forwarder, log, services.WithMetrics(m))
	dispatcher := services.SelectDispatcher(cfg, rdb, notificationService, log)
	alertService := services.NewAlertService(alertRepo, markers, dispatcher, userRepo, auditService, cfg, log, services.WithMetrics(m))

	// Scheduler
	sched := scheduler.New(log,
		scheduler.WithMetrics(m),
		scheduler.WithLocker(scheduler.NewRedisLocker(rdb, "jobs:lock:"), cfg.JobLockTTL),
	)
	err = jobs.Register(sched, jobs.Deps{
		Erasure:       erasureService,
		Audit:         auditService,
		Alerts:        alertService,
		Notifications: notificationService,
	}, cfg.Location)
	if err != nil {
		log.Fatal("failed to register jobs", zap.Error(err))
	}

	ops := fiber.New(fiber.Config{DisableStartupMessage: true})
	apphttp.SetupOpsRouter(ops, log, reg, sched, cfg.JobToken)

	log.Info("worker started", zap.Strings("jobs", sched.Jobs()), zap.String("timezone", cfg.Location.String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Start(gctx)
	})
	g.Go(func() error {
		auditService.DrainOutcomes(gctx, services.LogOutcome(log))
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%s", cfg.WorkerPort)
		log.Info("starting ops server", zap.String("addr", addr))
		return ops.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down worker")
		return ops.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error("worker stopped with error", zap.Error(err))
	}
}
