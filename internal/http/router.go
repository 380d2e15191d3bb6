package http

import (
	"time"

	"github.com/assetdesk/backend/internal/config"
	"github.com/assetdesk/backend/internal/http/handlers"
	"github.com/assetdesk/backend/internal/middleware"
	"github.com/assetdesk/backend/internal/rbac"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb redis.UniversalClient,
	userHandler *handlers.UserHandler,
	erasureHandler *handlers.ErasureHandler,
	adminHandler *handlers.AdminHandler,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1", middleware.AuthMiddleware(cfg, log))
	if rdb != nil {
		api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))
	}

	// User
	api.Get("/me", userHandler.GetMe)

	// Right to erasure
	erasure := api.Group("/me/erasure", middleware.RequirePermission(rbac.PermRequestErasure))
	erasure.Post("", erasureHandler.Request)
	erasure.Delete("", erasureHandler.Cancel)
	erasure.Get("", erasureHandler.Status)

	// Tenant administration
	admin := api.Group("/admin")
	admin.Get("/audit", middleware.RequirePermission(rbac.PermViewAudit), adminHandler.QueryAudit)

	alerts := admin.Group("/alerts", middleware.RequirePermission(rbac.PermForceAlerts))
	alerts.Post("/contracts", adminHandler.ForceContractAlerts)
	alerts.Post("/tasks", adminHandler.ForceOverdueTasks)
	alerts.Post("/digest", adminHandler.ForceDigest)

	admin.Post("/tenant/erasure", middleware.RequirePermission(rbac.PermEraseTenant), adminHandler.RequestTenantErasure)
}
