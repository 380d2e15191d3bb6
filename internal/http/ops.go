package http

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/assetdesk/backend/internal/http/dto"
	"github.com/assetdesk/backend/internal/middleware"
	"github.com/assetdesk/backend/internal/scheduler"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const HeaderJobToken = "X-Job-Token"

// JobRunner is the part of the scheduler the ops routes drive.
type JobRunner interface {
	Jobs() []string
	RunNow(ctx context.Context, name string) error
}

// SetupOpsRouter mounts the worker's internal surface. Manual job runs are
// refused unless jobToken is set and presented.
func SetupOpsRouter(app *fiber.App, log *zap.Logger, gatherer prometheus.Gatherer, runner JobRunner, jobToken string) {
	app.Use(recover.New())
	app.Use(middleware.RequestIDMiddleware())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "jobs": runner.Jobs()})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	jobs := app.Group("/jobs", requireJobToken(jobToken))
	jobs.Post("/:name/run", func(c *fiber.Ctx) error {
		name := c.Params("name")
		log.Info("manual job run", zap.String("job", name), zap.String("request_id", middleware.GetRequestID(c)))

		err := runner.RunNow(c.UserContext(), name)
		resp := dto.ErrorResponse{RequestID: middleware.GetRequestID(c)}
		switch {
		case err == nil:
			return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{"job": name}})
		case errors.Is(err, scheduler.ErrUnknownJob):
			resp.Error = err.Error()
			return c.Status(fiber.StatusNotFound).JSON(resp)
		case errors.Is(err, scheduler.ErrJobRunning):
			resp.Error = err.Error()
			return c.Status(fiber.StatusConflict).JSON(resp)
		default:
			log.Error("manual job run failed", zap.String("job", name), zap.Error(err))
			resp.Error = err.Error()
			return c.Status(fiber.StatusInternalServerError).JSON(resp)
		}
	})
}

func requireJobToken(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get(HeaderJobToken)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Error:     "job token required",
				RequestID: middleware.GetRequestID(c),
			})
		}
		return c.Next()
	}
}
