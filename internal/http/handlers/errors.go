package handlers

import (
	"errors"

	"github.com/assetdesk/backend/internal/apperr"
	"github.com/assetdesk/backend/internal/http/dto"
	"github.com/assetdesk/backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// respondError maps service errors onto HTTP statuses. Anything unrecognized
// is logged and reported as 500 without its message.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	resp := dto.ErrorResponse{Error: err.Error(), RequestID: middleware.GetRequestID(c)}

	var pending *apperr.ErasurePendingError
	switch {
	case errors.As(err, &pending):
		resp.PurgeAfter = &pending.PurgeAfter
		return c.Status(fiber.StatusConflict).JSON(resp)
	case errors.Is(err, apperr.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(resp)
	case errors.Is(err, apperr.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(resp)
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrInvalidState):
		return c.Status(fiber.StatusConflict).JSON(resp)
	case errors.Is(err, apperr.ErrUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}

	log.Error("request failed",
		zap.String("request_id", resp.RequestID),
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	resp.Error = "internal error"
	return c.Status(fiber.StatusInternalServerError).JSON(resp)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, RequestID: middleware.GetRequestID(c)})
}
