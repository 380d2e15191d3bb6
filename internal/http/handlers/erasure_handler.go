package handlers

import (
	"context"

	"github.com/assetdesk/backend/internal/http/dto"
	"github.com/assetdesk/backend/internal/middleware"
	"github.com/assetdesk/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ErasureRequester interface {
	RequestErasure(ctx context.Context, userID, tenantID uuid.UUID, reason string) (*models.DeletionEntry, error)
	RequestTenantErasure(ctx context.Context, tenantID, actorID uuid.UUID, reason string) (*models.DeletionEntry, error)
	CancelErasure(ctx context.Context, userID uuid.UUID) (*models.DeletionEntry, error)
	GetErasureStatus(ctx context.Context, userID uuid.UUID) (*models.DeletionEntry, error)
}

// ErasureHandler serves the caller's own right-to-erasure request.
type ErasureHandler struct {
	erasure ErasureRequester
	log     *zap.Logger
}

func NewErasureHandler(erasure ErasureRequester, log *zap.Logger) *ErasureHandler {
	return &ErasureHandler{erasure: erasure, log: log}
}

// optionalBody parses a JSON body when one was sent.
func optionalBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	return c.BodyParser(out)
}

func (h *ErasureHandler) Request(c *fiber.Ctx) error {
	var req dto.ErasureRequest
	if err := optionalBody(c, &req); err != nil {
		return badRequest(c, "invalid request body")
	}

	entry, err := h.erasure.RequestErasure(c.UserContext(), middleware.GetUserID(c), middleware.GetTenantID(c), req.Reason)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: entry})
}

func (h *ErasureHandler) Cancel(c *fiber.Ctx) error {
	entry, err := h.erasure.CancelErasure(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entry})
}

func (h *ErasureHandler) Status(c *fiber.Ctx) error {
	entry, err := h.erasure.GetErasureStatus(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entry})
}
