package handlers

import (
	"context"
	"errors"

	"github.com/assetdesk/backend/internal/apperr"
	"github.com/assetdesk/backend/internal/http/dto"
	"github.com/assetdesk/backend/internal/middleware"
	"github.com/assetdesk/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type UserLookup interface {
	GetInTenant(ctx context.Context, tenantID, id uuid.UUID) (*models.User, error)
}

type UserHandler struct {
	users   UserLookup
	erasure ErasureRequester
	log     *zap.Logger
}

func NewUserHandler(users UserLookup, erasure ErasureRequester, log *zap.Logger) *UserHandler {
	return &UserHandler{users: users, erasure: erasure, log: log}
}

// GetMe returns the caller's profile with its latest erasure request, if any.
func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	ctx := c.UserContext()
	user, err := h.users.GetInTenant(ctx, middleware.GetTenantID(c), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	erasure, err := h.erasure.GetErasureStatus(ctx, user.ID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.MeResponse{User: user, Erasure: erasure}})
}
