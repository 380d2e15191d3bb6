package handlers

import (
	"context"
	"time"

	"github.com/assetdesk/backend/internal/http/dto"
	"github.com/assetdesk/backend/internal/middleware"
	"github.com/assetdesk/backend/internal/models"
	"github.com/assetdesk/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AuditReader interface {
	Query(ctx context.Context, tenantID uuid.UUID, f models.AuditFilter) ([]models.AuditRecord, error)
}

type AlertForcer interface {
	ForceContractAlerts(ctx context.Context, tenantID, actorID uuid.UUID) (services.AlertReport, error)
	ForceOverdueTasks(ctx context.Context, tenantID, actorID uuid.UUID) (services.AlertReport, error)
	ForceDigest(ctx context.Context, tenantID, actorID uuid.UUID, userID *uuid.UUID) (services.AlertReport, error)
}

// AdminHandler serves tenant-admin operations. Every call is scoped to the
// tenant of the caller's token.
type AdminHandler struct {
	audit   AuditReader
	alerts  AlertForcer
	erasure ErasureRequester
	log     *zap.Logger
}

func NewAdminHandler(audit AuditReader, alerts AlertForcer, erasure ErasureRequester, log *zap.Logger) *AdminHandler {
	return &AdminHandler{audit: audit, alerts: alerts, erasure: erasure, log: log}
}

func (h *AdminHandler) QueryAudit(c *fiber.Ctx) error {
	var q dto.AuditQuery
	if err := c.QueryParser(&q); err != nil {
		return badRequest(c, "invalid query parameters")
	}

	f, msg := auditFilter(q)
	if msg != "" {
		return badRequest(c, msg)
	}

	records, err := h.audit.Query(c.UserContext(), middleware.GetTenantID(c), f)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if records == nil {
		records = []models.AuditRecord{}
	}
	f.Normalize()
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.AuditPage{Items: records, Limit: f.Limit, Offset: f.Offset}})
}

func auditFilter(q dto.AuditQuery) (models.AuditFilter, string) {
	f := models.AuditFilter{Limit: q.Limit, Offset: q.Offset}

	if q.ActorID != "" {
		id, err := uuid.Parse(q.ActorID)
		if err != nil {
			return f, "invalid actor_id"
		}
		f.ActorID = &id
	}
	if q.EntityID != "" {
		id, err := uuid.Parse(q.EntityID)
		if err != nil {
			return f, "invalid entity_id"
		}
		f.EntityID = &id
	}
	if q.EntityType != "" {
		f.EntityType = &q.EntityType
	}
	if q.From != "" {
		t, err := time.Parse(time.RFC3339, q.From)
		if err != nil {
			return f, "invalid from, expected RFC 3339"
		}
		f.From = &t
	}
	if q.To != "" {
		t, err := time.Parse(time.RFC3339, q.To)
		if err != nil {
			return f, "invalid to, expected RFC 3339"
		}
		f.To = &t
	}
	return f, ""
}

func (h *AdminHandler) ForceContractAlerts(c *fiber.Ctx) error {
	report, err := h.alerts.ForceContractAlerts(c.UserContext(), middleware.GetTenantID(c), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: report})
}

func (h *AdminHandler) ForceOverdueTasks(c *fiber.Ctx) error {
	report, err := h.alerts.ForceOverdueTasks(c.UserContext(), middleware.GetTenantID(c), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: report})
}

func (h *AdminHandler) ForceDigest(c *fiber.Ctx) error {
	var req dto.ForceDigestRequest
	if err := optionalBody(c, &req); err != nil {
		return badRequest(c, "invalid request body")
	}

	var userID *uuid.UUID
	if req.UserID != nil && *req.UserID != "" {
		id, err := uuid.Parse(*req.UserID)
		if err != nil {
			return badRequest(c, "invalid user_id")
		}
		userID = &id
	}

	report, err := h.alerts.ForceDigest(c.UserContext(), middleware.GetTenantID(c), middleware.GetUserID(c), userID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: report})
}

func (h *AdminHandler) RequestTenantErasure(c *fiber.Ctx) error {
	var req dto.ErasureRequest
	if err := optionalBody(c, &req); err != nil {
		return badRequest(c, "invalid request body")
	}

	entry, err := h.erasure.RequestTenantErasure(c.UserContext(), middleware.GetTenantID(c), middleware.GetUserID(c), req.Reason)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: entry})
}
