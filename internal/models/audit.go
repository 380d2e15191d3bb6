package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions
const (
	AuditErasureRequested     = "ERASURE_REQUESTED"
	AuditErasureCanceled      = "ERASURE_CANCELED"
	AuditAccountPurged        = "ACCOUNT_PURGED"
	AuditTenantPurged         = "TENANT_PURGED"
	AuditContractCreated      = "CONTRACT_CREATED"
	AuditContractUpdated      = "CONTRACT_UPDATED"
	AuditContractDeleted      = "CONTRACT_DELETED"
	AuditReviewCreated        = "REVIEW_CREATED"
	AuditRequestCreated       = "REQUEST_CREATED"
	AuditRequestStatusChanged = "REQUEST_STATUS_CHANGED"
	AuditTaskAssigned         = "TASK_ASSIGNED"
	AuditUserInvited          = "USER_INVITED"
	AuditUserRoleChanged      = "USER_ROLE_CHANGED"
	AuditSettingsUpdated      = "SETTINGS_UPDATED"
	AuditAlertsForceSent      = "ALERTS_FORCE_SENT"
	AuditLogin                = "LOGIN"
)

var auditActions = map[string]bool{
	AuditErasureRequested:     true,
	AuditErasureCanceled:      true,
	AuditAccountPurged:        true,
	AuditTenantPurged:         true,
	AuditContractCreated:      true,
	AuditContractUpdated:      true,
	AuditContractDeleted:      true,
	AuditReviewCreated:        true,
	AuditRequestCreated:       true,
	AuditRequestStatusChanged: true,
	AuditTaskAssigned:         true,
	AuditUserInvited:          true,
	AuditUserRoleChanged:      true,
	AuditSettingsUpdated:      true,
	AuditAlertsForceSent:      true,
	AuditLogin:                true,
}

func IsValidAuditAction(action string) bool {
	return auditActions[action]
}

// Entity types referenced by audit records
const (
	EntityUser     = "user"
	EntityTenant   = "tenant"
	EntityContract = "contract"
	EntityReview   = "review"
	EntityRequest  = "request"
	EntityTask     = "task"
	EntityErasure  = "deletion_queue"
	EntityAlerts   = "alerts"
)

// AuditRetention is how long audit records are kept before the retention sweep removes them.
const AuditRetention = 2 * 365 * 24 * time.Hour

// AuditRecord is an immutable audit trail row. ActorID is nil for system
// actions and for actions whose actor has been erased.
type AuditRecord struct {
	ID         uuid.UUID  `json:"id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Action     string     `json:"action"`
	EntityType string     `json:"entity_type"`
	EntityID   *uuid.UUID `json:"entity_id,omitempty"`
	Diff       any        `json:"diff,omitempty"`
	SourceIP   *string    `json:"source_ip,omitempty"`
	UserAgent  *string    `json:"user_agent,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AuditFilter narrows a tenant-scoped audit query. Zero values mean "any".
type AuditFilter struct {
	ActorID    *uuid.UUID
	EntityType *string
	EntityID   *uuid.UUID
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

const (
	DefaultAuditLimit = 100
	MaxAuditLimit     = 500
)

// Normalize clamps pagination to the supported range.
func (f *AuditFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultAuditLimit
	}
	if f.Limit > MaxAuditLimit {
		f.Limit = MaxAuditLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}
