package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// DefaultNoticeDays applies when neither the contract nor the tenant sets a notice window.
const DefaultNoticeDays = 30

type Contract struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	EntityID   uuid.UUID `json:"entity_id"`
	EntityName string    `json:"entity_name"`
	EndDate    time.Time `json:"end_date"`
	NoticeDays *int      `json:"notice_days,omitempty"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
}

// Recipient is a user that may receive a notification.
type Recipient struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	FirstName *string   `json:"first_name,omitempty"`
}

// ContractWithAdmins is a contract loaded together with its tenant's
// notification settings and notifiable admins.
type ContractWithAdmins struct {
	Contract
	TenantNoticeDays *int
	Admins           []Recipient
}

// NoticeWindow resolves the contract override, then the tenant default, then
// fallback (DefaultNoticeDays when fallback is not positive).
func (c *ContractWithAdmins) NoticeWindow(fallback int) int {
	if c.NoticeDays != nil && *c.NoticeDays > 0 {
		return *c.NoticeDays
	}
	if c.TenantNoticeDays != nil && *c.TenantNoticeDays > 0 {
		return *c.TenantNoticeDays
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultNoticeDays
}

// DaysUntil returns whole days from now to end, rounded up.
func DaysUntil(end, now time.Time) int {
	return int(math.Ceil(end.Sub(now).Hours() / 24))
}

// IsAlertDue reports whether a contract expiring in daysLeft days is inside its notice window.
func IsAlertDue(daysLeft, window int) bool {
	return daysLeft > 0 && daysLeft <= window
}
