package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles
const (
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)

type User struct {
	ID                   uuid.UUID  `json:"id"`
	TenantID             uuid.UUID  `json:"tenant_id"`
	Email                string     `json:"email"`
	FirstName            *string    `json:"first_name,omitempty"`
	LastName             *string    `json:"last_name,omitempty"`
	Role                 string     `json:"role"`
	NotificationsEnabled bool       `json:"notifications_enabled"`
	AnonymizedAt         *time.Time `json:"anonymized_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// IsNotifiable reports whether the user can receive alerts.
func (u *User) IsNotifiable() bool {
	return u.NotificationsEnabled && u.AnonymizedAt == nil
}
