package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Deletion queue statuses
const (
	DeletionStatusPending  = "PENDING"
	DeletionStatusPurged   = "PURGED"
	DeletionStatusCanceled = "CANCELED"
)

// Valid state transitions: from -> []to. PURGED and CANCELED are terminal.
var ValidDeletionTransitions = map[string][]string{
	DeletionStatusPending:  {DeletionStatusPurged, DeletionStatusCanceled},
	DeletionStatusPurged:   {},
	DeletionStatusCanceled: {},
}

func IsValidDeletionTransition(from, to string) bool {
	allowed, ok := ValidDeletionTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalDeletionStatus(status string) bool {
	return status == DeletionStatusPurged || status == DeletionStatusCanceled
}

const (
	// ErasureGracePeriod is the default delay between an erasure request and its execution.
	ErasureGracePeriod = 30 * 24 * time.Hour
	// ResolvedEntryRetention is how long terminal queue entries are kept.
	ResolvedEntryRetention = 365 * 24 * time.Hour
)

// DeletionEntry is a pending or resolved right-to-erasure request. Exactly one
// of UserID and TenantID drives the purge: a user entry anonymizes one
// account, an entry with only TenantID erases the whole tenant.
type DeletionEntry struct {
	ID          uuid.UUID  `json:"id"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	TenantID    *uuid.UUID `json:"tenant_id,omitempty"`
	Reason      string     `json:"reason"`
	Status      string     `json:"status"`
	PurgeAfter  time.Time  `json:"purge_after"`
	RequestedAt time.Time  `json:"requested_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	Attempts    int        `json:"attempts"`
	LastError   *string    `json:"last_error,omitempty"`
}

func (e *DeletionEntry) IsTenantErasure() bool {
	return e.UserID == nil && e.TenantID != nil
}

func (e *DeletionEntry) IsDue(now time.Time) bool {
	return e.Status == DeletionStatusPending && !e.PurgeAfter.After(now)
}

// Redaction tokens written over personal data during anonymization.
const (
	RedactedText      = "[redacted]"
	RedactedFirstName = "Deleted"
	RedactedLastName  = "User"
	AnonymousDomain   = "anonymized.invalid"
)

// AnonymizedEmail derives a stable placeholder address from a one-way hash of
// the user id, so re-running a purge writes the same value.
func AnonymizedEmail(userID uuid.UUID) string {
	sum := sha256.Sum256([]byte(userID.String()))
	return "deleted-" + hex.EncodeToString(sum[:8]) + "@" + AnonymousDomain
}
