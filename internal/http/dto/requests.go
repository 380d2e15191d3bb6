package dto

type ErasureRequest struct {
	Reason string `json:"reason"`
}

// ForceDigestRequest limits a forced digest to one recipient when UserID is set.
type ForceDigestRequest struct {
	UserID *string `json:"user_id,omitempty"`
}

// AuditQuery binds GET /admin/audit query parameters. Times are RFC 3339.
type AuditQuery struct {
	ActorID    string `query:"actor_id"`
	EntityType string `query:"entity_type"`
	EntityID   string `query:"entity_id"`
	From       string `query:"from"`
	To         string `query:"to"`
	Limit      int    `query:"limit"`
	Offset     int    `query:"offset"`
}
