package dto

import "time"

type ErrorResponse struct {
	Error      string     `json:"error"`
	RequestID  string     `json:"request_id,omitempty"`
	PurgeAfter *time.Time `json:"purge_after,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type AuditPage struct {
	Items  any `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type MeResponse struct {
	User    any `json:"user"`
	Erasure any `json:"erasure"`
}
