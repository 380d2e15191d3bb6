package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification types
const (
	NotificationAlertContract = "ALERT_CONTRACT"
	NotificationProjectTask   = "PROJECT_TASK"
	NotificationRequest       = "REQUEST"
	NotificationSystem        = "SYSTEM"
)

// Notification is a typed, JSON-serializable message handed to the dispatch service.
type Notification struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type ContractAlertPayload struct {
	ContractID    uuid.UUID `json:"contract_id"`
	SubjectName   string    `json:"subject_name"`
	DaysRemaining int       `json:"days_remaining"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	EndDate       time.Time `json:"end_date"`
}

type TaskAlertPayload struct {
	TaskID      uuid.UUID `json:"task_id"`
	Title       string    `json:"title"`
	ProjectID   uuid.UUID `json:"project_id"`
	ProjectName string    `json:"project_name"`
	DueDate     time.Time `json:"due_date"`
}

type DigestPayload struct {
	Kind              string    `json:"kind"`
	TenantID          uuid.UUID `json:"tenant_id"`
	WeekOf            string    `json:"week_of"`
	ExpiringContracts int       `json:"expiring_contracts"`
	ActiveContracts   int       `json:"active_contracts"`
	AnnualSpend       float64   `json:"annual_spend"`
	OpenRequests      int       `json:"open_requests"`
	OpenTasks         int       `json:"open_tasks"`
	OverdueTasks      int       `json:"overdue_tasks"`
}

// DigestRollup is the per-tenant aggregate behind a weekly digest.
type DigestRollup struct {
	TenantID          uuid.UUID
	ExpiringContracts int
	ActiveContracts   int
	AnnualSpend       float64
	OpenRequests      int
	OpenTasks         int
	OverdueTasks      int
	Recipients        []Recipient
}

// Notification retention for the weekly cleanup job.
const (
	ReadNotificationRetention = 30 * 24 * time.Hour
	NotificationRetention     = 90 * 24 * time.Hour
)
