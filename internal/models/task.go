package models

import (
	"time"

	"github.com/google/uuid"
)

type Task struct {
	ID          uuid.UUID  `json:"id"`
	TenantID    uuid.UUID  `json:"tenant_id"`
	ProjectID   uuid.UUID  `json:"project_id"`
	ProjectName string     `json:"project_name"`
	Title       string     `json:"title"`
	DueDate     time.Time  `json:"due_date"`
	Done        bool       `json:"done"`
	AssigneeID  *uuid.UUID `json:"assignee_id,omitempty"`
}

// OverdueTask carries the assignee when it exists and accepts notifications.
type OverdueTask struct {
	Task
	Assignee *Recipient
}

// StartOfDay truncates t to midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func IsOverdue(due time.Time, done bool, dayStart time.Time) bool {
	return !done && due.Before(dayStart)
}
