// Package jobs declares the worker's recurring jobs and their triggers.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/assetdesk/backend/internal/scheduler"
	"github.com/assetdesk/backend/internal/services"
)

const (
	ErasurePurge        = "erasure-purge"
	ComplianceCleanup   = "compliance-cleanup"
	DailyAlerts         = "daily-alerts"
	WeeklyDigest        = "weekly-digest"
	NotificationCleanup = "notification-cleanup"
)

type Purger interface {
	PurgeTick(ctx context.Context) (services.PurgeReport, error)
	SweepResolved(ctx context.Context) (int64, error)
}

type AuditSweeper interface {
	RetentionSweep(ctx context.Context) (int64, error)
}

type Alerts interface {
	RunDailyAlerts(ctx context.Context) error
	RunWeeklyDigest(ctx context.Context, scope services.DigestScope) (services.AlertReport, error)
}

type NotificationCleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

type Deps struct {
	Erasure       Purger
	Audit         AuditSweeper
	Alerts        Alerts
	Notifications NotificationCleaner
}

// Definitions returns the job table. Clock times are in loc.
func Definitions(d Deps, loc *time.Location) []scheduler.Job {
	return []scheduler.Job{
		{
			Name:    ErasurePurge,
			Trigger: scheduler.Daily{Hour: 2, Minute: 30, Location: loc},
			Handler: func(ctx context.Context) error {
				_, err := d.Erasure.PurgeTick(ctx)
				return err
			},
		},
		{
			Name:    ComplianceCleanup,
			Trigger: scheduler.Daily{Hour: 3, Minute: 15, Location: loc},
			Handler: func(ctx context.Context) error {
				_, auditErr := d.Audit.RetentionSweep(ctx)
				_, queueErr := d.Erasure.SweepResolved(ctx)
				return errors.Join(auditErr, queueErr)
			},
		},
		{
			Name:    DailyAlerts,
			Trigger: scheduler.Daily{Hour: 8, Minute: 0, Location: loc},
			Handler: d.Alerts.RunDailyAlerts,
		},
		{
			Name:    WeeklyDigest,
			Trigger: scheduler.Weekly{Weekday: time.Friday, Hour: 8, Minute: 0, Location: loc},
			Handler: func(ctx context.Context) error {
				_, err := d.Alerts.RunWeeklyDigest(ctx, services.DigestScope{})
				return err
			},
		},
		{
			Name:    NotificationCleanup,
			Trigger: scheduler.Weekly{Weekday: time.Sunday, Hour: 4, Minute: 0, Location: loc},
			Handler: func(ctx context.Context) error {
				_, err := d.Notifications.Cleanup(ctx)
				return err
			},
		},
	}
}

// Register adds every job to s.
func Register(s *scheduler.Scheduler, d Deps, loc *time.Location) error {
	for _, job := range Definitions(d, loc) {
		if err := s.Register(job); err != nil {
			return err
		}
	}
	return nil
}
