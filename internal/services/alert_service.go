package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/assetdesk/backend/internal/apperr"
	"github.com/assetdesk/backend/internal/config"
	"github.com/assetdesk/backend/internal/models"
	"github.com/assetdesk/backend/internal/notify"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type AlertStore interface {
	ListActiveContracts(ctx context.Context, now time.Time, tenantID *uuid.UUID) ([]models.ContractWithAdmins, error)
	ListOverdueTasks(ctx context.Context, dayStart time.Time, tenantID *uuid.UUID) ([]models.OverdueTask, error)
	DigestRollups(ctx context.Context, now, horizon, dayStart time.Time, tenantID *uuid.UUID) ([]models.DigestRollup, error)
}

// MarkerStore de-duplicates alerts across runs.
type MarkerStore interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
	Touch(ctx context.Context, key string) error
}

// Alert kinds, used in marker keys, metrics and force-send audit records.
const (
	AlertKindContract = "contract"
	AlertKindTask     = "task"
	AlertKindDigest   = "digest"
)

// AlertOptions scopes a pass. A nil TenantID covers every tenant. Force
// bypasses the sent markers and records an audit entry.
type AlertOptions struct {
	TenantID *uuid.UUID
	ActorID  *uuid.UUID
	Force    bool
}

// DigestScope narrows a digest to one tenant, or to one user of that tenant.
type DigestScope struct {
	AlertOptions
	UserID *uuid.UUID
}

type AlertReport struct {
	Evaluated  int `json:"evaluated"`
	Dispatched int `json:"dispatched"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

type AlertService struct {
	store         AlertStore
	markers       MarkerStore
	dispatcher    notify.Dispatcher
	users         UserLookup
	audit         *AuditService
	loc           *time.Location
	noticeDays    int
	digestHorizon time.Duration
	log           *zap.Logger
	options
}

// NewAlertService builds the alert passes. markers may be nil, which turns
// de-duplication off.
func NewAlertService(
	store AlertStore,
	markers MarkerStore,
	dispatcher notify.Dispatcher,
	users UserLookup,
	audit *AuditService,
	cfg *config.Config,
	log *zap.Logger,
	opts ...Option,
) *AlertService {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	horizon := cfg.DigestHorizonDays
	if horizon <= 0 {
		horizon = 30
	}
	return &AlertService{
		store:         store,
		markers:       markers,
		dispatcher:    dispatcher,
		users:         users,
		audit:         audit,
		loc:           loc,
		noticeDays:    cfg.DefaultNoticeDays,
		digestHorizon: time.Duration(horizon) * 24 * time.Hour,
		log:           log,
		options:       buildOptions(opts),
	}
}

func markerKey(kind string, subject, recipient uuid.UUID, period string) string {
	return fmt.Sprintf("alerts:sent:%s:%s:%s:%s", kind, subject, recipient, period)
}

// send dispatches one notification, honoring and maintaining the markers.
// A panic in the dispatcher is contained to this notification.
func (s *AlertService) send(ctx context.Context, kind, key string, to uuid.UUID, n models.Notification, force bool, report *AlertReport) {
	log := s.log.With(zap.String("kind", kind), zap.String("recipient", to.String()))

	claimed := false
	if s.markers != nil && !force {
		fresh, err := s.markers.Claim(ctx, key)
		switch {
		case err != nil:
			log.Warn("alert marker store unavailable, sending anyway", zap.Error(err))
		case !fresh:
			report.Skipped++
			s.metrics.IncAlert(kind, "deduped")
			return
		default:
			claimed = true
		}
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("dispatch panicked: %v", r)
			}
		}()
		return s.dispatcher.Enqueue(ctx, to, n)
	}()
	if err != nil {
		report.Failed++
		s.metrics.IncAlert(kind, "failed")
		log.Error("failed to enqueue alert", zap.Error(err))
		if claimed {
			if rerr := s.markers.Release(ctx, key); rerr != nil {
				log.Warn("failed to release alert marker", zap.Error(rerr))
			}
		}
		return
	}

	report.Dispatched++
	s.metrics.IncAlert(kind, "sent")
	if force && s.markers != nil {
		if terr := s.markers.Touch(ctx, key); terr != nil {
			log.Warn("failed to refresh alert marker", zap.Error(terr))
		}
	}
}

func (s *AlertService) orgDay(now time.Time) string {
	return now.In(s.loc).Format("2006-01-02")
}

func (s *AlertService) orgWeek(now time.Time) string {
	y, w := now.In(s.loc).ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}

// RunContractAlerts notifies tenant admins of every active contract whose
// remaining days fall inside its notice window.
func (s *AlertService) RunContractAlerts(ctx context.Context, opts AlertOptions) (AlertReport, error) {
	var report AlertReport
	now := s.now()

	contracts, err := s.store.ListActiveContracts(ctx, now, opts.TenantID)
	if err != nil {
		return report, fmt.Errorf("list active contracts: %w", err)
	}

	day := s.orgDay(now)
	for _, c := range contracts {
		if ctx.Err() != nil {
			break
		}
		report.Evaluated++

		days := models.DaysUntil(c.EndDate, now)
		if !models.IsAlertDue(days, c.NoticeWindow(s.noticeDays)) {
			continue
		}
		if len(c.Admins) == 0 {
			s.log.Debug("contract due without notifiable admin", zap.String("contract_id", c.ID.String()))
			continue
		}

		n := models.Notification{
			Type: models.NotificationAlertContract,
			Payload: models.ContractAlertPayload{
				ContractID:    c.ID,
				SubjectName:   c.EntityName,
				DaysRemaining: days,
				Amount:        c.Amount,
				Currency:      c.Currency,
				EndDate:       c.EndDate,
			},
		}
		for _, admin := range c.Admins {
			s.send(ctx, AlertKindContract, markerKey(AlertKindContract, c.ID, admin.UserID, day), admin.UserID, n, opts.Force, &report)
		}
	}

	s.finish(ctx, AlertKindContract, opts, report)
	return report, ctx.Err()
}

// RunOverdueTasks notifies assignees of open tasks due before today.
func (s *AlertService) RunOverdueTasks(ctx context.Context, opts AlertOptions) (AlertReport, error) {
	var report AlertReport
	now := s.now()
	dayStart := models.StartOfDay(now, s.loc)

	tasks, err := s.store.ListOverdueTasks(ctx, dayStart, opts.TenantID)
	if err != nil {
		return report, fmt.Errorf("list overdue tasks: %w", err)
	}

	day := s.orgDay(now)
	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		report.Evaluated++
		if !models.IsOverdue(t.DueDate, t.Done, dayStart) {
			continue
		}
		if t.Assignee == nil {
			report.Skipped++
			continue
		}

		n := models.Notification{
			Type: models.NotificationProjectTask,
			Payload: models.TaskAlertPayload{
				TaskID:      t.ID,
				Title:       t.Title,
				ProjectID:   t.ProjectID,
				ProjectName: t.ProjectName,
				DueDate:     t.DueDate,
			},
		}
		s.send(ctx, AlertKindTask, markerKey(AlertKindTask, t.ID, t.Assignee.UserID, day), t.Assignee.UserID, n, opts.Force, &report)
	}

	s.finish(ctx, AlertKindTask, opts, report)
	return report, ctx.Err()
}

// RunWeeklyDigest sends each tenant's rollup to its notifiable admins, or to
// the single user named by scope.
func (s *AlertService) RunWeeklyDigest(ctx context.Context, scope DigestScope) (AlertReport, error) {
	var report AlertReport
	if scope.UserID != nil && scope.TenantID == nil {
		return report, apperr.Validation("digest for a user needs its tenant")
	}

	var single *models.Recipient
	if scope.UserID != nil {
		u, err := s.users.GetInTenant(ctx, *scope.TenantID, *scope.UserID)
		if err != nil {
			return report, err
		}
		if !u.IsNotifiable() {
			report.Skipped++
			return report, nil
		}
		single = &models.Recipient{UserID: u.ID, Email: u.Email, FirstName: u.FirstName}
	}

	now := s.now()
	dayStart := models.StartOfDay(now, s.loc)
	rollups, err := s.store.DigestRollups(ctx, now, now.Add(s.digestHorizon), dayStart, scope.TenantID)
	if err != nil {
		return report, fmt.Errorf("digest rollups: %w", err)
	}

	week := s.orgWeek(now)
	for _, d := range rollups {
		if ctx.Err() != nil {
			break
		}
		report.Evaluated++

		recipients := d.Recipients
		if single != nil {
			recipients = []models.Recipient{*single}
		}
		n := models.Notification{
			Type: models.NotificationSystem,
			Payload: models.DigestPayload{
				Kind:              "weekly_digest",
				TenantID:          d.TenantID,
				WeekOf:            week,
				ExpiringContracts: d.ExpiringContracts,
				ActiveContracts:   d.ActiveContracts,
				AnnualSpend:       d.AnnualSpend,
				OpenRequests:      d.OpenRequests,
				OpenTasks:         d.OpenTasks,
				OverdueTasks:      d.OverdueTasks,
			},
		}
		for _, r := range recipients {
			s.send(ctx, AlertKindDigest, markerKey(AlertKindDigest, d.TenantID, r.UserID, week), r.UserID, n, scope.Force, &report)
		}
	}

	s.finish(ctx, AlertKindDigest, scope.AlertOptions, report)
	return report, ctx.Err()
}

// RunDailyAlerts runs the contract and overdue-task passes side by side. One
// pass failing does not stop the other.
func (s *AlertService) RunDailyAlerts(ctx context.Context) error {
	var contractErr, taskErr error
	var g errgroup.Group
	g.Go(func() error {
		_, contractErr = s.RunContractAlerts(ctx, AlertOptions{})
		return nil
	})
	g.Go(func() error {
		_, taskErr = s.RunOverdueTasks(ctx, AlertOptions{})
		return nil
	})
	_ = g.Wait()
	return errors.Join(contractErr, taskErr)
}

func (s *AlertService) ForceContractAlerts(ctx context.Context, tenantID, actorID uuid.UUID) (AlertReport, error) {
	return s.RunContractAlerts(ctx, AlertOptions{TenantID: &tenantID, ActorID: &actorID, Force: true})
}

func (s *AlertService) ForceOverdueTasks(ctx context.Context, tenantID, actorID uuid.UUID) (AlertReport, error) {
	return s.RunOverdueTasks(ctx, AlertOptions{TenantID: &tenantID, ActorID: &actorID, Force: true})
}

func (s *AlertService) ForceDigest(ctx context.Context, tenantID, actorID uuid.UUID, userID *uuid.UUID) (AlertReport, error) {
	return s.RunWeeklyDigest(ctx, DigestScope{
		AlertOptions: AlertOptions{TenantID: &tenantID, ActorID: &actorID, Force: true},
		UserID:       userID,
	})
}

func (s *AlertService) finish(ctx context.Context, kind string, opts AlertOptions, report AlertReport) {
	s.log.Info("alert pass done",
		zap.String("kind", kind),
		zap.Bool("forced", opts.Force),
		zap.Int("evaluated", report.Evaluated),
		zap.Int("dispatched", report.Dispatched),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	if !opts.Force || opts.TenantID == nil {
		return
	}
	s.audit.Record(ctx, models.AuditRecord{
		TenantID:   *opts.TenantID,
		ActorID:    opts.ActorID,
		Action:     models.AuditAlertsForceSent,
		EntityType: models.EntityAlerts,
		Diff:       map[string]any{"kind": kind, "report": report},
	})
}
