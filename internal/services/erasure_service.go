package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/assetdesk/backend/internal/apperr"
	"github.com/assetdesk/backend/internal/config"
	"github.com/assetdesk/backend/internal/models"
	"github.com/assetdesk/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrNoPendingErasure = fmt.Errorf("%w: no pending erasure request", apperr.ErrNotFound)

type DeletionQueue interface {
	CreatePending(ctx context.Context, e *models.DeletionEntry) (*models.DeletionEntry, bool, error)
	CancelPending(ctx context.Context, userID uuid.UUID, now time.Time) (*models.DeletionEntry, error)
	LatestByUser(ctx context.Context, userID uuid.UUID) (*models.DeletionEntry, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.DeletionEntry, error)
	LockDue(ctx context.Context, id uuid.UUID, now time.Time) (*models.DeletionEntry, error)
	MarkPurged(ctx context.Context, id uuid.UUID, now time.Time) error
	RecordFailure(ctx context.Context, id uuid.UUID, msg string) error
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Purger interface {
	AnonymizeUser(ctx context.Context, userID uuid.UUID, now time.Time) (repositories.PurgeCounts, error)
	PurgeTenant(ctx context.Context, tenantID uuid.UUID) (repositories.PurgeCounts, error)
}

type UserLookup interface {
	GetInTenant(ctx context.Context, tenantID, id uuid.UUID) (*models.User, error)
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PurgeReport summarizes one purge tick.
type PurgeReport struct {
	Due     int `json:"due"`
	Purged  int `json:"purged"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

const (
	purgeBatchSize  = 200
	maxReasonLength = 1000
)

var errEntryGone = errors.New("entry no longer due")

type ErasureService struct {
	queue        DeletionQueue
	purger       Purger
	users        UserLookup
	tx           TxRunner
	audit        *AuditService
	grace        time.Duration
	entryTimeout time.Duration
	log          *zap.Logger
	options
}

func NewErasureService(
	queue DeletionQueue,
	purger Purger,
	users UserLookup,
	tx TxRunner,
	audit *AuditService,
	cfg *config.Config,
	log *zap.Logger,
	opts ...Option,
) *ErasureService {
	grace := cfg.ErasureGracePeriod
	if grace <= 0 {
		grace = models.ErasureGracePeriod
	}
	return &ErasureService{
		queue:        queue,
		purger:       purger,
		users:        users,
		tx:           tx,
		audit:        audit,
		grace:        grace,
		entryTimeout: cfg.PurgeEntryTimeout,
		log:          log,
		options:      buildOptions(opts),
	}
}

func cleanReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLength {
		return "", apperr.Validation(fmt.Sprintf("reason exceeds %d characters", maxReasonLength))
	}
	return reason, nil
}

// RequestErasure queues the user's account for anonymization after the grace
// period. An existing PENDING request yields *apperr.ErasurePendingError.
func (s *ErasureService) RequestErasure(ctx context.Context, userID, tenantID uuid.UUID, reason string) (*models.DeletionEntry, error) {
	reason, err := cleanReason(reason)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetInTenant(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if user.AnonymizedAt != nil {
		return nil, fmt.Errorf("%w: account already anonymized", apperr.ErrInvalidState)
	}

	now := s.now()
	entry, created, err := s.queue.CreatePending(ctx, &models.DeletionEntry{
		UserID:      &userID,
		TenantID:    &tenantID,
		Reason:      reason,
		PurgeAfter:  now.Add(s.grace),
		RequestedAt: now,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, &apperr.ErasurePendingError{EntryID: entry.ID.String(), PurgeAfter: entry.PurgeAfter}
	}

	s.log.Info("erasure requested",
		zap.String("entry_id", entry.ID.String()),
		zap.String("user_id", userID.String()),
		zap.Time("purge_after", entry.PurgeAfter),
	)
	s.audit.Record(ctx, models.AuditRecord{
		TenantID:   tenantID,
		ActorID:    &userID,
		Action:     models.AuditErasureRequested,
		EntityType: models.EntityErasure,
		EntityID:   &entry.ID,
		Diff:       map[string]any{"purge_after": entry.PurgeAfter, "scope": "user"},
	})
	return entry, nil
}

// RequestTenantErasure queues the whole tenant for deletion. Only tenant
// admins reach this; the check happens at the HTTP layer.
func (s *ErasureService) RequestTenantErasure(ctx context.Context, tenantID, actorID uuid.UUID, reason string) (*models.DeletionEntry, error) {
	reason, err := cleanReason(reason)
	if err != nil {
		return nil, err
	}

	now := s.now()
	entry, created, err := s.queue.CreatePending(ctx, &models.DeletionEntry{
		TenantID:    &tenantID,
		Reason:      reason,
		PurgeAfter:  now.Add(s.grace),
		RequestedAt: now,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, &apperr.ErasurePendingError{EntryID: entry.ID.String(), PurgeAfter: entry.PurgeAfter}
	}

	s.log.Warn("tenant erasure requested",
		zap.String("entry_id", entry.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("actor_id", actorID.String()),
		zap.Time("purge_after", entry.PurgeAfter),
	)
	s.audit.Record(ctx, models.AuditRecord{
		TenantID:   tenantID,
		ActorID:    &actorID,
		Action:     models.AuditErasureRequested,
		EntityType: models.EntityErasure,
		EntityID:   &entry.ID,
		Diff:       map[string]any{"purge_after": entry.PurgeAfter, "scope": "tenant"},
	})
	return entry, nil
}

// CancelErasure withdraws the user's PENDING request. Without one, including
// after a previous cancel, it returns ErrNoPendingErasure.
func (s *ErasureService) CancelErasure(ctx context.Context, userID uuid.UUID) (*models.DeletionEntry, error) {
	entry, err := s.queue.CancelPending(ctx, userID, s.now())
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, ErrNoPendingErasure
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("erasure canceled", zap.String("entry_id", entry.ID.String()), zap.String("user_id", userID.String()))
	if entry.TenantID != nil {
		s.audit.Record(ctx, models.AuditRecord{
			TenantID:   *entry.TenantID,
			ActorID:    &userID,
			Action:     models.AuditErasureCanceled,
			EntityType: models.EntityErasure,
			EntityID:   &entry.ID,
		})
	}
	return entry, nil
}

// GetErasureStatus returns the user's latest request in any status.
func (s *ErasureService) GetErasureStatus(ctx context.Context, userID uuid.UUID) (*models.DeletionEntry, error) {
	return s.queue.LatestByUser(ctx, userID)
}

// PurgeTick executes every due entry, each in its own transaction. A failing
// entry is rolled back, stays PENDING and does not stop the others.
func (s *ErasureService) PurgeTick(ctx context.Context) (PurgeReport, error) {
	var report PurgeReport
	now := s.now()

	entries, err := s.queue.ListDue(ctx, now, purgeBatchSize)
	if err != nil {
		return report, fmt.Errorf("list due erasures: %w", err)
	}
	report.Due = len(entries)
	if len(entries) == purgeBatchSize {
		s.log.Warn("purge batch full, remaining entries wait for the next tick", zap.Int("batch", purgeBatchSize))
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		kind := entryKind(&e)
		log := s.log.With(zap.String("entry_id", e.ID.String()), zap.String("kind", kind))

		err := s.purgeOne(ctx, e.ID, now)
		switch {
		case errors.Is(err, errEntryGone):
			report.Skipped++
			s.metrics.IncPurge(kind, "skipped")
			log.Info("erasure entry skipped, resolved or held elsewhere")
		case err != nil:
			report.Failed++
			s.metrics.IncPurge(kind, "failed")
			log.Error("erasure purge failed", zap.Int("attempt", e.Attempts+1), zap.Error(err))
			if ferr := s.queue.RecordFailure(ctx, e.ID, err.Error()); ferr != nil {
				log.Error("failed to record purge failure", zap.Error(ferr))
			}
		default:
			report.Purged++
			s.metrics.IncPurge(kind, "purged")
			log.Info("erasure purged")
		}
	}

	s.log.Info("purge tick done",
		zap.Int("due", report.Due),
		zap.Int("purged", report.Purged),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

func entryKind(e *models.DeletionEntry) string {
	if e.IsTenantErasure() {
		return "tenant"
	}
	return "user"
}

func (s *ErasureService) purgeOne(ctx context.Context, id uuid.UUID, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("purge panicked: %v", r)
		}
	}()

	if s.entryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.entryTimeout)
		defer cancel()
	}

	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		entry, err := s.queue.LockDue(ctx, id, now)
		if errors.Is(err, apperr.ErrNotFound) {
			return errEntryGone
		}
		if err != nil {
			return err
		}

		rec := models.AuditRecord{EntityID: new(uuid.UUID)}
		var counts repositories.PurgeCounts
		switch {
		case entry.IsTenantErasure():
			counts, err = s.purger.PurgeTenant(ctx, *entry.TenantID)
			rec.TenantID = *entry.TenantID
			rec.Action = models.AuditTenantPurged
			rec.EntityType = models.EntityTenant
			*rec.EntityID = *entry.TenantID
		case entry.UserID != nil && entry.TenantID != nil:
			counts, err = s.purger.AnonymizeUser(ctx, *entry.UserID, now)
			rec.TenantID = *entry.TenantID
			rec.Action = models.AuditAccountPurged
			rec.EntityType = models.EntityUser
			*rec.EntityID = *entry.UserID
		default:
			return fmt.Errorf("%w: entry has neither user nor tenant", apperr.ErrInvalidState)
		}
		if err != nil {
			return err
		}

		rec.Diff = map[string]any{
			"entry_id":     entry.ID,
			"requested_at": entry.RequestedAt,
			"rows":         counts,
		}
		if err := s.audit.RecordTx(ctx, rec); err != nil {
			return err
		}
		return s.queue.MarkPurged(ctx, entry.ID, now)
	})
}

// SweepResolved deletes PURGED and CANCELED entries resolved more than a year ago.
func (s *ErasureService) SweepResolved(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-models.ResolvedEntryRetention)
	n, err := s.queue.DeleteResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deletion queue sweep: %w", err)
	}
	s.metrics.AddSwept("deletion_queue", n)
	s.log.Info("deletion queue sweep done", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}
