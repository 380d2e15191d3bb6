package services

import (
	"context"
	"fmt"
	"time"

	"github.com/assetdesk/backend/internal/apperr"
	"github.com/assetdesk/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AuditStore interface {
	Insert(ctx context.Context, rec *models.AuditRecord) error
	Query(ctx context.Context, tenantID uuid.UUID, f models.AuditFilter) ([]models.AuditRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RecordOutcome reports an audit write that did not make it to storage.
type RecordOutcome struct {
	Action   string
	TenantID uuid.UUID
	Err      error
	At       time.Time
}

const auditWriteTimeout = 5 * time.Second

type AuditService struct {
	store    AuditStore
	outcomes chan RecordOutcome
	log      *zap.Logger
	options
}

func NewAuditService(store AuditStore, log *zap.Logger, opts ...Option) *AuditService {
	return &AuditService{
		store:    store,
		outcomes: make(chan RecordOutcome, 64),
		log:      log,
		options:  buildOptions(opts),
	}
}

// Outcomes delivers failed writes. Sends never block: outcomes are dropped
// when the buffer is full, so a process should keep DrainOutcomes running.
func (s *AuditService) Outcomes() <-chan RecordOutcome {
	return s.outcomes
}

// DrainOutcomes hands every outcome to handle until ctx is done.
func (s *AuditService) DrainOutcomes(ctx context.Context, handle func(RecordOutcome)) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-s.outcomes:
			handle(out)
		}
	}
}

// LogOutcome is the default DrainOutcomes handler. It logs at debug level.
func LogOutcome(log *zap.Logger) func(RecordOutcome) {
	return func(out RecordOutcome) {
		log.Debug("audit outcome",
			zap.String("action", out.Action),
			zap.String("tenant_id", out.TenantID.String()),
			zap.Time("at", out.At),
			zap.Error(out.Err),
		)
	}
}

type clientInfoKey struct{}

type clientInfo struct {
	ip        string
	userAgent string
}

// WithClientInfo attaches the caller's address and user agent to ctx so
// records written downstream carry them.
func WithClientInfo(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, clientInfo{ip: ip, userAgent: userAgent})
}

func validateRecord(rec *models.AuditRecord) error {
	if rec.TenantID == uuid.Nil {
		return apperr.Validation("audit record without tenant")
	}
	if !models.IsValidAuditAction(rec.Action) {
		return apperr.Validation(fmt.Sprintf("unknown audit action %q", rec.Action))
	}
	if rec.EntityType == "" {
		return apperr.Validation("audit record without entity type")
	}
	return nil
}

func fillClientInfo(ctx context.Context, rec *models.AuditRecord) {
	info, ok := ctx.Value(clientInfoKey{}).(clientInfo)
	if !ok {
		return
	}
	if rec.SourceIP == nil && info.ip != "" {
		rec.SourceIP = &info.ip
	}
	if rec.UserAgent == nil && info.userAgent != "" {
		rec.UserAgent = &info.userAgent
	}
}

// Record appends an audit record on a best-effort basis. Failures never reach
// the caller; they are logged, counted and published on Outcomes.
func (s *AuditService) Record(ctx context.Context, rec models.AuditRecord) {
	defer func() {
		if r := recover(); r != nil {
			s.fail(rec, fmt.Errorf("audit write panicked: %v", r))
		}
	}()

	if err := validateRecord(&rec); err != nil {
		s.fail(rec, err)
		return
	}
	fillClientInfo(ctx, &rec)

	// a canceled request must not lose its audit trail
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if err := s.store.Insert(ctx, &rec); err != nil {
		s.fail(rec, err)
	}
}

// RecordTx writes inside the transaction carried by ctx and returns the
// error, so the surrounding unit of work fails with it.
func (s *AuditService) RecordTx(ctx context.Context, rec models.AuditRecord) error {
	if err := validateRecord(&rec); err != nil {
		return err
	}
	fillClientInfo(ctx, &rec)
	if err := s.store.Insert(ctx, &rec); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

func (s *AuditService) fail(rec models.AuditRecord, err error) {
	s.log.Error("audit write failed",
		zap.String("action", rec.Action),
		zap.String("tenant_id", rec.TenantID.String()),
		zap.String("entity_type", rec.EntityType),
		zap.Error(err),
	)
	s.metrics.IncAuditFailure(rec.Action)

	select {
	case s.outcomes <- RecordOutcome{Action: rec.Action, TenantID: rec.TenantID, Err: err, At: s.now()}:
	default:
	}
}

func (s *AuditService) Query(ctx context.Context, tenantID uuid.UUID, f models.AuditFilter) ([]models.AuditRecord, error) {
	if tenantID == uuid.Nil {
		return nil, apperr.Validation("tenant is required")
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, apperr.Validation("to must not be before from")
	}
	f.Normalize()
	return s.store.Query(ctx, tenantID, f)
}

// RetentionSweep deletes records older than the retention period. Running it
// twice in a row deletes nothing the second time.
func (s *AuditService) RetentionSweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-models.AuditRetention)
	n, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit retention sweep: %w", err)
	}
	s.metrics.AddSwept("audit_logs", n)
	s.log.Info("audit retention sweep done", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}
