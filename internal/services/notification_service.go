package services

import (
	"context"
	"fmt"
	"time"

	"github.com/assetdesk/backend/internal/apperr"
	"github.com/assetdesk/backend/internal/config"
	"github.com/assetdesk/backend/internal/models"
	"github.com/assetdesk/backend/internal/notify"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type NotificationStore interface {
	Create(ctx context.Context, id, userID uuid.UUID, n models.Notification) (bool, error)
	DeleteExpired(ctx context.Context, readBefore, anyBefore time.Time) (int64, error)
}

// Forwarder relays an envelope to the external delivery service.
type Forwarder interface {
	Forward(ctx context.Context, env notify.Envelope) error
}

type NotificationService struct {
	store     NotificationStore
	forwarder Forwarder
	log       *zap.Logger
	options
}

func NewNotificationService(store NotificationStore, forwarder Forwarder, log *zap.Logger, opts ...Option) *NotificationService {
	return &NotificationService{store: store, forwarder: forwarder, log: log, options: buildOptions(opts)}
}

// Deliver stores the in-app copy of an envelope read from the queue, then
// forwards it for email and push delivery. Envelopes for erased users are
// dropped. Redelivering an envelope stores it once.
func (s *NotificationService) Deliver(ctx context.Context, env notify.Envelope) error {
	stored, err := s.store.Create(ctx, env.ID, env.UserID, env.Notification)
	if err != nil {
		return fmt.Errorf("store notification: %w: %w", apperr.ErrUnavailable, err)
	}
	if !stored {
		s.log.Info("notification dropped, recipient unknown or anonymized",
			zap.String("envelope_id", env.ID.String()), zap.String("user_id", env.UserID.String()))
		return nil
	}
	if s.forwarder == nil {
		return nil
	}
	return s.forwarder.Forward(ctx, env)
}

// Enqueue delivers in-process. It lets the service stand in as the dispatcher
// when no queue sits between producers and the delivery service.
func (s *NotificationService) Enqueue(ctx context.Context, userID uuid.UUID, n models.Notification) error {
	env := notify.NewEnvelope(userID, n)
	env.EnqueuedAt = s.now()
	return s.Deliver(ctx, env)
}

// SelectDispatcher returns the producer side of the configured transport:
// the Redis queue drained by notify-bridge, or direct delivery over HTTP.
func SelectDispatcher(cfg *config.Config, client redis.UniversalClient, notifications *NotificationService, log *zap.Logger) notify.Dispatcher {
	if cfg.NotifyTransport == notify.TransportHTTP {
		return notifications
	}
	return notify.NewRedisDispatcher(client, cfg.NotifyQueue)
}

// Cleanup deletes read notifications after 30 days and all of them after 90.
func (s *NotificationService) Cleanup(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.store.DeleteExpired(ctx, now.Add(-models.ReadNotificationRetention), now.Add(-models.NotificationRetention))
	if err != nil {
		return 0, fmt.Errorf("notification cleanup: %w", err)
	}
	s.metrics.AddSwept("notifications", n)
	s.log.Info("notification cleanup done", zap.Int64("deleted", n))
	return n, nil
}
