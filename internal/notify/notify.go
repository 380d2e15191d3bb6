// Package notify hands notifications to the delivery service. Delivery
// itself (email, in-app, push) happens outside this repository.
package notify

//go:generate mockgen -source=notify.go -destination=mocks/mocks.go -package=mocks Dispatcher

import (
	"context"
	"time"

	"github.com/assetdesk/backend/internal/models"
	"github.com/google/uuid"
)

// Transports
const (
	TransportRedis = "redis"
	TransportHTTP  = "http"
)

// Dispatcher enqueues one notification for one user. Enqueue returning nil
// means the message was durably accepted, not delivered. Transient failures
// match apperr.ErrUnavailable.
type Dispatcher interface {
	Enqueue(ctx context.Context, userID uuid.UUID, n models.Notification) error
}

// Envelope is the wire form shared by the Redis and HTTP transports.
type Envelope struct {
	ID           uuid.UUID           `json:"id"`
	UserID       uuid.UUID           `json:"user_id"`
	Notification models.Notification `json:"notification"`
	EnqueuedAt   time.Time           `json:"enqueued_at"`
	Attempts     int                 `json:"attempts,omitempty"`
}

func NewEnvelope(userID uuid.UUID, n models.Notification) Envelope {
	return Envelope{
		ID:           uuid.New(),
		UserID:       userID,
		Notification: n,
		EnqueuedAt:   time.Now().UTC(),
	}
}
