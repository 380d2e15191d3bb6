package repositories

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// AlertMarkers remembers which alerts were already sent, one Redis key per
// (kind, subject, recipient, period). Keys expire after ttl.
type AlertMarkers struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewAlertMarkers(client redis.UniversalClient, ttl time.Duration) *AlertMarkers {
	return &AlertMarkers{client: client, ttl: ttl}
}

// Claim sets the marker and reports true when it did not exist yet.
func (m *AlertMarkers) Claim(ctx context.Context, key string) (bool, error) {
	return m.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), m.ttl).Result()
}

// Release drops a marker whose notification could not be enqueued.
func (m *AlertMarkers) Release(ctx context.Context, key string) error {
	return m.client.Del(ctx, key).Err()
}

// Touch sets the marker unconditionally, resetting its ttl.
func (m *AlertMarkers) Touch(ctx context.Context, key string) error {
	return m.client.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), m.ttl).Err()
}
