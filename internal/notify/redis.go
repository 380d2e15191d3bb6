package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/assetdesk/backend/internal/apperr"
	"github.com/assetdesk/backend/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisDispatcher pushes envelopes onto a Redis list drained by the notify
// bridge. Envelopes wait in the list while no bridge is running.
type RedisDispatcher struct {
	client redis.UniversalClient
	queue  string
}

func NewRedisDispatcher(client redis.UniversalClient, queue string) *RedisDispatcher {
	return &RedisDispatcher{client: client, queue: queue}
}

func (d *RedisDispatcher) Enqueue(ctx context.Context, userID uuid.UUID, n models.Notification) error {
	data, err := json.Marshal(NewEnvelope(userID, n))
	if err != nil {
		return err
	}
	if err := d.client.LPush(ctx, d.queue, data).Err(); err != nil {
		return fmt.Errorf("enqueue notification: %w: %w", apperr.ErrUnavailable, err)
	}
	return nil
}

// Handler processes one envelope. An error puts the envelope back on the
// queue.
type Handler func(ctx context.Context, env Envelope) error

// RedisConsumer drains the queue filled by RedisDispatcher. Each envelope is
// moved to a processing list while its handler runs and removed only once
// handled, so a crash never loses it.
type RedisConsumer struct {
	client      redis.UniversalClient
	queue       string
	processing  string
	dead        string
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	poll        time.Duration
	log         *zap.Logger
}

type ConsumerOption func(*RedisConsumer)

// WithRetry bounds redelivery. Envelopes failing maxAttempts times with a
// non-transient error go to the dead-letter list; transient failures
// (apperr.ErrUnavailable) retry without limit. Between failures the consumer
// pauses, doubling from minBackoff up to maxBackoff.
func WithRetry(maxAttempts int, minBackoff, maxBackoff time.Duration) ConsumerOption {
	return func(c *RedisConsumer) {
		c.maxAttempts = maxAttempts
		c.minBackoff = minBackoff
		c.maxBackoff = maxBackoff
	}
}

// WithPollTimeout sets how long one blocking read waits for an envelope.
func WithPollTimeout(d time.Duration) ConsumerOption {
	return func(c *RedisConsumer) { c.poll = d }
}

func NewRedisConsumer(client redis.UniversalClient, queue string, log *zap.Logger, opts ...ConsumerOption) *RedisConsumer {
	c := &RedisConsumer{
		client:      client,
		queue:       queue,
		processing:  queue + ":processing",
		dead:        queue + ":dead",
		maxAttempts: 10,
		minBackoff:  time.Second,
		maxBackoff:  time.Minute,
		poll:        5 * time.Second,
		log:         log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DeadLetterQueue names the list holding envelopes that were given up on.
func (c *RedisConsumer) DeadLetterQueue() string {
	return c.dead
}

// Consume calls handler for every queued envelope until ctx is done.
// Envelopes left in processing by a previous run are requeued first.
func (c *RedisConsumer) Consume(ctx context.Context, handler Handler) error {
	if err := c.requeueProcessing(ctx); err != nil {
		return err
	}

	var backoff time.Duration
	for ctx.Err() == nil {
		payload, err := c.client.BLMove(ctx, c.queue, c.processing, "RIGHT", "LEFT", c.poll).Result()
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			c.log.Warn("notification queue read failed", zap.Error(err))
			backoff = nextBackoff(backoff, c.minBackoff, c.maxBackoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			continue
		}

		if c.handle(ctx, payload, handler) {
			backoff = 0
			continue
		}
		backoff = nextBackoff(backoff, c.minBackoff, c.maxBackoff)
		if !sleep(ctx, backoff) {
			return nil
		}
	}
	return nil
}

// handle reports false when the envelope went back on the queue.
func (c *RedisConsumer) handle(ctx context.Context, payload string, handler Handler) bool {
	// acknowledgements must land even while shutting down
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		c.log.Error("failed to unmarshal notification, dead-lettering", zap.Error(err))
		c.move(ackCtx, payload, c.dead, payload)
		return true
	}
	log := c.log.With(zap.String("envelope_id", env.ID.String()), zap.String("user_id", env.UserID.String()))

	err := safeHandle(ctx, handler, env)
	if err == nil {
		if err := c.client.LRem(ackCtx, c.processing, 1, payload).Err(); err != nil {
			log.Warn("failed to acknowledge notification", zap.Error(err))
		}
		return true
	}

	if !errors.Is(err, apperr.ErrUnavailable) && ctx.Err() == nil {
		env.Attempts++
	}
	if env.Attempts >= c.maxAttempts {
		log.Error("notification failed too often, dead-lettering", zap.Int("attempts", env.Attempts), zap.Error(err))
		c.move(ackCtx, payload, c.dead, mustMarshal(env, payload))
		return true
	}
	log.Warn("notification delivery failed, requeued", zap.Int("attempts", env.Attempts), zap.Error(err))
	c.move(ackCtx, payload, c.queue, mustMarshal(env, payload))
	return false
}

// move swaps payload out of the processing list and pushes next onto the
// consumer end of dest, in one transaction.
func (c *RedisConsumer) move(ctx context.Context, payload, dest, next string) {
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, c.processing, 1, payload)
		p.RPush(ctx, dest, next)
		return nil
	})
	if err != nil {
		c.log.Error("failed to move notification", zap.String("to", dest), zap.Error(err))
	}
}

func (c *RedisConsumer) requeueProcessing(ctx context.Context) error {
	moved := 0
	for {
		err := c.client.LMove(ctx, c.processing, c.queue, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return fmt.Errorf("requeue in-flight notifications: %w", err)
		}
		moved++
	}
	if moved > 0 {
		c.log.Info("requeued in-flight notifications", zap.Int("count", moved))
	}
	return nil
}

func safeHandle(ctx context.Context, handler Handler, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notification handler panicked: %v", r)
		}
	}()
	return handler(ctx, env)
}

func mustMarshal(env Envelope, fallback string) string {
	data, err := json.Marshal(env)
	if err != nil {
		return fallback
	}
	return string(data)
}

func nextBackoff(cur, lo, hi time.Duration) time.Duration {
	if cur <= 0 {
		return lo
	}
	if cur*2 > hi {
		return hi
	}
	return cur * 2
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
