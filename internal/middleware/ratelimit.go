package middleware

import (
	"fmt"
	"time"

	"github.com/assetdesk/backend/internal/http/dto"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimitMiddleware counts requests per path and client in fixed windows.
// Authenticated routes are keyed by user, public ones by IP.
func RateLimitMiddleware(rdb redis.UniversalClient, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		subject := c.IP()
		if userID := GetUserID(c); userID != uuid.Nil {
			subject = userID.String()
		}
		key := fmt.Sprintf("rl:%s:%s", c.Path(), subject)

		ctx := c.UserContext()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			return c.Next() // fail open
		}

		if count == 1 {
			rdb.Expire(ctx, key, window)
		}

		if count > int64(limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.ErrorResponse{
				Error:     "rate limit exceeded",
				RequestID: GetRequestID(c),
			})
		}

		return c.Next()
	}
}
