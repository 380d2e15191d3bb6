package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/assetdesk/backend/internal/apperr"
	"github.com/assetdesk/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRejected marks a notification the delivery service refused for good.
var ErrRejected = errors.New("notification rejected")

// HTTPDispatcher posts envelopes to the delivery service's internal API.
type HTTPDispatcher struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewHTTPDispatcher(baseURL string, log *zap.Logger) *HTTPDispatcher {
	return &HTTPDispatcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

func (d *HTTPDispatcher) Enqueue(ctx context.Context, userID uuid.UUID, n models.Notification) error {
	return d.Forward(ctx, NewEnvelope(userID, n))
}

// Forward delivers an already built envelope. The notify bridge uses it to
// relay messages read from Redis.
func (d *HTTPDispatcher) Forward(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/internal/notify", d.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notification service: %w: %w", apperr.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		d.log.Warn("notification rejected", zap.Int("status", resp.StatusCode), zap.String("type", env.Notification.Type))
		cause := ErrRejected
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			cause = apperr.ErrUnavailable
		}
		return fmt.Errorf("notification service returned %d: %w: %s", resp.StatusCode, cause, string(b))
	}
	return nil
}
