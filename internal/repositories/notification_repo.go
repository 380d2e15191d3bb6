package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/assetdesk/backend/internal/db"
	"github.com/assetdesk/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type NotificationRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationRepo(pool *pgxpool.Pool) *NotificationRepo {
	return &NotificationRepo{pool: pool}
}

// Create stores the in-app copy of a notification under id. Storing the same
// id twice keeps one row. Unknown or anonymized users are skipped and
// reported as false.
func (r *NotificationRepo) Create(ctx context.Context, id, userID uuid.UUID, n models.Notification) (bool, error) {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return false, err
	}
	var known bool
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		WITH recipient AS (
			SELECT tenant_id, id FROM users
			WHERE id = $2 AND anonymized_at IS NULL
		), stored AS (
			INSERT INTO notifications (id, tenant_id, user_id, type, payload)
			SELECT $1, tenant_id, id, $3::text, $4::jsonb FROM recipient
			ON CONFLICT (id) DO NOTHING
		)
		SELECT EXISTS (SELECT 1 FROM recipient)
	`, id, userID, n.Type, payload).Scan(&known)
	if err != nil {
		return false, err
	}
	return known, nil
}

// DeleteExpired removes read notifications created before readBefore and
// any notification created before anyBefore.
func (r *NotificationRepo) DeleteExpired(ctx context.Context, readBefore, anyBefore time.Time) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM notifications
		WHERE (read_at IS NOT NULL AND created_at < $1) OR created_at < $2
	`, readBefore, anyBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
