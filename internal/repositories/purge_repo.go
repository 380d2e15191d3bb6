package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/assetdesk/backend/internal/cascade"
	"github.com/assetdesk/backend/internal/db"
	"github.com/assetdesk/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PurgeCounts maps a table to the number of rows a purge touched in it.
type PurgeCounts map[string]int64

type purgeStep struct {
	table string
	sql   string
	args  func(userID uuid.UUID, now time.Time) []any
}

// Anonymization writes constant values only, so a step re-run on an already
// anonymized account leaves it unchanged.
var anonymizeSteps = []purgeStep{
	{"users", `
		UPDATE users SET
			email = $2, first_name = $3, last_name = $4,
			job_title = NULL, phone = NULL, avatar_url = NULL,
			notifications_enabled = false,
			anonymized_at = COALESCE(anonymized_at, $5)
		WHERE id = $1`,
		func(id uuid.UUID, now time.Time) []any {
			return []any{id, models.AnonymizedEmail(id), models.RedactedFirstName, models.RedactedLastName, now}
		}},
	{"push_subscriptions", `DELETE FROM push_subscriptions WHERE user_id = $1`, userOnly},
	{"notifications", `DELETE FROM notifications WHERE user_id = $1`, userOnly},
	{"beta_feedback", `DELETE FROM beta_feedback WHERE user_id = $1`, userOnly},
	{"reviews", `
		UPDATE reviews SET title = $2, pros = $2, cons = $2, comment = $2
		WHERE user_id = $1`, userAndToken},
	{"requests", `
		UPDATE requests SET justification = $2, comment = $2
		WHERE user_id = $1`, userAndToken},
	{"tasks", `UPDATE tasks SET assignee_id = NULL WHERE assignee_id = $1`, userOnly},
}

func userOnly(id uuid.UUID, _ time.Time) []any { return []any{id} }

func userAndToken(id uuid.UUID, _ time.Time) []any { return []any{id, models.RedactedText} }

type PurgeRepo struct {
	pool  *pgxpool.Pool
	order []cascade.Node
}

// NewPurgeRepo resolves the tenant deletion order once; a cyclic graph is a
// programming error reported here rather than at purge time.
func NewPurgeRepo(pool *pgxpool.Pool, graph *cascade.Graph) (*PurgeRepo, error) {
	order, err := graph.Order()
	if err != nil {
		return nil, err
	}
	return &PurgeRepo{pool: pool, order: order}, nil
}

// AnonymizeUser scrubs one account and its free-text traces. It must run
// inside the caller's transaction.
func (r *PurgeRepo) AnonymizeUser(ctx context.Context, userID uuid.UUID, now time.Time) (PurgeCounts, error) {
	q := db.Conn(ctx, r.pool)
	counts := make(PurgeCounts, len(anonymizeSteps))
	for _, s := range anonymizeSteps {
		tag, err := q.Exec(ctx, s.sql, s.args(userID, now)...)
		if err != nil {
			return nil, fmt.Errorf("anonymize %s: %w", s.table, err)
		}
		counts[s.table] = tag.RowsAffected()
	}
	return counts, nil
}

// PurgeTenant deletes every row the tenant owns, walking the cascade order.
func (r *PurgeRepo) PurgeTenant(ctx context.Context, tenantID uuid.UUID) (PurgeCounts, error) {
	q := db.Conn(ctx, r.pool)
	counts := make(PurgeCounts, len(r.order))
	for _, n := range r.order {
		sql := fmt.Sprintf(`DELETE FROM %s WHERE %s`, pgx.Identifier{n.Table}.Sanitize(), n.Where)
		tag, err := q.Exec(ctx, sql, tenantID)
		if err != nil {
			return nil, fmt.Errorf("purge %s: %w", n.Table, err)
		}
		counts[n.Table] = tag.RowsAffected()
	}
	return counts, nil
}

// Tables lists the tenant tables in deletion order.
func (r *PurgeRepo) Tables() []string {
	names := make([]string, len(r.order))
	for i, n := range r.order {
		names[i] = n.Table
	}
	return names
}
