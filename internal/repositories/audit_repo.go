package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/assetdesk/backend/internal/db"
	"github.com/assetdesk/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Insert appends one record. It joins the transaction carried by ctx, if any.
func (r *AuditRepo) Insert(ctx context.Context, rec *models.AuditRecord) error {
	var diff []byte
	if rec.Diff != nil {
		b, err := json.Marshal(rec.Diff)
		if err != nil {
			return fmt.Errorf("marshal audit diff: %w", err)
		}
		diff = b
	}

	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO audit_logs (tenant_id, actor_id, action, entity_type, entity_id, diff, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, rec.TenantID, rec.ActorID, rec.Action, rec.EntityType, rec.EntityID, diff, rec.SourceIP, rec.UserAgent,
	).Scan(&rec.ID, &rec.CreatedAt)
}

func (r *AuditRepo) Query(ctx context.Context, tenantID uuid.UUID, f models.AuditFilter) ([]models.AuditRecord, error) {
	f.Normalize()

	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ActorID != nil {
		add("actor_id = $%d", *f.ActorID)
	}
	if f.EntityType != nil {
		add("entity_type = $%d", *f.EntityType)
	}
	if f.EntityID != nil {
		add("entity_id = $%d", *f.EntityID)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}
	args = append(args, f.Limit, f.Offset)

	rows, err := db.Conn(ctx, r.pool).Query(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, actor_id, action, entity_type, entity_id, diff, ip, user_agent, created_at
		FROM audit_logs WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, strings.Join(conds, " AND "), len(args)-1, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.AuditRecord{}
	for rows.Next() {
		var rec models.AuditRecord
		var diff []byte
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.ActorID, &rec.Action, &rec.EntityType, &rec.EntityID,
			&diff, &rec.SourceIP, &rec.UserAgent, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if diff != nil {
			rec.Diff = json.RawMessage(diff)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteOlderThan removes records created before cutoff and returns how many went.
func (r *AuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
