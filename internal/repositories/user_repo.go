package repositories

import (
	"context"
	"errors"

	"github.com/assetdesk/backend/internal/apperr"
	"github.com/assetdesk/backend/internal/db"
	"github.com/assetdesk/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, tenant_id, email, first_name, last_name, role, notifications_enabled, anonymized_at, created_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.TenantID, &u.Email, &u.FirstName, &u.LastName, &u.Role,
		&u.NotificationsEnabled, &u.AnonymizedAt, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetInTenant is GetByID restricted to one tenant.
func (r *UserRepo) GetInTenant(ctx context.Context, tenantID, id uuid.UUID) (*models.User, error) {
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.TenantID != tenantID {
		return nil, apperr.ErrNotFound
	}
	return u, nil
}
