package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/assetdesk/backend/internal/apperr"
	"github.com/assetdesk/backend/internal/db"
	"github.com/assetdesk/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const deletionColumns = `id, user_id, tenant_id, reason, status, purge_after, requested_at, resolved_at, attempts, last_error`

type DeletionRepo struct {
	pool *pgxpool.Pool
}

func NewDeletionRepo(pool *pgxpool.Pool) *DeletionRepo {
	return &DeletionRepo{pool: pool}
}

func scanDeletion(row pgx.Row) (*models.DeletionEntry, error) {
	var e models.DeletionEntry
	err := row.Scan(&e.ID, &e.UserID, &e.TenantID, &e.Reason, &e.Status, &e.PurgeAfter,
		&e.RequestedAt, &e.ResolvedAt, &e.Attempts, &e.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectDeletions(rows pgx.Rows) ([]models.DeletionEntry, error) {
	defer rows.Close()
	var entries []models.DeletionEntry
	for rows.Next() {
		e, err := scanDeletion(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// CreatePending inserts a PENDING entry unless one already exists for the same
// user (or, for tenant entries, the same tenant). created is false when the
// returned entry is the pre-existing one.
func (r *DeletionRepo) CreatePending(ctx context.Context, e *models.DeletionEntry) (entry *models.DeletionEntry, created bool, err error) {
	q := db.Conn(ctx, r.pool)
	entry, err = scanDeletion(q.QueryRow(ctx, `
		INSERT INTO deletion_queue (user_id, tenant_id, reason, status, purge_after, requested_at)
		VALUES ($1, $2, $3, 'PENDING', $4, $5)
		ON CONFLICT DO NOTHING
		RETURNING `+deletionColumns,
		e.UserID, e.TenantID, e.Reason, e.PurgeAfter, e.RequestedAt))
	if err == nil {
		return entry, true, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, false, err
	}

	if e.UserID != nil {
		entry, err = r.GetPendingByUser(ctx, *e.UserID)
	} else {
		entry, err = r.GetPendingByTenant(ctx, *e.TenantID)
	}
	if errors.Is(err, apperr.ErrNotFound) {
		// the conflicting row resolved between the two statements
		return nil, false, apperr.ErrConflict
	}
	return entry, false, err
}

func (r *DeletionRepo) GetPendingByUser(ctx context.Context, userID uuid.UUID) (*models.DeletionEntry, error) {
	return scanDeletion(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+deletionColumns+` FROM deletion_queue
		WHERE user_id = $1 AND status = 'PENDING'
	`, userID))
}

func (r *DeletionRepo) GetPendingByTenant(ctx context.Context, tenantID uuid.UUID) (*models.DeletionEntry, error) {
	return scanDeletion(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+deletionColumns+` FROM deletion_queue
		WHERE tenant_id = $1 AND user_id IS NULL AND status = 'PENDING'
	`, tenantID))
}

// LatestByUser returns the most recent entry for the user in any status.
func (r *DeletionRepo) LatestByUser(ctx context.Context, userID uuid.UUID) (*models.DeletionEntry, error) {
	return scanDeletion(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+deletionColumns+` FROM deletion_queue
		WHERE user_id = $1
		ORDER BY requested_at DESC LIMIT 1
	`, userID))
}

// CancelPending moves the user's PENDING entry to CANCELED. ErrNotFound when
// there is none, including when it was already canceled.
func (r *DeletionRepo) CancelPending(ctx context.Context, userID uuid.UUID, now time.Time) (*models.DeletionEntry, error) {
	return scanDeletion(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE deletion_queue SET status = 'CANCELED', resolved_at = $2
		WHERE user_id = $1 AND status = 'PENDING'
		RETURNING `+deletionColumns,
		userID, now))
}

// ListDue returns PENDING entries whose grace period ended, oldest first.
func (r *DeletionRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]models.DeletionEntry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+deletionColumns+` FROM deletion_queue
		WHERE status = 'PENDING' AND purge_after <= $1
		ORDER BY purge_after, id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectDeletions(rows)
}

// LockDue re-reads a due entry with a row lock inside the caller's
// transaction. Entries held by another worker, or no longer PENDING, yield
// ErrNotFound.
func (r *DeletionRepo) LockDue(ctx context.Context, id uuid.UUID, now time.Time) (*models.DeletionEntry, error) {
	return scanDeletion(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+deletionColumns+` FROM deletion_queue
		WHERE id = $1 AND status = 'PENDING' AND purge_after <= $2
		FOR UPDATE SKIP LOCKED
	`, id, now))
}

func (r *DeletionRepo) MarkPurged(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE deletion_queue SET status = 'PURGED', resolved_at = $2, last_error = NULL
		WHERE id = $1 AND status = 'PENDING'
	`, id, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrInvalidState
	}
	return nil
}

// RecordFailure bumps the attempt counter of an entry that stays PENDING.
func (r *DeletionRepo) RecordFailure(ctx context.Context, id uuid.UUID, msg string) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE deletion_queue SET attempts = attempts + 1, last_error = $2
		WHERE id = $1 AND status = 'PENDING'
	`, id, msg)
	return err
}

// DeleteResolvedBefore removes terminal entries resolved before cutoff.
func (r *DeletionRepo) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM deletion_queue
		WHERE status IN ('PURGED', 'CANCELED') AND resolved_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
