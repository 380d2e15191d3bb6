package repositories

import (
	"context"
	"time"

	"github.com/assetdesk/backend/internal/db"
	"github.com/assetdesk/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AlertRepo loads the read models behind scheduled alerts. A nil tenantID
// scans every tenant; force-send passes the caller's tenant.
type AlertRepo struct {
	pool *pgxpool.Pool
}

func NewAlertRepo(pool *pgxpool.Pool) *AlertRepo {
	return &AlertRepo{pool: pool}
}

func (r *AlertRepo) ListActiveContracts(ctx context.Context, now time.Time, tenantID *uuid.UUID) ([]models.ContractWithAdmins, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT c.id, e.tenant_id, c.entity_id, e.name, c.end_date, c.notice_days,
		       c.amount::float8, c.currency, s.contract_notice_days
		FROM contracts c
		JOIN entities e ON e.id = c.entity_id
		LEFT JOIN alert_settings s ON s.tenant_id = e.tenant_id
		WHERE c.status = 'ACTIVE' AND c.end_date > $1
		  AND ($2::uuid IS NULL OR e.tenant_id = $2)
		ORDER BY c.end_date, c.id
	`, now, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contracts []models.ContractWithAdmins
	tenants := map[uuid.UUID]bool{}
	for rows.Next() {
		var c models.ContractWithAdmins
		if err := rows.Scan(&c.ID, &c.TenantID, &c.EntityID, &c.EntityName, &c.EndDate, &c.NoticeDays,
			&c.Amount, &c.Currency, &c.TenantNoticeDays); err != nil {
			return nil, err
		}
		tenants[c.TenantID] = true
		contracts = append(contracts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(contracts) == 0 {
		return nil, nil
	}

	admins, err := r.NotifiableAdmins(ctx, keys(tenants))
	if err != nil {
		return nil, err
	}
	for i := range contracts {
		contracts[i].Admins = admins[contracts[i].TenantID]
	}
	return contracts, nil
}

// NotifiableAdmins returns, per tenant, the admins that accept notifications
// and are not anonymized.
func (r *AlertRepo) NotifiableAdmins(ctx context.Context, tenantIDs []uuid.UUID) (map[uuid.UUID][]models.Recipient, error) {
	ids := make([]string, len(tenantIDs))
	for i, id := range tenantIDs {
		ids[i] = id.String()
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, tenant_id, email, first_name FROM users
		WHERE tenant_id = ANY($1::uuid[]) AND role = $2
		  AND notifications_enabled AND anonymized_at IS NULL
		ORDER BY created_at, id
	`, ids, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]models.Recipient, len(tenantIDs))
	for rows.Next() {
		var rc models.Recipient
		var tenantID uuid.UUID
		if err := rows.Scan(&rc.UserID, &tenantID, &rc.Email, &rc.FirstName); err != nil {
			return nil, err
		}
		out[tenantID] = append(out[tenantID], rc)
	}
	return out, rows.Err()
}

// ListOverdueTasks returns open tasks due strictly before dayStart. Assignee
// is set only when it exists and accepts notifications.
func (r *AlertRepo) ListOverdueTasks(ctx context.Context, dayStart time.Time, tenantID *uuid.UUID) ([]models.OverdueTask, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT t.id, t.tenant_id, t.project_id, p.name, t.title, t.due_date, t.done, t.assignee_id,
		       u.id, u.email, u.first_name, u.notifications_enabled, u.anonymized_at
		FROM tasks t
		JOIN purchase_projects p ON p.id = t.project_id
		LEFT JOIN users u ON u.id = t.assignee_id
		WHERE NOT t.done AND t.due_date IS NOT NULL AND t.due_date < $1
		  AND ($2::uuid IS NULL OR t.tenant_id = $2)
		ORDER BY t.due_date, t.id
	`, dayStart, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []models.OverdueTask
	for rows.Next() {
		var t models.OverdueTask
		var (
			userID       *uuid.UUID
			email        *string
			firstName    *string
			enabled      *bool
			anonymizedAt *time.Time
		)
		if err := rows.Scan(&t.ID, &t.TenantID, &t.ProjectID, &t.ProjectName, &t.Title, &t.DueDate, &t.Done,
			&t.AssigneeID, &userID, &email, &firstName, &enabled, &anonymizedAt); err != nil {
			return nil, err
		}
		if userID != nil && email != nil && enabled != nil && *enabled && anonymizedAt == nil {
			t.Assignee = &models.Recipient{UserID: *userID, Email: *email, FirstName: firstName}
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// DigestRollups aggregates the weekly figures of every tenant with digests
// enabled. Contracts ending in (now, horizon] count as expiring.
func (r *AlertRepo) DigestRollups(ctx context.Context, now, horizon, dayStart time.Time, tenantID *uuid.UUID) ([]models.DigestRollup, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT t.id,
		       (SELECT count(*) FROM contracts c JOIN entities e ON e.id = c.entity_id
		         WHERE e.tenant_id = t.id AND c.status = 'ACTIVE' AND c.end_date > $1 AND c.end_date <= $2),
		       (SELECT count(*) FROM contracts c JOIN entities e ON e.id = c.entity_id
		         WHERE e.tenant_id = t.id AND c.status = 'ACTIVE' AND c.end_date > $1),
		       (SELECT COALESCE(sum(c.amount), 0)::float8 FROM contracts c JOIN entities e ON e.id = c.entity_id
		         WHERE e.tenant_id = t.id AND c.status = 'ACTIVE' AND c.end_date > $1),
		       (SELECT count(*) FROM requests q WHERE q.tenant_id = t.id AND q.status = 'OPEN'),
		       (SELECT count(*) FROM tasks k WHERE k.tenant_id = t.id AND NOT k.done),
		       (SELECT count(*) FROM tasks k WHERE k.tenant_id = t.id AND NOT k.done AND k.due_date < $3)
		FROM tenants t
		LEFT JOIN alert_settings s ON s.tenant_id = t.id
		WHERE COALESCE(s.digest_enabled, true)
		  AND ($4::uuid IS NULL OR t.id = $4)
		ORDER BY t.id
	`, now, horizon, dayStart, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rollups []models.DigestRollup
	for rows.Next() {
		var d models.DigestRollup
		if err := rows.Scan(&d.TenantID, &d.ExpiringContracts, &d.ActiveContracts, &d.AnnualSpend,
			&d.OpenRequests, &d.OpenTasks, &d.OverdueTasks); err != nil {
			return nil, err
		}
		rollups = append(rollups, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rollups) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(rollups))
	for i, d := range rollups {
		ids[i] = d.TenantID
	}
	admins, err := r.NotifiableAdmins(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range rollups {
		rollups[i].Recipients = admins[rollups[i].TenantID]
	}
	return rollups, nil
}

func keys(m map[uuid.UUID]bool) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
