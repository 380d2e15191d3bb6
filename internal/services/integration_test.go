//go:build integration

package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/assetdesk/backend/internal/apperr"
	"github.com/assetdesk/backend/internal/cascade"
	"github.com/assetdesk/backend/internal/config"
	"github.com/assetdesk/backend/internal/db"
	"github.com/assetdesk/backend/internal/models"
	"github.com/assetdesk/backend/internal/notify"
	"github.com/assetdesk/backend/internal/repositories"
	"github.com/assetdesk/backend/internal/testutil/containers"
	"github.com/assetdesk/backend/migrations"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []uuid.UUID
}

func (d *recordingDispatcher) Enqueue(_ context.Context, userID uuid.UUID, _ models.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, userID)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type IntegrationSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	redis *containers.RedisContainer
	pool  *pgxpool.Pool
	ctx   context.Context

	clock    *fakeClock
	cfg      *config.Config
	audit    *AuditService
	erasure  *ErasureService
	alerts   *AlertService
	recorder *recordingDispatcher
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationSuite))
}

func (s *IntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.pg = containers.NewPostgresContainer(s.T())
	s.redis = containers.NewRedisContainer(s.T())
	s.pool = s.pg.Pool
}

func (s *IntegrationSuite) SetupTest() {
	s.Require().NoError(s.pg.Truncate(s.ctx))
	s.Require().NoError(s.redis.FlushAll(s.ctx))

	s.clock = newFakeClock(time.Date(2026, 10, 16, 6, 0, 0, 0, time.UTC))
	s.cfg = &config.Config{
		ErasureGracePeriod: models.ErasureGracePeriod,
		DefaultNoticeDays:  30,
		DigestHorizonDays:  30,
		Location:           time.UTC,
	}
	s.erasure, s.audit = s.newErasureService()

	s.recorder = &recordingDispatcher{}
	s.alerts = NewAlertService(
		repositories.NewAlertRepo(s.pool),
		repositories.NewAlertMarkers(s.redis.Client, 36*time.Hour),
		s.recorder,
		repositories.NewUserRepo(s.pool),
		s.audit, s.cfg, zap.NewNop(), WithClock(s.clock.Now),
	)
}

func (s *IntegrationSuite) newErasureService() (*ErasureService, *AuditService) {
	purger, err := repositories.NewPurgeRepo(s.pool, cascade.TenantGraph())
	s.Require().NoError(err)
	audit := NewAuditService(repositories.NewAuditRepo(s.pool), zap.NewNop(), WithClock(s.clock.Now))
	svc := NewErasureService(
		repositories.NewDeletionRepo(s.pool), purger, repositories.NewUserRepo(s.pool),
		db.NewTxRunner(s.pool), audit, s.cfg, zap.NewNop(), WithClock(s.clock.Now),
	)
	return svc, audit
}

func (s *IntegrationSuite) id(sql string, args ...any) uuid.UUID {
	var id uuid.UUID
	s.Require().NoError(s.pool.QueryRow(s.ctx, sql, args...).Scan(&id))
	return id
}

func (s *IntegrationSuite) count(sql string, args ...any) int {
	var n int
	s.Require().NoError(s.pool.QueryRow(s.ctx, sql, args...).Scan(&n))
	return n
}

type seeded struct {
	tenant, admin, member, entity, contract, project, task, request uuid.UUID
}

// seedTenant fills every table of the tenant graph with at least one row.
func (s *IntegrationSuite) seedTenant(name string) seeded {
	var d seeded
	d.tenant = s.id(`INSERT INTO tenants (name) VALUES ($1) RETURNING id`, name)
	d.admin = s.id(`INSERT INTO users (tenant_id, email, first_name, last_name, role) VALUES ($1, $2, 'Ada', 'Admin', 'ADMIN') RETURNING id`,
		d.tenant, name+"-admin@example.com")
	d.member = s.id(`INSERT INTO users (tenant_id, email, first_name, last_name, job_title, phone) VALUES ($1, $2, 'Mia', 'Member', 'Buyer', '+33100000000') RETURNING id`,
		d.tenant, name+"-member@example.com")
	d.entity = s.id(`INSERT INTO entities (tenant_id, name, vendor) VALUES ($1, 'CRM', 'Acme') RETURNING id`, d.tenant)
	s.id(`INSERT INTO departments (entity_id, name) VALUES ($1, 'Sales') RETURNING id`, d.entity)
	d.contract = s.id(`INSERT INTO contracts (entity_id, end_date, amount) VALUES ($1, $2, 1200) RETURNING id`,
		d.entity, s.clock.Now().AddDate(0, 0, 10))
	s.id(`INSERT INTO integration_settings (tenant_id, provider) VALUES ($1, 'slack') RETURNING id`, d.tenant)
	s.id(`INSERT INTO integration_events (tenant_id, kind) VALUES ($1, 'sync') RETURNING id`, d.tenant)
	s.id(`INSERT INTO alert_settings (tenant_id, contract_notice_days) VALUES ($1, 30) RETURNING tenant_id`, d.tenant)
	d.project = s.id(`INSERT INTO purchase_projects (tenant_id, owner_id, name) VALUES ($1, $2, 'Renewal') RETURNING id`, d.tenant, d.admin)
	d.task = s.id(`INSERT INTO tasks (tenant_id, project_id, assignee_id, title, due_date) VALUES ($1, $2, $3, 'Compare offers', $4) RETURNING id`,
		d.tenant, d.project, d.member, s.clock.Now().AddDate(0, 0, -2))
	d.request = s.id(`INSERT INTO requests (tenant_id, user_id, entity_id, justification, comment) VALUES ($1, $2, $3, 'need it', 'asap') RETURNING id`,
		d.tenant, d.member, d.entity)
	s.id(`INSERT INTO votes (tenant_id, request_id, user_id) VALUES ($1, $2, $3) RETURNING id`, d.tenant, d.request, d.admin)
	s.id(`INSERT INTO reviews (tenant_id, user_id, entity_id, rating, title, pros, cons, comment) VALUES ($1, $2, $3, 4, 'Good', 'fast', 'pricey', 'by Mia') RETURNING id`,
		d.tenant, d.member, d.entity)
	s.id(`INSERT INTO economy_items (tenant_id, user_id, kind, amount) VALUES ($1, $2, 'saving', 50) RETURNING id`, d.tenant, d.member)
	s.id(`INSERT INTO import_batches (tenant_id, user_id, source) VALUES ($1, $2, 'csv') RETURNING id`, d.tenant, d.admin)
	s.id(`INSERT INTO beta_feedback (tenant_id, user_id, message) VALUES ($1, $2, 'love it') RETURNING id`, d.tenant, d.member)
	s.id(`INSERT INTO notifications (tenant_id, user_id, type) VALUES ($1, $2, 'SYSTEM') RETURNING id`, d.tenant, d.member)
	s.id(`INSERT INTO push_subscriptions (user_id, endpoint) VALUES ($1, 'https://push.example/1') RETURNING id`, d.member)
	s.id(`INSERT INTO user_badges (user_id, badge) VALUES ($1, 'reviewer') RETURNING id`, d.member)
	s.id(`INSERT INTO usage_records (user_id, entity_id) VALUES ($1, $2) RETURNING id`, d.member, d.entity)
	s.id(`INSERT INTO audit_logs (tenant_id, actor_id, action, entity_type) VALUES ($1, $2, 'LOGIN', 'user') RETURNING id`, d.tenant, d.member)
	return d
}

func (s *IntegrationSuite) TestMigrationsAreIdempotent() {
	s.NoError(db.RunMigrations(s.ctx, s.pool, migrations.FS, zap.NewNop()))
	s.Equal(1, s.count(`SELECT count(*) FROM schema_migrations`))
}

func (s *IntegrationSuite) TestConcurrentMigrationsOnFreshDatabase() {
	_, err := s.pool.Exec(s.ctx, `CREATE DATABASE migrate_race`)
	s.Require().NoError(err)
	defer func() {
		_, _ = s.pool.Exec(s.ctx, `DROP DATABASE IF EXISTS migrate_race WITH (FORCE)`)
	}()

	cfg, err := pgxpool.ParseConfig(s.pg.DSN)
	s.Require().NoError(err)
	cfg.ConnConfig.Database = "migrate_race"
	fresh, err := pgxpool.NewWithConfig(s.ctx, cfg)
	s.Require().NoError(err)
	defer fresh.Close()

	// api and worker booting together
	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- db.RunMigrations(s.ctx, fresh, migrations.FS, zap.NewNop())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}

	var n int
	s.Require().NoError(fresh.QueryRow(s.ctx, `SELECT count(*) FROM schema_migrations`).Scan(&n))
	s.Equal(1, n)
}

func (s *IntegrationSuite) TestUserErasureLifecycle() {
	a := s.seedTenant("acme")
	b := s.seedTenant("globex")

	entry, err := s.erasure.RequestErasure(s.ctx, a.member, a.tenant, "leaving")
	s.Require().NoError(err)

	_, err = s.erasure.RequestErasure(s.ctx, a.member, a.tenant, "again")
	var pending *apperr.ErasurePendingError
	s.Require().True(errors.As(err, &pending))
	s.Equal(entry.PurgeAfter.UTC(), pending.PurgeAfter.UTC())

	report, err := s.erasure.PurgeTick(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, report.Due)

	s.clock.Advance(models.ErasureGracePeriod + time.Hour)
	report, err = s.erasure.PurgeTick(s.ctx)
	s.Require().NoError(err)
	s.Equal(PurgeReport{Due: 1, Purged: 1}, report)

	var email, first, last string
	var jobTitle *string
	var anonymizedAt *time.Time
	s.Require().NoError(s.pool.QueryRow(s.ctx,
		`SELECT email, first_name, last_name, job_title, anonymized_at FROM users WHERE id = $1`, a.member,
	).Scan(&email, &first, &last, &jobTitle, &anonymizedAt))
	s.Equal(models.AnonymizedEmail(a.member), email)
	s.Equal(models.RedactedFirstName, first)
	s.Equal(models.RedactedLastName, last)
	s.Nil(jobTitle)
	s.NotNil(anonymizedAt)

	s.Equal(1, s.count(`SELECT count(*) FROM reviews WHERE user_id = $1 AND comment = $2 AND rating = 4`, a.member, models.RedactedText))
	s.Equal(1, s.count(`SELECT count(*) FROM requests WHERE user_id = $1 AND justification = $2`, a.member, models.RedactedText))
	s.Equal(0, s.count(`SELECT count(*) FROM notifications WHERE user_id = $1`, a.member))
	s.Equal(0, s.count(`SELECT count(*) FROM push_subscriptions WHERE user_id = $1`, a.member))
	s.Equal(0, s.count(`SELECT count(*) FROM tasks WHERE assignee_id = $1`, a.member))
	s.Equal(1, s.count(`SELECT count(*) FROM audit_logs WHERE actor_id = $1 AND action = 'LOGIN'`, a.member))
	s.Equal(1, s.count(`SELECT count(*) FROM audit_logs WHERE tenant_id = $1 AND action = $2 AND entity_id = $3`,
		a.tenant, models.AuditAccountPurged, a.member))

	// untouched neighbours
	s.Equal(1, s.count(`SELECT count(*) FROM users WHERE id = $1 AND anonymized_at IS NULL`, a.admin))
	s.Equal(1, s.count(`SELECT count(*) FROM notifications WHERE user_id = $1`, b.member))
	s.Equal(1, s.count(`SELECT count(*) FROM reviews WHERE user_id = $1 AND comment = 'by Mia'`, b.member))

	status, err := s.erasure.GetErasureStatus(s.ctx, a.member)
	s.Require().NoError(err)
	s.Equal(models.DeletionStatusPurged, status.Status)
	s.NotNil(status.ResolvedAt)

	report, err = s.erasure.PurgeTick(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, report.Due)

	_, err = s.erasure.RequestErasure(s.ctx, a.member, a.tenant, "")
	s.ErrorIs(err, apperr.ErrInvalidState)
}

func (s *IntegrationSuite) TestCancelThenRequestAgain() {
	a := s.seedTenant("acme")

	_, err := s.erasure.RequestErasure(s.ctx, a.member, a.tenant, "")
	s.Require().NoError(err)

	canceled, err := s.erasure.CancelErasure(s.ctx, a.member)
	s.Require().NoError(err)
	s.Equal(models.DeletionStatusCanceled, canceled.Status)

	_, err = s.erasure.CancelErasure(s.ctx, a.member)
	s.ErrorIs(err, ErrNoPendingErasure)

	s.clock.Advance(time.Minute)
	again, err := s.erasure.RequestErasure(s.ctx, a.member, a.tenant, "changed my mind twice")
	s.Require().NoError(err)
	s.NotEqual(canceled.ID, again.ID)

	s.clock.Advance(models.ErasureGracePeriod + time.Hour)
	report, err := s.erasure.PurgeTick(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, report.Purged)
	s.Equal(1, s.count(`SELECT count(*) FROM deletion_queue WHERE user_id = $1 AND status = 'CANCELED'`, a.member))
}

func (s *IntegrationSuite) TestAtMostOnePendingRequestUnderRace() {
	a := s.seedTenant("acme")

	const attempts = 10
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.erasure.RequestErasure(s.ctx, a.member, a.tenant, "")
		}()
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		s.ErrorIs(err, apperr.ErrConflict)
	}
	s.Equal(1, created)
	s.Equal(1, s.count(`SELECT count(*) FROM deletion_queue WHERE user_id = $1 AND status = 'PENDING'`, a.member))
}

func (s *IntegrationSuite) TestTenantErasureCascade() {
	a := s.seedTenant("acme")
	b := s.seedTenant("globex")

	_, err := s.erasure.RequestTenantErasure(s.ctx, a.tenant, a.admin, "closing account")
	s.Require().NoError(err)

	s.clock.Advance(models.ErasureGracePeriod + time.Hour)
	report, err := s.erasure.PurgeTick(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(PurgeReport{Due: 1, Purged: 1}, report)

	s.Equal(0, s.count(`SELECT count(*) FROM tenants WHERE id = $1`, a.tenant))
	s.Equal(0, s.count(`SELECT count(*) FROM users WHERE tenant_id = $1`, a.tenant))
	s.Equal(0, s.count(`SELECT count(*) FROM entities WHERE tenant_id = $1`, a.tenant))
	s.Equal(0, s.count(`SELECT count(*) FROM contracts WHERE id = $1`, a.contract))
	s.Equal(0, s.count(`SELECT count(*) FROM tasks WHERE id = $1`, a.task))
	s.Equal(0, s.count(`SELECT count(*) FROM push_subscriptions WHERE user_id = $1`, a.member))

	// only the purge record itself survives
	s.Equal(1, s.count(`SELECT count(*) FROM audit_logs WHERE tenant_id = $1`, a.tenant))
	s.Equal(1, s.count(`SELECT count(*) FROM audit_logs WHERE tenant_id = $1 AND action = $2`, a.tenant, models.AuditTenantPurged))
	s.Equal(1, s.count(`SELECT count(*) FROM deletion_queue WHERE tenant_id = $1 AND status = 'PURGED'`, a.tenant))

	for _, table := range []string{"users", "entities", "notifications", "reviews", "audit_logs"} {
		s.Positive(s.count(`SELECT count(*) FROM `+table+` WHERE tenant_id = $1`, b.tenant), table)
	}
	s.Equal(1, s.count(`SELECT count(*) FROM usage_records WHERE user_id = $1`, b.member))
}

func (s *IntegrationSuite) TestConcurrentPurgeTicksPurgeEachEntryOnce() {
	a := s.seedTenant("acme")

	users := make([]uuid.UUID, 5)
	for i := range users {
		users[i] = s.id(`INSERT INTO users (tenant_id, email) VALUES ($1, $2) RETURNING id`, a.tenant, uuid.NewString()+"@example.com")
		_, err := s.erasure.RequestErasure(s.ctx, users[i], a.tenant, "")
		s.Require().NoError(err)
	}
	s.clock.Advance(models.ErasureGracePeriod + time.Hour)

	other, _ := s.newErasureService()
	var wg sync.WaitGroup
	reports := make([]PurgeReport, 2)
	for i, svc := range []*ErasureService{s.erasure, other} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := svc.PurgeTick(s.ctx)
			s.NoError(err)
			reports[i] = r
		}()
	}
	wg.Wait()

	s.Equal(5, reports[0].Purged+reports[1].Purged)
	s.Zero(reports[0].Failed + reports[1].Failed)
	s.Equal(5, s.count(`SELECT count(*) FROM audit_logs WHERE action = $1`, models.AuditAccountPurged))
}

func (s *IntegrationSuite) TestSweepsAreIdempotent() {
	a := s.seedTenant("acme")
	now := s.clock.Now()

	s.id(`INSERT INTO audit_logs (tenant_id, action, entity_type, created_at) VALUES ($1, 'LOGIN', 'user', $2) RETURNING id`,
		a.tenant, now.Add(-models.AuditRetention-time.Hour))
	s.id(`INSERT INTO deletion_queue (user_id, tenant_id, status, purge_after, resolved_at) VALUES ($1, $2, 'PURGED', $3, $3) RETURNING id`,
		a.member, a.tenant, now.Add(-models.ResolvedEntryRetention-time.Hour))
	s.id(`INSERT INTO deletion_queue (user_id, tenant_id, status, purge_after, resolved_at) VALUES ($1, $2, 'CANCELED', $3, $3) RETURNING id`,
		a.admin, a.tenant, now.Add(-time.Hour))

	n, err := s.audit.RetentionSweep(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(1, n)
	n, err = s.audit.RetentionSweep(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)

	n, err = s.erasure.SweepResolved(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(1, n)
	n, err = s.erasure.SweepResolved(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
	s.Equal(1, s.count(`SELECT count(*) FROM deletion_queue`))
}

func (s *IntegrationSuite) TestAuditQueryIsTenantScoped() {
	a := s.seedTenant("acme")
	b := s.seedTenant("globex")

	s.audit.Record(s.ctx, models.AuditRecord{
		TenantID: a.tenant, ActorID: &a.admin, Action: models.AuditContractUpdated,
		EntityType: models.EntityContract, EntityID: &a.contract, Diff: map[string]any{"amount": 1300},
	})

	recs, err := s.audit.Query(s.ctx, a.tenant, models.AuditFilter{EntityType: strPtr(models.EntityContract)})
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.Equal(a.contract, *recs[0].EntityID)
	s.JSONEq(`{"amount": 1300}`, string(recs[0].Diff.(json.RawMessage)))

	recs, err = s.audit.Query(s.ctx, b.tenant, models.AuditFilter{EntityType: strPtr(models.EntityContract)})
	s.Require().NoError(err)
	s.Empty(recs)
}

func (s *IntegrationSuite) TestContractAlertsDeduplicatedThroughRedis() {
	a := s.seedTenant("acme")

	report, err := s.alerts.RunContractAlerts(s.ctx, AlertOptions{})
	s.Require().NoError(err)
	s.Equal(1, report.Dispatched)
	s.Equal([]uuid.UUID{a.admin}, s.recorder.sent)

	report, err = s.alerts.RunContractAlerts(s.ctx, AlertOptions{})
	s.Require().NoError(err)
	s.Equal(0, report.Dispatched)
	s.Equal(1, report.Skipped)

	report, err = s.alerts.ForceContractAlerts(s.ctx, a.tenant, a.admin)
	s.Require().NoError(err)
	s.Equal(1, report.Dispatched)
	s.Equal(2, s.recorder.count())
	s.Equal(1, s.count(`SELECT count(*) FROM audit_logs WHERE tenant_id = $1 AND action = $2`, a.tenant, models.AuditAlertsForceSent))

	s.clock.Advance(24 * time.Hour)
	report, err = s.alerts.RunContractAlerts(s.ctx, AlertOptions{})
	s.Require().NoError(err)
	s.Equal(1, report.Dispatched)
}

func (s *IntegrationSuite) TestWeeklyDigestRollups() {
	a := s.seedTenant("acme")
	s.seedTenant("globex")

	report, err := s.alerts.RunWeeklyDigest(s.ctx, DigestScope{})
	s.Require().NoError(err)
	s.Equal(2, report.Evaluated)
	s.Equal(2, report.Dispatched)

	report, err = s.alerts.RunWeeklyDigest(s.ctx, DigestScope{})
	s.Require().NoError(err)
	s.Equal(2, report.Skipped)

	report, err = s.alerts.ForceDigest(s.ctx, a.tenant, a.admin, &a.member)
	s.Require().NoError(err)
	s.Equal(1, report.Dispatched)
	s.Equal(a.member, s.recorder.sent[len(s.recorder.sent)-1])
}

func (s *IntegrationSuite) TestOverdueTasksSkipErasedAssignee() {
	a := s.seedTenant("acme")

	report, err := s.alerts.RunOverdueTasks(s.ctx, AlertOptions{})
	s.Require().NoError(err)
	s.Equal(1, report.Dispatched)
	s.Equal([]uuid.UUID{a.member}, s.recorder.sent)

	_, err = s.erasure.RequestErasure(s.ctx, a.member, a.tenant, "")
	s.Require().NoError(err)
	s.clock.Advance(models.ErasureGracePeriod + time.Hour)
	_, err = s.erasure.PurgeTick(s.ctx)
	s.Require().NoError(err)
	s.Require().NoError(s.redis.FlushAll(s.ctx))

	// the task lost its assignee, so nobody is notified for it
	report, err = s.alerts.RunOverdueTasks(s.ctx, AlertOptions{})
	s.Require().NoError(err)
	s.Zero(report.Dispatched)
	s.Equal(1, s.recorder.count())
}

func (s *IntegrationSuite) TestRedisTransportSurvivesStoppedBridge() {
	a := s.seedTenant("acme")
	const queue = "test:notifications"

	alerts := NewAlertService(
		repositories.NewAlertRepo(s.pool),
		repositories.NewAlertMarkers(s.redis.Client, 36*time.Hour),
		notify.NewRedisDispatcher(s.redis.Client, queue),
		repositories.NewUserRepo(s.pool),
		s.audit, s.cfg, zap.NewNop(), WithClock(s.clock.Now),
	)

	// no bridge consumes the queue yet
	report, err := alerts.RunContractAlerts(s.ctx, AlertOptions{})
	s.Require().NoError(err)
	s.Equal(1, report.Dispatched)
	s.Equal(int64(1), s.redis.Client.LLen(s.ctx, queue).Val())

	notifications := NewNotificationService(repositories.NewNotificationRepo(s.pool), nil, zap.NewNop())
	consumer := notify.NewRedisConsumer(s.redis.Client, queue, zap.NewNop(), notify.WithPollTimeout(100*time.Millisecond))

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- consumer.Consume(ctx, notifications.Deliver) }()

	s.Eventually(func() bool {
		return s.count(`SELECT count(*) FROM notifications WHERE user_id = $1 AND type = $2`,
			a.admin, models.NotificationAlertContract) == 1
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	s.NoError(<-done)
	s.Zero(s.redis.Client.LLen(s.ctx, queue).Val())
	s.Zero(s.redis.Client.LLen(s.ctx, queue+":processing").Val())
}

func (s *IntegrationSuite) TestRedeliveredEnvelopeIsStoredOnce() {
	a := s.seedTenant("acme")
	notifications := NewNotificationService(repositories.NewNotificationRepo(s.pool), nil, zap.NewNop())
	env := notify.NewEnvelope(a.admin, models.Notification{Type: models.NotificationSystem})

	s.Require().NoError(notifications.Deliver(s.ctx, env))
	s.Require().NoError(notifications.Deliver(s.ctx, env))
	s.Equal(1, s.count(`SELECT count(*) FROM notifications WHERE id = $1`, env.ID))

	stranger := notify.NewEnvelope(uuid.New(), models.Notification{Type: models.NotificationSystem})
	s.Require().NoError(notifications.Deliver(s.ctx, stranger))
	s.Zero(s.count(`SELECT count(*) FROM notifications WHERE id = $1`, stranger.ID))
}

func strPtr(v string) *string { return &v }
