package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/assetdesk/backend/internal/apperr"
	"github.com/assetdesk/backend/internal/models"
	"github.com/assetdesk/backend/internal/repositories"
	"github.com/google/uuid"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeAuditStore keeps records in memory. insertErr and insertPanic simulate
// a broken backend.
type fakeAuditStore struct {
	mu          sync.Mutex
	records     []models.AuditRecord
	insertErr   error
	insertPanic bool
	lastCtxErr  error
}

func (f *fakeAuditStore) Insert(ctx context.Context, rec *models.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCtxErr = ctx.Err()
	if f.insertPanic {
		panic("audit backend exploded")
	}
	if f.insertErr != nil {
		return f.insertErr
	}
	rec.ID = uuid.New()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeAuditStore) Query(_ context.Context, tenantID uuid.UUID, flt models.AuditFilter) ([]models.AuditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AuditRecord
	for _, r := range f.records {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	if flt.Limit < len(out) {
		out = out[:flt.Limit]
	}
	return out, nil
}

func (f *fakeAuditStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.records[:0]
	var n int64
	for _, r := range f.records {
		if r.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	f.records = kept
	return n, nil
}

func (f *fakeAuditStore) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.records))
	for i, r := range f.records {
		out[i] = r.Action
	}
	return out
}

func (f *fakeAuditStore) snapshot() []models.AuditRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AuditRecord(nil), f.records...)
}

func (f *fakeAuditStore) restore(recs []models.AuditRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = recs
}

// fakeQueue mirrors the deletion_queue table and its partial unique indexes.
type fakeQueue struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*models.DeletionEntry
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{entries: map[uuid.UUID]*models.DeletionEntry{}}
}

func (q *fakeQueue) CreatePending(_ context.Context, e *models.DeletionEntry) (*models.DeletionEntry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ex := range q.entries {
		if ex.Status != models.DeletionStatusPending {
			continue
		}
		sameUser := e.UserID != nil && ex.UserID != nil && *ex.UserID == *e.UserID
		sameTenant := e.UserID == nil && ex.UserID == nil && *ex.TenantID == *e.TenantID
		if sameUser || sameTenant {
			cp := *ex
			return &cp, false, nil
		}
	}
	cp := *e
	cp.ID = uuid.New()
	cp.Status = models.DeletionStatusPending
	q.entries[cp.ID] = &cp
	out := cp
	return &out, true, nil
}

func (q *fakeQueue) CancelPending(_ context.Context, userID uuid.UUID, now time.Time) (*models.DeletionEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.UserID != nil && *e.UserID == userID && e.Status == models.DeletionStatusPending {
			e.Status = models.DeletionStatusCanceled
			e.ResolvedAt = &now
			cp := *e
			return &cp, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (q *fakeQueue) LatestByUser(_ context.Context, userID uuid.UUID) (*models.DeletionEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var latest *models.DeletionEntry
	for _, e := range q.entries {
		if e.UserID != nil && *e.UserID == userID && (latest == nil || e.RequestedAt.After(latest.RequestedAt)) {
			latest = e
		}
	}
	if latest == nil {
		return nil, apperr.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (q *fakeQueue) ListDue(_ context.Context, now time.Time, limit int) ([]models.DeletionEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []models.DeletionEntry
	for _, e := range q.entries {
		if e.IsDue(now) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PurgeAfter.Before(out[j].PurgeAfter) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *fakeQueue) LockDue(_ context.Context, id uuid.UUID, now time.Time) (*models.DeletionEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok || !e.IsDue(now) {
		return nil, apperr.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (q *fakeQueue) MarkPurged(_ context.Context, id uuid.UUID, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok || e.Status != models.DeletionStatusPending {
		return apperr.ErrInvalidState
	}
	e.Status = models.DeletionStatusPurged
	e.ResolvedAt = &now
	e.LastError = nil
	return nil
}

func (q *fakeQueue) RecordFailure(_ context.Context, id uuid.UUID, msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[id]; ok && e.Status == models.DeletionStatusPending {
		e.Attempts++
		e.LastError = &msg
	}
	return nil
}

func (q *fakeQueue) DeleteResolvedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for id, e := range q.entries {
		if models.IsTerminalDeletionStatus(e.Status) && e.ResolvedAt != nil && e.ResolvedAt.Before(cutoff) {
			delete(q.entries, id)
			n++
		}
	}
	return n, nil
}

func (q *fakeQueue) get(id uuid.UUID) models.DeletionEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.entries[id]
}

func (q *fakeQueue) put(e models.DeletionEntry) uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	q.entries[e.ID] = &e
	return e.ID
}

func (q *fakeQueue) snapshot() map[uuid.UUID]models.DeletionEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[uuid.UUID]models.DeletionEntry, len(q.entries))
	for id, e := range q.entries {
		out[id] = *e
	}
	return out
}

func (q *fakeQueue) restore(s map[uuid.UUID]models.DeletionEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = make(map[uuid.UUID]*models.DeletionEntry, len(s))
	for id, e := range s {
		q.entries[id] = &e
	}
}

// fakeTx rolls the in-memory stores back when fn fails or panics.
type fakeTx struct {
	queue     *fakeQueue
	audit     *fakeAuditStore
	rollbacks int
}

func (t *fakeTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	qs, as := t.queue.snapshot(), t.audit.snapshot()
	defer func() {
		if r := recover(); r != nil {
			t.rollbacks++
			t.queue.restore(qs)
			t.audit.restore(as)
			panic(r)
		}
		if err != nil {
			t.rollbacks++
			t.queue.restore(qs)
			t.audit.restore(as)
		}
	}()
	return fn(ctx)
}

type fakePurger struct {
	mu         sync.Mutex
	anonymized []uuid.UUID
	purged     []uuid.UUID
	failFor    map[uuid.UUID]error
	panicFor   map[uuid.UUID]bool
}

func newFakePurger() *fakePurger {
	return &fakePurger{failFor: map[uuid.UUID]error{}, panicFor: map[uuid.UUID]bool{}}
}

func (p *fakePurger) AnonymizeUser(_ context.Context, userID uuid.UUID, _ time.Time) (repositories.PurgeCounts, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panicFor[userID] {
		panic("nil row")
	}
	if err := p.failFor[userID]; err != nil {
		return nil, err
	}
	p.anonymized = append(p.anonymized, userID)
	return repositories.PurgeCounts{"users": 1, "reviews": 2}, nil
}

func (p *fakePurger) PurgeTenant(_ context.Context, tenantID uuid.UUID) (repositories.PurgeCounts, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failFor[tenantID]; err != nil {
		return nil, err
	}
	p.purged = append(p.purged, tenantID)
	return repositories.PurgeCounts{"tenants": 1, "users": 3}, nil
}

type fakeUsers struct {
	users map[uuid.UUID]*models.User
}

func newFakeUsers(users ...*models.User) *fakeUsers {
	f := &fakeUsers{users: map[uuid.UUID]*models.User{}}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) GetInTenant(_ context.Context, tenantID, id uuid.UUID) (*models.User, error) {
	u, ok := f.users[id]
	if !ok || u.TenantID != tenantID {
		return nil, apperr.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

type fakeMarkers struct {
	mu       sync.Mutex
	keys     map[string]bool
	claimErr error
}

func newFakeMarkers() *fakeMarkers { return &fakeMarkers{keys: map[string]bool{}} }

func (m *fakeMarkers) Claim(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return false, m.claimErr
	}
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *fakeMarkers) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func (m *fakeMarkers) Touch(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = true
	return nil
}

func (m *fakeMarkers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

type fakeAlertStore struct {
	contracts   []models.ContractWithAdmins
	tasks       []models.OverdueTask
	rollups     []models.DigestRollup
	contractErr error
	taskCalls   int
}

func (f *fakeAlertStore) ListActiveContracts(_ context.Context, now time.Time, tenantID *uuid.UUID) ([]models.ContractWithAdmins, error) {
	if f.contractErr != nil {
		return nil, f.contractErr
	}
	var out []models.ContractWithAdmins
	for _, c := range f.contracts {
		if c.EndDate.After(now) && (tenantID == nil || c.TenantID == *tenantID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeAlertStore) ListOverdueTasks(_ context.Context, dayStart time.Time, tenantID *uuid.UUID) ([]models.OverdueTask, error) {
	f.taskCalls++
	var out []models.OverdueTask
	for _, t := range f.tasks {
		if tenantID == nil || t.TenantID == *tenantID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeAlertStore) DigestRollups(_ context.Context, _, _, _ time.Time, tenantID *uuid.UUID) ([]models.DigestRollup, error) {
	var out []models.DigestRollup
	for _, d := range f.rollups {
		if tenantID == nil || d.TenantID == *tenantID {
			out = append(out, d)
		}
	}
	return out, nil
}

var errBoom = errors.New("boom")
