// Package scheduler runs named jobs on time triggers. Each job has its own
// goroutine; a job never overlaps itself.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/assetdesk/backend/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrJobRunning = errors.New("job already running")
	ErrUnknownJob = errors.New("unknown job")
)

type Handler func(ctx context.Context) error

type Job struct {
	Name    string
	Trigger Trigger
	Handler Handler
}

type entry struct {
	Job
	mu sync.Mutex
}

type Scheduler struct {
	mu      sync.RWMutex
	jobs    map[string]*entry
	log     *zap.Logger
	metrics *metrics.Metrics
	locker  Locker
	lockTTL time.Duration
	now     func() time.Time
}

type Option func(*Scheduler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLocker makes every run take a distributed lock held at most ttl.
// Scheduled fires also claim a per-fire key that is kept until ttl expires,
// so replicas whose timers fire moments apart run each fire once.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Scheduler) {
		s.locker = l
		s.lockTTL = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(log *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs: make(map[string]*entry),
		log:  log,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Trigger == nil || job.Handler == nil {
		return fmt.Errorf("scheduler: job %q needs a name, a trigger and a handler", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("scheduler: duplicate job %q", job.Name)
	}
	s.jobs[job.Name] = &entry{Job: job}
	return nil
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start blocks until ctx is done, firing every job on its trigger. Runs in
// flight are waited for before Start returns.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			s.loop(ctx, e)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	log := s.log.With(zap.String("job", e.Name))
	for {
		next := e.Trigger.Next(s.now())
		log.Info("job scheduled", zap.Time("next_run", next), zap.String("trigger", e.Trigger.String()))

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.run(ctx, e, next); err != nil && !errors.Is(err, ErrJobRunning) {
			log.Error("job failed", zap.Error(err))
		}
	}
}

// RunNow executes a job immediately and returns its error. ErrJobRunning when
// the job is already executing, locally or on another replica.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	e, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, e, time.Time{})
}

func fireKey(name string, fire time.Time) string {
	return fmt.Sprintf("%s:fire:%d", name, fire.Unix())
}

// run executes e once. fire is the scheduled instant, zero for manual runs.
func (s *Scheduler) run(ctx context.Context, e *entry, fire time.Time) error {
	log := s.log.With(zap.String("job", e.Name))

	if !e.mu.TryLock() {
		log.Warn("job still running, skipping")
		s.metrics.IncJobSkipped(e.Name)
		return ErrJobRunning
	}
	defer e.mu.Unlock()

	if s.locker != nil && !fire.IsZero() {
		// never released: the key expires with the ttl
		_, ok, err := s.locker.Acquire(ctx, fireKey(e.Name, fire), s.lockTTL)
		if err != nil {
			log.Warn("job fire lock unavailable", zap.Error(err))
		} else if !ok {
			log.Info("fire already handled by another worker, skipping", zap.Time("fire", fire))
			s.metrics.IncJobSkipped(e.Name)
			return ErrJobRunning
		}
	}

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, e.Name, s.lockTTL)
		if err != nil {
			// fail open when the lock store is down
			log.Warn("job lock unavailable", zap.Error(err))
		} else if !ok {
			log.Info("job held by another worker, skipping")
			s.metrics.IncJobSkipped(e.Name)
			return ErrJobRunning
		} else {
			defer release()
		}
	}

	start := s.now()
	err := safeCall(ctx, e.Handler)
	outcome := "success"
	switch {
	case errors.As(err, new(*PanicError)):
		outcome = "panic"
	case err != nil:
		outcome = "error"
	}
	s.metrics.ObserveJob(e.Name, outcome, start)

	if err != nil {
		return err
	}
	log.Info("job finished", zap.Duration("took", time.Since(start)))
	return nil
}

// PanicError wraps a panic recovered from a handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

func safeCall(ctx context.Context, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h(ctx)
}
