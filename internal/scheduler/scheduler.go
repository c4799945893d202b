// Package scheduler runs pipeline jobs on cron expressions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/duiduidodge/noon-feed-sub001/internal/lock"
	"github.com/duiduidodge/noon-feed-sub001/internal/logger"
)

const (
	DefaultTick    = 30 * time.Second
	DefaultLockTTL = 10 * time.Minute

	// lockMargin keeps a job's lock alive past its timeout while it unwinds.
	lockMargin = 2 * time.Minute
)

// ErrJobRunning means the job is already running in this process.
var ErrJobRunning = errors.New("scheduler: job already running")

type Job struct {
	Name string
	// Cron is a 5-field expression or a descriptor such as @hourly.
	Cron    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type entry struct {
	job     Job
	expr    *cronexpr.Expression
	next    time.Time
	running bool
}

type Scheduler struct {
	Locker  lock.Locker
	LockTTL time.Duration
	Tick    time.Duration
	Logger  *slog.Logger

	mu      sync.Mutex
	entries []*entry
	wg      sync.WaitGroup
	now     func() time.Time
}

// New parses every job's cron expression up front so a typo fails at startup.
func New(locker lock.Locker, jobs ...Job) (*Scheduler, error) {
	if locker == nil {
		locker = lock.Noop{}
	}
	s := &Scheduler{
		Locker:  locker,
		LockTTL: DefaultLockTTL,
		Tick:    DefaultTick,
		Logger:  logger.With("scheduler"),
		now:     time.Now,
	}
	for _, j := range jobs {
		if j.Run == nil {
			return nil, fmt.Errorf("job %s: missing run func", j.Name)
		}
		expr, err := cronexpr.Parse(j.Cron)
		if err != nil {
			return nil, fmt.Errorf("job %s: parse cron %q: %w", j.Name, j.Cron, err)
		}
		s.entries = append(s.entries, &entry{job: j, expr: expr})
	}
	return s, nil
}

// Start blocks until ctx is canceled, then waits for running jobs to return.
func (s *Scheduler) Start(ctx context.Context) {
	s.plan(s.now())
	for _, e := range s.entries {
		s.Logger.Info("job scheduled", "job", e.job.Name, "cron", e.job.Cron, "next", e.next)
	}

	ticker := time.NewTicker(s.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) plan(base time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		e.next = e.expr.Next(base)
	}
}

// tick launches every job whose next run is due. A job never overlaps itself
// within one process; the locker covers other instances.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if e.next.IsZero() || e.next.After(now) || e.running {
			continue
		}
		e.running = true
		e.next = e.expr.Next(now)
		due = append(due, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		s.wg.Add(1)
		go func(e *entry) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				e.running = false
				s.mu.Unlock()
			}()
			_ = s.runJob(ctx, e.job)
		}(e)
	}
}

// RunNow runs a job by name outside its schedule, still under the lock. It
// returns ErrJobRunning instead of overlapping a run already in flight.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	var e *entry
	for _, candidate := range s.entries {
		if candidate.job.Name == name {
			e = candidate
			break
		}
	}
	if e == nil {
		return fmt.Errorf("unknown job %q", name)
	}

	s.mu.Lock()
	if e.running {
		s.mu.Unlock()
		s.Logger.Info("job skipped, already running", "job", name)
		return ErrJobRunning
	}
	e.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		e.running = false
		s.mu.Unlock()
	}()

	return s.runJob(ctx, e.job)
}

// lockTTL outlives the job's timeout so the lock cannot expire mid-run.
func (s *Scheduler) lockTTL(job Job) time.Duration {
	ttl := s.LockTTL
	if job.Timeout > 0 && job.Timeout+lockMargin > ttl {
		ttl = job.Timeout + lockMargin
	}
	return ttl
}

func (s *Scheduler) runJob(ctx context.Context, job Job) error {
	release, err := s.Locker.Acquire(ctx, job.Name, s.lockTTL(job))
	if errors.Is(err, lock.ErrNotAcquired) {
		s.Logger.Info("job skipped, lock held elsewhere", "job", job.Name)
		return err
	}
	if err != nil {
		s.Logger.Error("job lock failed", "job", job.Name, "error", err)
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.Logger.Warn("job lock release failed", "job", job.Name, "error", err)
		}
	}()

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.Logger.Error("job failed", "job", job.Name, "error", err, "took", time.Since(start))
		return err
	}
	s.Logger.Info("job completed", "job", job.Name, "took", time.Since(start))
	return nil
}

// Jobs lists job names in registration order.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		names = append(names, e.job.Name)
	}
	return names
}
