// Package scheduler fires periodic triggers into the orchestration core.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/async"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"
	"github.com/robfig/cron/v3"
)

const defaultTick = time.Second

// TriggerFunc is the core callback invoked on every firing.
type TriggerFunc func(ctx context.Context, job ports.TriggerJob) (string, error)

// Clock abstracts time so tests can advance it virtually.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config configures a Scheduler.
type Config struct {
	Tick  time.Duration
	Clock Clock
	Store JobStore
}

type entry struct {
	job      Job
	schedule cron.Schedule
}

// Scheduler tracks jobs and fires every occurrence that has come due,
// including occurrences missed between ticks.
type Scheduler struct {
	trigger TriggerFunc
	clock   Clock
	tick    time.Duration
	store   JobStore
	logger  logging.Logger

	mu      sync.Mutex
	entries map[string]*entry

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a scheduler that calls trigger for each firing.
func New(cfg Config, trigger TriggerFunc, logger logging.Logger) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	return &Scheduler{
		trigger: trigger,
		clock:   cfg.Clock,
		tick:    cfg.Tick,
		store:   cfg.Store,
		logger:  logging.OrNop(logger),
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Add registers job. Its first occurrence is computed from the current clock
// unless the job already carries a future NextRun.
func (s *Scheduler) Add(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	sched, err := ParseSchedule(job.Schedule)
	if err != nil {
		return err
	}
	if job.Status == "" {
		job.Status = JobStatusActive
	}
	now := s.clock.Now()
	if job.NextRun.IsZero() || job.NextRun.Before(now) {
		job.NextRun = sched.Next(now)
	}

	s.mu.Lock()
	s.entries[job.ID] = &entry{job: job, schedule: sched}
	s.mu.Unlock()

	s.save(ctx, job)
	s.logger.Info("Scheduler: registered job %s (%s), next run %s", job.ID, job.Schedule, job.NextRun.Format(time.RFC3339))
	return nil
}

// Remove unregisters a job.
func (s *Scheduler) Remove(ctx context.Context, jobID string) error {
	s.mu.Lock()
	_, ok := s.entries[jobID]
	delete(s.entries, jobID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: %w: %s", ErrJobNotFound, jobID)
	}
	if s.store != nil {
		if err := s.store.Delete(ctx, jobID); err != nil {
			s.logger.Warn("Scheduler: failed to delete stored job %s: %v", jobID, err)
		}
	}
	return nil
}

// Jobs returns the registered jobs sorted by id.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadStored registers every job from the store.
func (s *Scheduler) LoadStored(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	jobs, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, job := range jobs {
		if err := s.Add(ctx, job); err != nil {
			s.logger.Warn("Scheduler: skipping stored job %s: %v", job.ID, err)
			continue
		}
		loaded++
	}
	return loaded, nil
}

type firing struct {
	job Job
	at  time.Time
}

// RunDue fires every occurrence at or before now, in time order, and returns
// how many firings happened.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) int {
	var due []firing
	var updated []Job

	s.mu.Lock()
	for _, e := range s.entries {
		if e.job.Status == JobStatusPaused {
			continue
		}
		fired := false
		for !e.job.NextRun.IsZero() && !e.job.NextRun.After(now) {
			due = append(due, firing{job: e.job, at: e.job.NextRun})
			e.job.LastRun = e.job.NextRun
			e.job.RunCount++
			e.job.NextRun = e.schedule.Next(e.job.NextRun)
			fired = true
		}
		if fired {
			updated = append(updated, e.job)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, f := range due {
		if err := ctx.Err(); err != nil {
			break
		}
		sessionID, err := s.trigger(ctx, f.job.Trigger())
		if err != nil {
			s.logger.Warn("Scheduler: job %s (due %s) failed: %v", f.job.ID, f.at.Format(time.RFC3339), err)
			continue
		}
		s.logger.Debug("Scheduler: job %s fired into session %s", f.job.ID, sessionID)
	}
	for _, job := range updated {
		s.save(ctx, job)
	}
	return len(due)
}

func (s *Scheduler) save(ctx context.Context, job Job) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, job); err != nil {
		s.logger.Warn("Scheduler: failed to persist job %s: %v", job.ID, err)
	}
}

// Start runs the tick loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	async.Go(s.logger, "scheduler.loop", func() {
		defer close(s.done)
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		s.logger.Info("Scheduler started with %d jobs", len(s.Jobs()))
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.RunDue(ctx, s.clock.Now())
			}
		}
	})
}

// Stop ends the tick loop. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.logger.Info("Scheduler stopped")
	})
}

// Done is closed once the loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}
