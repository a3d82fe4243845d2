package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type virtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type recordingTrigger struct {
	mu    sync.Mutex
	fired []ports.TriggerJob
	err   error
}

func (r *recordingTrigger) fire(_ context.Context, job ports.TriggerJob) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, job)
	return "session-x", r.err
}

func (r *recordingTrigger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func newTestScheduler(t *testing.T) (*Scheduler, *virtualClock, *recordingTrigger) {
	t.Helper()
	clock := &virtualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	rec := &recordingTrigger{}
	return New(Config{Clock: clock}, rec.fire, nil), clock, rec
}

func TestIntervalJobFiresOncePerElapsedInterval(t *testing.T) {
	s, clock, rec := newTestScheduler(t)
	require.NoError(t, s.Add(context.Background(), Job{ID: "hb", Schedule: "@every 30m", Target: "last", Prompt: "check in"}))

	assert.Equal(t, 1, s.RunDue(context.Background(), clock.Advance(30*time.Minute)))
	assert.Equal(t, 1, rec.count())
}

func TestIntervalJobCatchesUpMissedOccurrences(t *testing.T) {
	s, clock, rec := newTestScheduler(t)
	start := clock.Now()
	require.NoError(t, s.Add(context.Background(), Job{ID: "hb", Schedule: "30m", Target: "last", Prompt: "check in"}))

	assert.Equal(t, 3, s.RunDue(context.Background(), clock.Advance(90*time.Minute)))
	assert.Equal(t, 3, rec.count())

	job := s.Jobs()[0]
	assert.Equal(t, start.Add(90*time.Minute), job.LastRun)
	assert.Equal(t, start.Add(120*time.Minute), job.NextRun)
	assert.Equal(t, 3, job.RunCount)

	assert.Equal(t, 0, s.RunDue(context.Background(), clock.Advance(29*time.Minute)))
}

func TestRunDueBeforeFirstOccurrence(t *testing.T) {
	s, clock, rec := newTestScheduler(t)
	require.NoError(t, s.Add(context.Background(), Job{ID: "hb", Schedule: "@every 30m", Prompt: "x"}))
	assert.Equal(t, 0, s.RunDue(context.Background(), clock.Advance(29*time.Minute)))
	assert.Zero(t, rec.count())
}

func TestPausedJobsDoNotFire(t *testing.T) {
	s, clock, rec := newTestScheduler(t)
	require.NoError(t, s.Add(context.Background(), FromConfig(config.SchedulerJobConfig{
		ID: "off", Schedule: "@every 1m", Prompt: "x", Disabled: true,
	})))
	s.RunDue(context.Background(), clock.Advance(10*time.Minute))
	assert.Zero(t, rec.count())
}

func TestTriggerErrorsDoNotStopOtherJobs(t *testing.T) {
	s, clock, rec := newTestScheduler(t)
	rec.err = errors.New("core unavailable")
	require.NoError(t, s.Add(context.Background(), Job{ID: "a", Schedule: "@every 10m", Prompt: "a"}))
	require.NoError(t, s.Add(context.Background(), Job{ID: "b", Schedule: "@every 10m", Message: "b"}))

	assert.Equal(t, 2, s.RunDue(context.Background(), clock.Advance(10*time.Minute)))
	assert.Equal(t, 2, rec.count())
}

func TestCronExpressionSchedule(t *testing.T) {
	s, clock, rec := newTestScheduler(t)
	require.NoError(t, s.Add(context.Background(), Job{ID: "daily", Schedule: "0 8 * * *", Target: "discord:u1", Message: "Good morning"}))

	s.RunDue(context.Background(), clock.Advance(23*time.Hour))
	require.Equal(t, 1, rec.count())
	assert.Equal(t, "discord:u1", rec.fired[0].Target)
	assert.Equal(t, "Good morning", rec.fired[0].Message)
}

func TestSilentFlagReachesTrigger(t *testing.T) {
	job := FromConfig(config.SchedulerJobConfig{ID: "tidy", Schedule: "@every 30m", Target: "last", Prompt: "compact", Silent: true})
	assert.True(t, job.Silent)
	assert.True(t, job.Trigger().Silent)

	s, clock, rec := newTestScheduler(t)
	require.NoError(t, s.Add(context.Background(), job))
	s.RunDue(context.Background(), clock.Advance(30*time.Minute))
	require.Equal(t, 1, rec.count())
	assert.True(t, rec.fired[0].Silent)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		job  Job
	}{
		{"missing id", Job{Schedule: "@hourly", Prompt: "x"}},
		{"missing action", Job{ID: "j", Schedule: "@hourly"}},
		{"bad schedule", Job{ID: "j", Schedule: "every tuesday", Prompt: "x"}},
		{"negative interval", Job{ID: "j", Schedule: "-5m", Prompt: "x"}},
		{"bad status", Job{ID: "j", Schedule: "@hourly", Prompt: "x", Status: "zombie"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.job.Validate())
		})
	}
}

func TestRemoveUnknownJob(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	assert.ErrorIs(t, s.Remove(context.Background(), "nope"), ErrJobNotFound)
}

func TestStartStop(t *testing.T) {
	rec := &recordingTrigger{}
	s := New(Config{Tick: 5 * time.Millisecond}, rec.fire, nil)
	require.NoError(t, s.Add(context.Background(), Job{ID: "fast", Schedule: "@every 1s", Prompt: "x"}))

	s.Start(context.Background())
	require.Eventually(t, func() bool { return rec.count() >= 1 }, 3*time.Second, 10*time.Millisecond)
	s.Stop()
	s.Stop()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler loop did not exit")
	}
}
