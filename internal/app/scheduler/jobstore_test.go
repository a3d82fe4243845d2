package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileJobStoreLifecycle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "jobs")
	store := NewFileJobStore(dir)
	ctx := context.Background()

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	job := Job{ID: "digest", Schedule: "@daily", Target: "last", Prompt: "summarize"}
	require.NoError(t, store.Save(ctx, job))
	first, err := store.Load(ctx, "digest")
	require.NoError(t, err)
	assert.False(t, first.CreatedAt.IsZero())

	time.Sleep(2 * time.Millisecond)
	job.Prompt = "summarize today"
	require.NoError(t, store.Save(ctx, job))
	second, err := store.Load(ctx, "digest")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "summarize today", second.Prompt)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))
	jobs, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	require.NoError(t, store.Delete(ctx, "digest"))
	_, err = store.Load(ctx, "digest")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "digest"), ErrJobNotFound)
}

func TestSchedulerPersistsRunState(t *testing.T) {
	store := NewFileJobStore(t.TempDir())
	clock := &virtualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	rec := &recordingTrigger{}
	s := New(Config{Clock: clock, Store: store}, rec.fire, nil)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, Job{ID: "hb", Schedule: "@every 30m", Prompt: "x"}))
	s.RunDue(ctx, clock.Advance(60*time.Minute))

	stored, err := store.Load(ctx, "hb")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.RunCount)

	restarted := New(Config{Clock: clock, Store: store}, rec.fire, nil)
	loaded, err := restarted.LoadStored(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
	assert.Equal(t, clock.Now().Add(30*time.Minute), restarted.Jobs()[0].NextRun)
}
