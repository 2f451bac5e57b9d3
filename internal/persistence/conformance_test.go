package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MimeLyc/findoc-analyzer/internal/analysis"
	"github.com/MimeLyc/findoc-analyzer/internal/jobs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite checks the behaviour every jobs.Store must share.
func runStoreSuite(t *testing.T, open func(t *testing.T) jobs.Store) {
	ctx := context.Background()

	newJob := func(t *testing.T, store jobs.Store) *jobs.Job {
		t.Helper()
		job := &jobs.Job{ID: uuid.NewString(), Query: "summarize", FilePath: "/tmp/x.pdf"}
		require.NoError(t, store.Create(ctx, job))
		return job
	}

	t.Run("create and get", func(t *testing.T) {
		store := open(t)
		job := newJob(t, store)

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, jobs.StateQueued, got.Status)
		assert.Equal(t, "summarize", got.Query)
		assert.Equal(t, "/tmp/x.pdf", got.FilePath)
		assert.Nil(t, got.Result)
		assert.Empty(t, got.Error)
		assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		store := open(t)
		job := newJob(t, store)
		assert.Error(t, store.Create(ctx, &jobs.Job{ID: job.ID}))
	})

	t.Run("missing job", func(t *testing.T) {
		store := open(t)
		_, err := store.Get(ctx, "nope")
		assert.ErrorIs(t, err, jobs.ErrNotFound)
		assert.ErrorIs(t, store.MarkRunning(ctx, "nope"), jobs.ErrNotFound)
		assert.ErrorIs(t, store.Fail(ctx, "nope", "x"), jobs.ErrNotFound)
	})

	t.Run("complete round trips the report", func(t *testing.T) {
		store := open(t)
		job := newJob(t, store)
		report := analysis.Report{
			"summary": "fine",
			"metrics": map[string]any{"revenue": 1000000.0, "eps": nil, "findings": []any{"a", "b"}},
		}

		require.NoError(t, store.MarkRunning(ctx, job.ID))
		require.NoError(t, store.Complete(ctx, job.ID, report))

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StateCompleted, got.Status)
		assert.Equal(t, report, got.Result)
		assert.Empty(t, got.Error)
	})

	t.Run("complete rejects an empty report", func(t *testing.T) {
		store := open(t)
		job := newJob(t, store)
		require.NoError(t, store.MarkRunning(ctx, job.ID))

		require.Error(t, store.Complete(ctx, job.ID, analysis.Report{}))
		require.Error(t, store.Complete(ctx, job.ID, nil))

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StateRunning, got.Status)
	})

	t.Run("fail records message", func(t *testing.T) {
		store := open(t)
		job := newJob(t, store)

		require.NoError(t, store.MarkRunning(ctx, job.ID))
		require.NoError(t, store.Fail(ctx, job.ID, "corrupt PDF"))

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StateFailed, got.Status)
		assert.Equal(t, "corrupt PDF", got.Error)
		assert.Nil(t, got.Result)
	})

	t.Run("transitions are forward only", func(t *testing.T) {
		store := open(t)
		job := newJob(t, store)

		assert.ErrorIs(t, store.Complete(ctx, job.ID, analysis.Report{"a": "b"}), jobs.ErrStateConflict)
		assert.ErrorIs(t, store.Fail(ctx, job.ID, "x"), jobs.ErrStateConflict)

		require.NoError(t, store.MarkRunning(ctx, job.ID))
		assert.ErrorIs(t, store.MarkRunning(ctx, job.ID), jobs.ErrStateConflict)
		require.NoError(t, store.Complete(ctx, job.ID, analysis.Report{"summary": "first"}))

		assert.ErrorIs(t, store.Complete(ctx, job.ID, analysis.Report{"summary": "second"}), jobs.ErrStateConflict)
		assert.ErrorIs(t, store.Fail(ctx, job.ID, "late"), jobs.ErrStateConflict)
		assert.ErrorIs(t, store.MarkRunning(ctx, job.ID), jobs.ErrStateConflict)

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, analysis.Report{"summary": "first"}, got.Result)
		assert.Empty(t, got.Error)
	})

	t.Run("concurrent mark running has one winner", func(t *testing.T) {
		store := open(t)
		job := newJob(t, store)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if store.MarkRunning(ctx, job.ID) == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("heartbeat refreshes a running job", func(t *testing.T) {
		store := open(t)
		job := newJob(t, store)

		assert.ErrorIs(t, store.Heartbeat(ctx, job.ID), jobs.ErrStateConflict)
		assert.ErrorIs(t, store.Heartbeat(ctx, "missing"), jobs.ErrNotFound)

		require.NoError(t, store.MarkRunning(ctx, job.ID))
		before, err := store.Get(ctx, job.ID)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)
		require.NoError(t, store.Heartbeat(ctx, job.ID))

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StateRunning, got.Status)
		assert.True(t, got.UpdatedAt.After(before.UpdatedAt), "updated_at %s not after %s", got.UpdatedAt, before.UpdatedAt)
	})

	t.Run("fail stale respects the lease", func(t *testing.T) {
		store := open(t)
		job := newJob(t, store)

		assert.ErrorIs(t, store.FailStale(ctx, job.ID, time.Now().Add(time.Hour), "x"), jobs.ErrStateConflict)
		assert.ErrorIs(t, store.FailStale(ctx, "missing", time.Now(), "x"), jobs.ErrNotFound)

		require.NoError(t, store.MarkRunning(ctx, job.ID))
		assert.ErrorIs(t, store.FailStale(ctx, job.ID, time.Now().Add(-time.Hour), "x"), jobs.ErrLeaseActive)

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StateRunning, got.Status)

		require.NoError(t, store.FailStale(ctx, job.ID, time.Now().Add(time.Hour), "interrupted"))
		got, err = store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StateFailed, got.Status)
		assert.Equal(t, "interrupted", got.Error)

		assert.ErrorIs(t, store.FailStale(ctx, job.ID, time.Now().Add(time.Hour), "again"), jobs.ErrStateConflict)
	})

	t.Run("list ids oldest first", func(t *testing.T) {
		store := open(t)
		base := time.Now().Add(-time.Hour)
		for i, id := range []string{"c", "a", "b"} {
			require.NoError(t, store.Create(ctx, &jobs.Job{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
		}
		require.NoError(t, store.MarkRunning(ctx, "a"))

		ids, err := store.ListIDs(ctx, jobs.StateQueued, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b"}, ids)

		ids, err = store.ListIDs(ctx, jobs.StateQueued, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, ids)

		ids, err = store.ListIDs(ctx, jobs.StateRunning, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids)
	})

	t.Run("delete terminal before cutoff", func(t *testing.T) {
		store := open(t)
		done := newJob(t, store)
		queued := newJob(t, store)
		require.NoError(t, store.MarkRunning(ctx, done.ID))
		require.NoError(t, store.Fail(ctx, done.ID, "x"))

		n, err := store.DeleteTerminalBefore(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = store.DeleteTerminalBefore(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = store.Get(ctx, done.ID)
		assert.ErrorIs(t, err, jobs.ErrNotFound)
		_, err = store.Get(ctx, queued.ID)
		assert.NoError(t, err)
	})
}
