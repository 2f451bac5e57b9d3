package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MimeLyc/findoc-analyzer/internal/analysis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipelineFunc func(ctx context.Context, filePath, query string) (analysis.Report, error)

func (f pipelineFunc) Run(ctx context.Context, filePath, query string) (analysis.Report, error) {
	return f(ctx, filePath, query)
}

func okPipeline(report analysis.Report) pipelineFunc {
	return func(context.Context, string, string) (analysis.Report, error) {
		return report, nil
	}
}

// seedJob creates a queued job backed by a real scratch file.
func seedJob(t *testing.T, store *memStore, id string) *Job {
	t.Helper()
	path := filepath.Join(t.TempDir(), id+".pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))
	job := &Job{ID: id, Query: "summarize", FilePath: path}
	require.NoError(t, store.Create(context.Background(), job))
	return job
}

func TestRunner_Run_CompletesJob(t *testing.T) {
	store := newMemStore()
	job := seedJob(t, store, "job-1")
	report := analysis.Report{"summary": "all good", "metrics": map[string]any{"revenue": 1.0}}

	var gotPath, gotQuery string
	runner := NewRunner(store, pipelineFunc(func(_ context.Context, path, query string) (analysis.Report, error) {
		gotPath, gotQuery = path, query
		return report, nil
	}), time.Minute)

	runner.Run(context.Background(), job.ID)

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.Status)
	assert.Equal(t, report, got.Result)
	assert.Empty(t, got.Error)
	assert.Equal(t, job.FilePath, gotPath)
	assert.Equal(t, "summarize", gotQuery)
	assert.NoFileExists(t, job.FilePath)
}

func TestRunner_Run_RecordsAnalysisError(t *testing.T) {
	store := newMemStore()
	job := seedJob(t, store, "job-1")

	runner := NewRunner(store, pipelineFunc(func(context.Context, string, string) (analysis.Report, error) {
		return nil, analysis.NewAnalysisError("corrupt PDF", nil)
	}), time.Minute)

	runner.Run(context.Background(), job.ID)

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.Status)
	assert.Contains(t, got.Error, "corrupt PDF")
	assert.Contains(t, got.Error, "[Analysis]")
	assert.Nil(t, got.Result)
	assert.NoFileExists(t, job.FilePath)
}

func TestRunner_Run_MissingJobIsNoop(t *testing.T) {
	store := newMemStore()
	var called atomic.Bool
	runner := NewRunner(store, pipelineFunc(func(context.Context, string, string) (analysis.Report, error) {
		called.Store(true)
		return analysis.Report{}, nil
	}), time.Minute)

	runner.Run(context.Background(), "missing")

	assert.False(t, called.Load())
}

func TestRunner_Run_DuplicateDispatchDoesNotRerun(t *testing.T) {
	store := newMemStore()
	job := seedJob(t, store, "job-1")

	var calls atomic.Int32
	runner := NewRunner(store, pipelineFunc(func(context.Context, string, string) (analysis.Report, error) {
		calls.Add(1)
		return analysis.Report{"summary": "first"}, nil
	}), time.Minute)

	runner.Run(context.Background(), job.ID)
	runner.Run(context.Background(), job.ID)

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, analysis.Report{"summary": "first"}, got.Result)
	assert.Equal(t, 1, store.completes)
}

func TestRunner_Run_ConcurrentDuplicatesRunOnce(t *testing.T) {
	store := newMemStore()
	job := seedJob(t, store, "job-1")

	release := make(chan struct{})
	var calls atomic.Int32
	runner := NewRunner(store, pipelineFunc(func(context.Context, string, string) (analysis.Report, error) {
		calls.Add(1)
		<-release
		return analysis.Report{"summary": "ok"}, nil
	}), time.Minute)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(context.Background(), job.ID)
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.Status)
}

func TestRunner_Run_Timeout(t *testing.T) {
	store := newMemStore()
	job := seedJob(t, store, "job-1")

	runner := NewRunner(store, pipelineFunc(func(ctx context.Context, _, _ string) (analysis.Report, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), 20*time.Millisecond)

	runner.Run(context.Background(), job.ID)

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.Status)
	assert.Contains(t, got.Error, "[Timeout]")
	assert.Contains(t, got.Error, MsgAnalysisTimedOut)
	assert.NoFileExists(t, job.FilePath)
}

func TestRunner_Run_RecoversPanic(t *testing.T) {
	store := newMemStore()
	job := seedJob(t, store, "job-1")

	runner := NewRunner(store, pipelineFunc(func(context.Context, string, string) (analysis.Report, error) {
		panic("nil map write")
	}), time.Minute)

	require.NotPanics(t, func() { runner.Run(context.Background(), job.ID) })

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.Status)
	assert.Contains(t, got.Error, "nil map write")
	assert.NoFileExists(t, job.FilePath)
}

func TestRunner_Run_CompleteFailureFallsBackToFail(t *testing.T) {
	store := newMemStore()
	job := seedJob(t, store, "job-1")
	store.completeErr = errors.New("disk full")

	runner := NewRunner(store, okPipeline(analysis.Report{"summary": "ok"}), time.Minute)
	runner.Run(context.Background(), job.ID)

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.Status)
	assert.Contains(t, got.Error, MsgPersistResult)
	assert.Contains(t, got.Error, "disk full")
	assert.Nil(t, got.Result)
	assert.NoFileExists(t, job.FilePath)
}

func TestRunner_Run_UnrecordableFailureStillCleansUp(t *testing.T) {
	store := newMemStore()
	job := seedJob(t, store, "job-1")
	store.completeErr = errors.New("disk full")
	store.failErr = errors.New("disk still full")

	runner := NewRunner(store, okPipeline(analysis.Report{"summary": "ok"}), time.Minute)
	runner.Run(context.Background(), job.ID)

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, got.Status)
	assert.Equal(t, 1, store.fails)
	assert.NoFileExists(t, job.FilePath)
}

func TestRunner_Run_CleanupToleratesMissingFile(t *testing.T) {
	store := newMemStore()
	job := seedJob(t, store, "job-1")

	runner := NewRunner(store, pipelineFunc(func(_ context.Context, path, _ string) (analysis.Report, error) {
		require.NoError(t, os.Remove(path))
		return analysis.Report{"summary": "ok"}, nil
	}), time.Minute)
	runner.Run(context.Background(), job.ID)

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.Status)
}

func TestRunner_Run_NilReportFails(t *testing.T) {
	store := newMemStore()
	job := seedJob(t, store, "job-1")

	runner := NewRunner(store, okPipeline(nil), time.Minute)
	runner.Run(context.Background(), job.ID)

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.Status)
}

func TestRunner_Run_RejectsEmptyReport(t *testing.T) {
	store := newMemStore()
	job := seedJob(t, store, "job-1")

	runner := NewRunner(store, okPipeline(analysis.Report{}), time.Minute)
	runner.Run(context.Background(), job.ID)

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.Status)
	assert.Equal(t, "[Analysis] pipeline returned no report", got.Error)
	assert.Nil(t, got.Result)
	assert.Zero(t, store.completes)
}

func TestRunner_FailInterrupted(t *testing.T) {
	store := newMemStore()
	stale := seedJob(t, store, "stale")
	fresh := seedJob(t, store, "fresh")
	queued := seedJob(t, store, "queued")
	require.NoError(t, store.MarkRunning(context.Background(), stale.ID))
	require.NoError(t, store.MarkRunning(context.Background(), fresh.ID))
	store.set(stale.ID, func(j *Job) { j.UpdatedAt = time.Now().Add(-time.Hour) })

	runner := NewRunner(store, okPipeline(analysis.Report{"a": 1}), time.Minute, WithLease(time.Minute))
	n, err := runner.FailInterrupted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.Status)
	assert.Equal(t, MsgInterrupted, got.Error)
	assert.NoFileExists(t, stale.FilePath)

	got, err = store.Get(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, got.Status)
	assert.FileExists(t, fresh.FilePath)

	got, err = store.Get(context.Background(), queued.ID)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, got.Status)
	assert.FileExists(t, queued.FilePath)
}

func TestRunner_FailInterruptedSparesLiveRunner(t *testing.T) {
	store := newMemStore()
	job := seedJob(t, store, "live")
	lease := 150 * time.Millisecond

	started := make(chan struct{})
	release := make(chan struct{})
	worker := NewRunner(store, pipelineFunc(func(ctx context.Context, _, _ string) (analysis.Report, error) {
		close(started)
		select {
		case <-release:
			return analysis.Report{"summary": "done"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}), time.Minute, WithLease(lease))
	recovering := NewRunner(store, okPipeline(analysis.Report{"unused": true}), time.Minute, WithLease(lease))

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(context.Background(), job.ID)
	}()
	<-started

	// Several leases pass while the worker is still busy.
	time.Sleep(3 * lease)
	n, err := recovering.FailInterrupted(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.FileExists(t, job.FilePath)

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, got.Status)

	close(release)
	<-done

	got, err = store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.Status)
	assert.Equal(t, analysis.Report{"summary": "done"}, got.Result)
	assert.Empty(t, got.Error)
}

func TestRunner_Run_StopsWhenLeaseIsTaken(t *testing.T) {
	store := newMemStore()
	job := seedJob(t, store, "taken")

	started := make(chan struct{})
	var cancelled atomic.Bool
	runner := NewRunner(store, pipelineFunc(func(ctx context.Context, _, _ string) (analysis.Report, error) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return nil, ctx.Err()
	}), time.Minute, WithLease(30*time.Millisecond))

	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Run(context.Background(), job.ID)
	}()
	<-started

	require.NoError(t, store.Fail(context.Background(), job.ID, MsgInterrupted))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner kept going after its job was failed elsewhere")
	}
	assert.True(t, cancelled.Load())

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.Status)
	assert.Equal(t, MsgInterrupted, got.Error)
	assert.Equal(t, 1, store.fails)
}

func TestRunner_RecoverLoop(t *testing.T) {
	store := newMemStore()
	job := seedJob(t, store, "orphan")
	require.NoError(t, store.MarkRunning(context.Background(), job.ID))
	store.set(job.ID, func(j *Job) { j.UpdatedAt = time.Now().Add(-time.Hour) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := NewRunner(store, okPipeline(analysis.Report{"a": 1}), time.Minute, WithLease(time.Minute))
	go runner.RecoverLoop(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), job.ID)
		return err == nil && got.Status == StateFailed
	}, 2*time.Second, 10*time.Millisecond)
	assert.NoFileExists(t, job.FilePath)
}
