package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MimeLyc/findoc-analyzer/internal/analysis"
	"github.com/MimeLyc/findoc-analyzer/internal/apperr"
	"github.com/MimeLyc/findoc-analyzer/pkg/file"
	"github.com/MimeLyc/findoc-analyzer/pkg/log"
	"golang.org/x/sync/singleflight"
)

// DefaultLease is how long a running job may go without a heartbeat before
// FailInterrupted treats its worker as gone.
const DefaultLease = 2 * time.Minute

// Runner drives one job through queued -> running -> completed|failed. It is
// the only writer of job state after creation.
//
// While a job runs the runner heartbeats it every third of the lease, so
// runners in other processes sharing the store leave it alone.
type Runner struct {
	store    Store
	pipeline analysis.Pipeline
	timeout  time.Duration
	lease    time.Duration
	now      func() time.Time

	group singleflight.Group
}

type RunnerOption func(*Runner)

// WithLease sets the heartbeat lease. Non-positive values keep DefaultLease.
func WithLease(ttl time.Duration) RunnerOption {
	return func(r *Runner) {
		if ttl > 0 {
			r.lease = ttl
		}
	}
}

func NewRunner(store Store, pipeline analysis.Pipeline, timeout time.Duration, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:    store,
		pipeline: pipeline,
		timeout:  timeout,
		lease:    DefaultLease,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes id. It never returns an error: every failure ends up as job
// state or a log line. Concurrent calls for the same id collapse into one.
func (r *Runner) Run(ctx context.Context, id string) {
	_, _, _ = r.group.Do(id, func() (any, error) {
		r.run(ctx, id)
		return nil, nil
	})
}

func (r *Runner) run(ctx context.Context, id string) {
	job, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Error("Job %s not found, nothing to run", id)
		} else {
			log.Error("Failed to load job %s: %v", id, err)
		}
		return
	}
	if job.Status != StateQueued {
		log.Debug("Job %s is %s, skip", id, job.Status)
		return
	}

	if err := r.store.MarkRunning(ctx, id); err != nil {
		if errors.Is(err, ErrStateConflict) || errors.Is(err, ErrNotFound) {
			log.Debug("Job %s taken by another worker: %v", id, err)
		} else {
			log.Error("Failed to mark job %s running: %v", id, err)
		}
		return
	}
	defer r.cleanup(id)

	leaseCtx, release := r.holdLease(ctx, id)
	defer release()

	start := time.Now()
	log.Info("Analysis started for job %s", id)

	report, err := r.analyze(leaseCtx, job)
	if leaseCtx.Err() != nil && ctx.Err() == nil {
		log.Warn("Job %s lost its lease after %s, result dropped", id, time.Since(start).Round(time.Millisecond))
		return
	}
	if err != nil {
		msg := failureMessage(err)
		log.Warn("Analysis failed for job %s after %s: %s", id, time.Since(start).Round(time.Millisecond), msg)
		r.fail(ctx, id, msg)
		return
	}

	if err := r.store.Complete(ctx, id, report); err != nil {
		log.Error("Failed to persist result of job %s: %v", id, err)
		r.fail(ctx, id, apperr.WrapError(err, apperr.ErrPersistence, MsgPersistResult).Error())
		return
	}
	log.Info("Analysis completed for job %s in %s", id, time.Since(start).Round(time.Millisecond))
}

func (r *Runner) analyze(ctx context.Context, job *Job) (analysis.Report, error) {
	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var report analysis.Report
	err := apperr.SafeExecute(func() error {
		var err error
		report, err = r.pipeline.Run(runCtx, job.FilePath, job.Query)
		return err
	})
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, apperr.Newf(apperr.ErrTimeout, "%s after %s", MsgAnalysisTimedOut, r.timeout)
		}
		return nil, err
	}
	if len(report) == 0 {
		return nil, apperr.New(apperr.ErrAnalysis, "pipeline returned no report")
	}
	return report, nil
}

// holdLease heartbeats id until release is called. The returned context is
// cancelled when the job stops being ours to finish.
func (r *Runner) holdLease(ctx context.Context, id string) (context.Context, func()) {
	leaseCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(max(r.lease/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-leaseCtx.Done():
				return
			case <-ticker.C:
			}
			err := r.store.Heartbeat(leaseCtx, id)
			switch {
			case err == nil:
			case errors.Is(err, ErrStateConflict) || errors.Is(err, ErrNotFound):
				log.Warn("Job %s is no longer running here: %v", id, err)
				cancel()
				return
			case leaseCtx.Err() != nil:
				return
			default:
				log.Warn("Heartbeat for job %s failed: %v", id, err)
			}
		}
	}()
	return leaseCtx, func() {
		cancel()
		wg.Wait()
	}
}

// fail records msg. A failure to do so is logged and left as is.
func (r *Runner) fail(ctx context.Context, id, msg string) {
	if err := r.store.Fail(ctx, id, msg); err != nil {
		log.Error("Failed to record failure of job %s: %v", id, err)
	}
}

// cleanup re-reads the job and removes its scratch file. The job record
// is never touched.
func (r *Runner) cleanup(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	job, err := r.store.Get(ctx, id)
	if err != nil {
		log.Error("%v", apperr.WrapError(err, apperr.ErrCleanup, "failed to reload job before cleanup").WithContext("job", id))
		return
	}
	if job.FilePath == "" {
		return
	}
	removed, err := file.RemoveIfExists(job.FilePath)
	if err != nil {
		log.Error("%v", apperr.WrapError(err, apperr.ErrCleanup, "failed to remove scratch file").
			WithContext("job", id).
			WithContext("path", job.FilePath))
		return
	}
	if removed {
		log.Debug("Removed scratch file %s of job %s", job.FilePath, id)
	}
}

// FailInterrupted marks running jobs whose lease has expired as failed and
// removes their scratch files. Jobs still heartbeated by a live runner, in
// this process or another, are left alone.
func (r *Runner) FailInterrupted(ctx context.Context) (int, error) {
	ids, err := r.store.ListIDs(ctx, StateRunning, 0)
	if err != nil {
		return 0, fmt.Errorf("list running jobs: %w", err)
	}

	cutoff := r.now().Add(-r.lease)
	var failed int
	for _, id := range ids {
		if err := r.store.FailStale(ctx, id, cutoff, MsgInterrupted); err != nil {
			if errors.Is(err, ErrLeaseActive) || errors.Is(err, ErrStateConflict) || errors.Is(err, ErrNotFound) {
				continue
			}
			return failed, fmt.Errorf("fail interrupted job %s: %w", id, err)
		}
		failed++
		r.cleanup(id)
	}
	if failed > 0 {
		log.Warn("Marked %d interrupted job(s) as failed", failed)
	}
	return failed, nil
}

// RecoverLoop calls FailInterrupted every interval until ctx is done.
func (r *Runner) RecoverLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.lease
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.FailInterrupted(ctx); err != nil && ctx.Err() == nil {
				log.Error("Failed to recover interrupted jobs: %v", err)
			}
		}
	}
}

// failureMessage renders err with its error kind, e.g. "[Analysis] corrupt PDF".
func failureMessage(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Cause == nil {
		return appErr.Error()
	}
	return apperr.New(apperr.ErrAnalysis, err.Error()).Error()
}
