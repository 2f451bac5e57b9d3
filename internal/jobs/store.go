package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/MimeLyc/findoc-analyzer/internal/analysis"
)

var (
	// ErrNotFound is returned when no job has the requested id.
	ErrNotFound = errors.New("job not found")
	// ErrStateConflict is returned when a transition finds the job in a
	// state other than the one it expects.
	ErrStateConflict = errors.New("job state conflict")
	// ErrLeaseActive is returned by FailStale when the running job was
	// heartbeated at or after the staleness cutoff.
	ErrLeaseActive = errors.New("job lease still active")
)

// Store persists jobs. Every transition is a single conditional update on
// the current status.
type Store interface {
	// Create inserts a queued job. A duplicate id is an error.
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// MarkRunning moves queued -> running.
	MarkRunning(ctx context.Context, id string) error
	// Complete moves running -> completed and stores the report.
	Complete(ctx context.Context, id string, result analysis.Report) error
	// Fail moves running -> failed and stores msg.
	Fail(ctx context.Context, id string, msg string) error
	// Heartbeat refreshes updated_at of a running job. A job that is no
	// longer running yields ErrStateConflict.
	Heartbeat(ctx context.Context, id string) error
	// FailStale moves running -> failed only when the job's updated_at is
	// before staleBefore. A fresher running job yields ErrLeaseActive.
	FailStale(ctx context.Context, id string, staleBefore time.Time, msg string) error
	// ListIDs returns ids in the given state, oldest first. limit <= 0 means all.
	ListIDs(ctx context.Context, state State, limit int) ([]string, error)
	// DeleteTerminalBefore removes completed and failed jobs last updated before cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
