package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MimeLyc/findoc-analyzer/internal/analysis"
	"github.com/MimeLyc/findoc-analyzer/internal/jobs"
)

// CollectionAnalyses is the table (SQL) or collection (Mongo) holding jobs.
const CollectionAnalyses = "analyses"

func encodeResult(result analysis.Report) ([]byte, error) {
	if len(result) == 0 {
		return nil, fmt.Errorf("result is empty")
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return raw, nil
}

func decodeResult(raw []byte) (analysis.Report, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var report analysis.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return report, nil
}

func validateNew(job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	return nil
}

// stamp fills the creation fields of a new job in place.
func stamp(job *jobs.Job, now time.Time) {
	job.Status = jobs.StateQueued
	job.Result = nil
	job.Error = ""
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.CreatedAt = job.CreatedAt.UTC().Truncate(time.Millisecond)
	job.UpdatedAt = job.CreatedAt
}

// transitionError explains a conditional update that matched no row.
func transitionError(id string, from jobs.State, current jobs.State, found bool) error {
	if !found {
		return fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	return fmt.Errorf("%w: job %s is %s, expected %s", jobs.ErrStateConflict, id, current, from)
}

// staleError explains why FailStale matched no row.
func staleError(id string, current jobs.State, found bool) error {
	if found && current == jobs.StateRunning {
		return fmt.Errorf("%w: %s", jobs.ErrLeaseActive, id)
	}
	return transitionError(id, jobs.StateRunning, current, found)
}
