package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MimeLyc/findoc-analyzer/internal/analysis"
)

// memStore is an in-memory Store with failure injection for runner tests.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*Job

	completeErr error
	failErr     error
	completes   int
	fails       int
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*Job)}
}

func (s *memStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("duplicate job %s", job.ID)
	}
	cp := *job
	cp.Status = StateQueued
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *memStore) transition(id string, from, to State, apply func(*Job)) error {
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != from {
		return fmt.Errorf("%w: %s is %s", ErrStateConflict, id, job.Status)
	}
	job.Status = to
	job.UpdatedAt = time.Now()
	if apply != nil {
		apply(job)
	}
	return nil
}

func (s *memStore) MarkRunning(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(id, StateQueued, StateRunning, nil)
}

func (s *memStore) Complete(_ context.Context, id string, result analysis.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completes++
	if s.completeErr != nil {
		return s.completeErr
	}
	return s.transition(id, StateRunning, StateCompleted, func(j *Job) {
		j.Result = result
		j.Error = ""
	})
}

func (s *memStore) Fail(_ context.Context, id string, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails++
	if s.failErr != nil {
		return s.failErr
	}
	return s.transition(id, StateRunning, StateFailed, func(j *Job) {
		j.Error = msg
	})
}

func (s *memStore) Heartbeat(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(id, StateRunning, StateRunning, nil)
}

func (s *memStore) FailStale(_ context.Context, id string, staleBefore time.Time, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && job.Status == StateRunning && !job.UpdatedAt.Before(staleBefore) {
		return fmt.Errorf("%w: %s", ErrLeaseActive, id)
	}
	return s.transition(id, StateRunning, StateFailed, func(j *Job) {
		j.Error = msg
	})
}

func (s *memStore) ListIDs(_ context.Context, state State, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*Job
	for _, job := range s.jobs {
		if job.Status == state {
			matched = append(matched, job)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	var ids []string
	for _, job := range matched {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, job.ID)
	}
	return ids, nil
}

func (s *memStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) set(id string, mutate func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(s.jobs[id])
}
