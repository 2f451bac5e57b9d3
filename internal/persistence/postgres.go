package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MimeLyc/findoc-analyzer/internal/analysis"
	"github.com/MimeLyc/findoc-analyzer/internal/jobs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS analyses (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	query TEXT NOT NULL DEFAULT '',
	file_path TEXT NOT NULL DEFAULT '',
	result JSONB,
	error TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_status_created ON analyses(status, created_at);
CREATE INDEX IF NOT EXISTS idx_analyses_updated ON analyses(updated_at);
`

type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

func DefaultPostgresConfig(dsn string) PostgresConfig {
	return PostgresConfig{
		DSN:             dsn,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
	}
}

// PostgresStore keeps jobs in PostgreSQL with the report as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ jobs.Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "findoc-analyzer"

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(dialCtx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func (s *PostgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, job *jobs.Job) error {
	if err := validateNew(job); err != nil {
		return err
	}
	stamp(job, s.now())
	_, err := s.pool.Exec(ctx,
		`INSERT INTO analyses (id, status, query, file_path, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, string(job.Status), job.Query, job.FilePath, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*jobs.Job, error) {
	var (
		job    jobs.Job
		status string
		result []byte
		errMsg *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, query, file_path, result, error, created_at, updated_at
		 FROM analyses WHERE id = $1`, id,
	).Scan(&job.ID, &status, &job.Query, &job.FilePath, &result, &errMsg, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}

	job.Status = jobs.State(status)
	if errMsg != nil {
		job.Error = *errMsg
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	if job.Result, err = decodeResult(result); err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	return &job, nil
}

func (s *PostgresStore) MarkRunning(ctx context.Context, id string) error {
	return s.transition(ctx, id, jobs.StateQueued, jobs.StateRunning, nil, nil)
}

func (s *PostgresStore) Complete(ctx context.Context, id string, result analysis.Report) error {
	raw, err := encodeResult(result)
	if err != nil {
		return err
	}
	return s.transition(ctx, id, jobs.StateRunning, jobs.StateCompleted, raw, nil)
}

func (s *PostgresStore) Fail(ctx context.Context, id string, msg string) error {
	return s.transition(ctx, id, jobs.StateRunning, jobs.StateFailed, nil, &msg)
}

func (s *PostgresStore) transition(ctx context.Context, id string, from, to jobs.State, result []byte, errMsg *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analyses SET status = $1, result = $2::jsonb, error = $3, updated_at = $4
		 WHERE id = $5 AND status = $6`,
		string(to), result, errMsg, s.now().UTC(), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("update job %s to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, found, err := s.status(ctx, id)
	if err != nil {
		return err
	}
	return transitionError(id, from, current, found)
}

func (s *PostgresStore) Heartbeat(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analyses SET updated_at = $1 WHERE id = $2 AND status = $3`,
		s.now().UTC(), id, string(jobs.StateRunning),
	)
	if err != nil {
		return fmt.Errorf("heartbeat job %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, found, err := s.status(ctx, id)
	if err != nil {
		return err
	}
	return transitionError(id, jobs.StateRunning, current, found)
}

func (s *PostgresStore) FailStale(ctx context.Context, id string, staleBefore time.Time, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analyses SET status = $1, result = NULL, error = $2, updated_at = $3
		 WHERE id = $4 AND status = $5 AND updated_at < $6`,
		string(jobs.StateFailed), msg, s.now().UTC(), id, string(jobs.StateRunning), staleBefore.UTC(),
	)
	if err != nil {
		return fmt.Errorf("fail stale job %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, found, err := s.status(ctx, id)
	if err != nil {
		return err
	}
	return staleError(id, current, found)
}

func (s *PostgresStore) status(ctx context.Context, id string) (jobs.State, bool, error) {
	var current string
	err := s.pool.QueryRow(ctx, `SELECT status FROM analyses WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load job %s: %w", id, err)
	}
	return jobs.State(current), true, nil
}

func (s *PostgresStore) ListIDs(ctx context.Context, state jobs.State, limit int) ([]string, error) {
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM analyses WHERE status = $1 ORDER BY created_at ASC, id ASC LIMIT $2`,
		string(state), limitArg,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", state, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", state, err)
	}
	return ids, nil
}

func (s *PostgresStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM analyses WHERE status IN ($1, $2) AND updated_at < $3`,
		string(jobs.StateCompleted), string(jobs.StateFailed), cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
