package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/findoc-analyzer/internal/analysis"
	"github.com/MimeLyc/findoc-analyzer/internal/jobs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore is the default job store. Times are stored as unix milliseconds.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ jobs.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) Create(ctx context.Context, job *jobs.Job) error {
	if err := validateNew(job); err != nil {
		return err
	}
	stamp(job, s.now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analyses (id, status, query, file_path, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Status), job.Query, job.FilePath,
		job.CreatedAt.UnixMilli(), job.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*jobs.Job, error) {
	var (
		job                  jobs.Job
		status               string
		result, errMsg       sql.NullString
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, query, file_path, result, error, created_at, updated_at
		 FROM analyses WHERE id = ?`, id,
	).Scan(&job.ID, &status, &job.Query, &job.FilePath, &result, &errMsg, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}

	job.Status = jobs.State(status)
	job.Error = errMsg.String
	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	job.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if result.Valid {
		if job.Result, err = decodeResult([]byte(result.String)); err != nil {
			return nil, fmt.Errorf("job %s: %w", id, err)
		}
	}
	return &job, nil
}

func (s *SQLiteStore) MarkRunning(ctx context.Context, id string) error {
	return s.transition(ctx, id, jobs.StateQueued, jobs.StateRunning, nil, nil)
}

func (s *SQLiteStore) Complete(ctx context.Context, id string, result analysis.Report) error {
	raw, err := encodeResult(result)
	if err != nil {
		return err
	}
	return s.transition(ctx, id, jobs.StateRunning, jobs.StateCompleted, string(raw), nil)
}

func (s *SQLiteStore) Fail(ctx context.Context, id string, msg string) error {
	return s.transition(ctx, id, jobs.StateRunning, jobs.StateFailed, nil, msg)
}

// transition is a compare-and-swap on status. result and errMsg overwrite
// their columns, so a nil value clears them.
func (s *SQLiteStore) transition(ctx context.Context, id string, from, to jobs.State, result, errMsg any) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET status = ?, result = ?, error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(to), result, errMsg, s.now().UnixMilli(), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("update job %s to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s to %s: %w", id, to, err)
	}
	if n == 1 {
		return nil
	}

	current, found, err := s.status(ctx, id)
	if err != nil {
		return err
	}
	return transitionError(id, from, current, found)
}

// Heartbeat only touches updated_at, which is what FailStale compares against.
func (s *SQLiteStore) Heartbeat(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET updated_at = ? WHERE id = ? AND status = ?`,
		s.now().UnixMilli(), id, string(jobs.StateRunning),
	)
	if err != nil {
		return fmt.Errorf("heartbeat job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 1 {
		return err
	}
	current, found, err := s.status(ctx, id)
	if err != nil {
		return err
	}
	return transitionError(id, jobs.StateRunning, current, found)
}

func (s *SQLiteStore) FailStale(ctx context.Context, id string, staleBefore time.Time, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET status = ?, result = NULL, error = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND updated_at < ?`,
		string(jobs.StateFailed), msg, s.now().UnixMilli(), id, string(jobs.StateRunning), staleBefore.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("fail stale job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 1 {
		return err
	}
	current, found, err := s.status(ctx, id)
	if err != nil {
		return err
	}
	return staleError(id, current, found)
}

func (s *SQLiteStore) status(ctx context.Context, id string) (jobs.State, bool, error) {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM analyses WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load job %s: %w", id, err)
	}
	return jobs.State(current), true, nil
}

func (s *SQLiteStore) ListIDs(ctx context.Context, state jobs.State, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM analyses WHERE status = ? ORDER BY created_at ASC, rowid ASC LIMIT ?`,
		string(state), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", state, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM analyses WHERE status IN (?, ?) AND updated_at < ?`,
		string(jobs.StateCompleted), string(jobs.StateFailed), cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	return res.RowsAffected()
}
