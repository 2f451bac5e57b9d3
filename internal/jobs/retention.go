package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/MimeLyc/findoc-analyzer/pkg/file"
	"github.com/MimeLyc/findoc-analyzer/pkg/log"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// Retention removes terminal jobs and orphaned scratch files older than MaxAge.
type Retention struct {
	store      Store
	scratchDir string
	maxAge     time.Duration
	cronExpr   string
	now        func() time.Time

	group singleflight.Group
}

func NewRetention(store Store, scratchDir, cronExpr string, maxAge time.Duration) *Retention {
	return &Retention{
		store:      store,
		scratchDir: scratchDir,
		maxAge:     maxAge,
		cronExpr:   cronExpr,
		now:        time.Now,
	}
}

// Schedule registers the sweep on c.
func (r *Retention) Schedule(ctx context.Context, c *cron.Cron) error {
	log.Info("Schedule retention sweep %q, max age %s", r.cronExpr, r.maxAge)
	_, err := c.AddFunc(r.cronExpr, func() {
		_, _, _ = r.group.Do("sweep", func() (any, error) {
			if _, err := r.Sweep(ctx); err != nil {
				log.Error("Retention sweep failed: %v", err)
			}
			return nil, nil
		})
	})
	return err
}

type SweepResult struct {
	Jobs  int64
	Files int
}

// Sweep deletes terminal jobs last updated before now-maxAge, then removes
// scratch files of that age whose job is gone or finished.
func (r *Retention) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	cutoff := r.now().Add(-r.maxAge)

	n, err := r.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return res, err
	}
	res.Jobs = n

	paths, err := file.FindOlderThan(r.scratchDir, cutoff)
	if err != nil {
		return res, err
	}
	for _, path := range paths {
		if filepath.Ext(path) != ".pdf" {
			continue
		}
		id := file.BaseWithoutExt(path)
		job, err := r.store.Get(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			log.Warn("Retention could not load job %s: %v", id, err)
			continue
		case !job.Status.IsTerminal():
			continue
		}
		removed, err := file.RemoveIfExists(path)
		if err != nil {
			log.Warn("Retention could not remove %s: %v", path, err)
			continue
		}
		if removed {
			res.Files++
		}
	}

	if res.Jobs > 0 || res.Files > 0 {
		log.Info("Retention removed %d job(s) and %d scratch file(s) older than %s", res.Jobs, res.Files, cutoff.Format(time.RFC3339))
	}
	return res, nil
}
