package persistence

import (
	"context"
	"fmt"

	"github.com/MimeLyc/findoc-analyzer/internal/config"
	"github.com/MimeLyc/findoc-analyzer/internal/jobs"
	"github.com/MimeLyc/findoc-analyzer/pkg/log"
)

// Open returns the job store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (jobs.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		log.Info("Using SQLite job store at %s", cfg.SQLitePath)
		return NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		log.Info("Using PostgreSQL job store")
		return NewPostgresStore(ctx, DefaultPostgresConfig(cfg.DatabaseURL))
	case "mongo":
		return NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
