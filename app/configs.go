package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/RezaEskandarii/autopilot/internal/db"
	"github.com/RezaEskandarii/autopilot/internal/lock"
	"github.com/RezaEskandarii/autopilot/internal/store"
	"github.com/RezaEskandarii/autopilot/internal/store/postgres"
	"github.com/RezaEskandarii/autopilot/internal/store/sqlite"
	"github.com/RezaEskandarii/autopilot/types/config"
)

func createStateStore(driver config.StorageDriver, db *sql.DB) (store.StateStore, error) {
	switch driver {
	case config.SQLite:
		return sqlite.NewSQLiteStateStore(db), nil
	case config.Postgres:
		return postgres.NewPostgresStateStore(db), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %v", driver)
	}
}

// createDistributedLockManager guards schema migration. Postgres may be shared by several
// agents, so it uses an advisory lock; a sqlite file is owned by one process.
func createDistributedLockManager(driver config.StorageDriver, db *sql.DB) lock.DistributedLockManager {
	if driver == config.Postgres {
		return lock.NewPostgresDistributedLockManager(db)
	}
	return lock.NewLocalLockManager()
}

// OpenStore opens the configured state store with its schema in place, without building
// workers or the event log. Read-only CLI commands use it.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (store.StateStore, error) {
	conn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := db.Init(ctx, conn, cfg.Driver, createDistributedLockManager(cfg.Driver, conn), logger); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	st, err := createStateStore(cfg.Driver, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return st, nil
}
