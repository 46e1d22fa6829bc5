package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"

	"github.com/RezaEskandarii/autopilot/internal/constants"
	"github.com/RezaEskandarii/autopilot/internal/lock"
	"github.com/RezaEskandarii/autopilot/types/config"
)

// Schema is the PostgreSQL schema holding every autopilot table.
const Schema = "autopilot_schema"

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Init creates the state tables for driver on conn. Every script is idempotent, and the
// whole run holds the migration lock so concurrent starters never race on DDL.
//
// The function performs the following steps:
//  1. Acquires the migration lock.
//  2. Pings the database to verify the connection.
//  3. Creates the schema if the driver uses one.
//  4. Executes the embedded SQL scripts of the driver in file name order.
func Init(ctx context.Context, conn *sql.DB, driver config.StorageDriver, locker lock.DistributedLockManager, logger *slog.Logger) error {
	scripts, err := readSQLScripts(driver)
	if err != nil {
		return err
	}

	migrationLock := constants.MigrationLock
	if err := locker.Acquire(ctx, migrationLock); err != nil {
		return err
	}
	defer func() {
		if err := locker.Release(context.WithoutCancel(ctx), migrationLock); err != nil {
			logger.Warn("release migration lock", "error", err)
		}
	}()

	if err := conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", driver, err)
	}

	if driver == config.Postgres {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", Schema)); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	for _, script := range scripts {
		logger.Debug("applying migration", "driver", driver.String(), "script", script.name)
		if _, err := conn.ExecContext(ctx, script.body); err != nil {
			return fmt.Errorf("apply %s: %w", script.name, err)
		}
	}

	return nil
}

type sqlScript struct {
	name string
	body string
}

func readSQLScripts(driver config.StorageDriver) ([]sqlScript, error) {
	dir := path.Join("migrations", driver.String())

	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return nil, fmt.Errorf("no migrations for driver %s: %w", driver, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var scripts []sqlScript
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := path.Join(dir, entry.Name())
		content, err := fs.ReadFile(migrations, name)
		if err != nil {
			return nil, err
		}

		scripts = append(scripts, sqlScript{name: entry.Name(), body: string(content)})
	}

	return scripts, nil
}
