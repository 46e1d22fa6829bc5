package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RezaEskandarii/autopilot/types/config"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// sqliteParams enables WAL, waits on a busy database instead of failing, and takes the
// write lock at BEGIN so read-modify-write transactions cannot deadlock on upgrade.
const sqliteParams = "_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"

// Open connects to the configured storage backend and verifies the connection.
func Open(ctx context.Context, cfg config.StorageConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case config.SQLite:
		return OpenSQLite(ctx, cfg.SQLite.Path)
	case config.Postgres:
		conn, err := sql.Open("postgres", cfg.Postgres.ConnectionUrl)
		if err != nil {
			return nil, err
		}
		if err := conn.PingContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

// OpenSQLite opens (creating when missing) the database file at path. The pool is
// limited to one connection.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?"+sqliteParams)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return conn, nil
}
