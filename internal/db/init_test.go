package db

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/RezaEskandarii/autopilot/internal/lock"
	"github.com/RezaEskandarii/autopilot/types/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLockManager struct {
	acquireErr error
	releaseErr error
	acquired   int
	released   int
}

func (m *mockLockManager) Acquire(ctx context.Context, lockID int) error {
	m.acquired++
	return m.acquireErr
}

func (m *mockLockManager) Release(ctx context.Context, lockID int) error {
	m.released++
	return m.releaseErr
}

var _ lock.DistributedLockManager = (*mockLockManager)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReadSQLScripts(t *testing.T) {
	for _, driver := range []config.StorageDriver{config.SQLite, config.Postgres} {
		t.Run(driver.String(), func(t *testing.T) {
			scripts, err := readSQLScripts(driver)
			require.NoError(t, err)
			require.Len(t, scripts, 2) // memory, queued_actions
			assert.Equal(t, "001_memory.sql", scripts[0].name)
			assert.Contains(t, scripts[1].body, "idempotency_key")
		})
	}
}

func TestReadSQLScripts_UnknownDriver(t *testing.T) {
	_, err := readSQLScripts(config.StorageDriver(99))
	assert.Error(t, err)
}

func TestInit_LockAcquireFails(t *testing.T) {
	conn, _, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	lockMgr := &mockLockManager{acquireErr: errors.New("lock busy")}

	err = Init(context.Background(), conn, config.Postgres, lockMgr, discardLogger())
	assert.Error(t, err)
	assert.Equal(t, 0, lockMgr.released)
}

func TestInit_Postgres(t *testing.T) {
	conn, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectPing()
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS autopilot_schema").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS autopilot_schema.memory").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS autopilot_schema.queued_actions").WillReturnResult(sqlmock.NewResult(0, 0))

	lockMgr := &mockLockManager{}
	err = Init(context.Background(), conn, config.Postgres, lockMgr, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, lockMgr.acquired)
	assert.Equal(t, 1, lockMgr.released)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInit_ScriptFailureReleasesLock(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec("CREATE SCHEMA").WillReturnError(errors.New("permission denied"))

	lockMgr := &mockLockManager{}
	err = Init(context.Background(), conn, config.Postgres, lockMgr, discardLogger())
	assert.Error(t, err)
	assert.Equal(t, 1, lockMgr.released)
}

func TestInit_SQLiteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "nested", "state.sqlite3"))
	require.NoError(t, err)
	defer conn.Close()

	locker := lock.NewLocalLockManager()
	require.NoError(t, Init(ctx, conn, config.SQLite, locker, discardLogger()))
	require.NoError(t, Init(ctx, conn, config.SQLite, locker, discardLogger()))

	var mode string
	require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var tables int
	require.NoError(t, conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('memory', 'queued_actions')",
	).Scan(&tables))
	assert.Equal(t, 2, tables)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Driver: config.StorageDriver(42)})
	assert.Error(t, err)
}
