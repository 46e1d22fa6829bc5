package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/RezaEskandarii/autopilot/internal/state"
	"github.com/RezaEskandarii/autopilot/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var actionRowColumns = []string{"id", "worker", "action_type", "payload", "idempotency_key", "status", "created_at", "updated_at"}

func TestNewPostgresStateStore(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStateStore(db)
	require.NotNil(t, s)
}

func TestPostgresStateStore_SetMemory(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStateStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO autopilot_schema.memory").
		WithArgs("cursor:terminal", []byte("3"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.SetMemory(context.Background(), "cursor:terminal", 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStateStore_GetMemory(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStateStore(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT value FROM autopilot_schema.memory").
		WithArgs("cursor:terminal").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("5")))
	mock.ExpectQuery("SELECT value FROM autopilot_schema.memory").
		WithArgs("cursor:browser").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	cursor := 0
	found, err := s.GetMemory(ctx, "cursor:terminal", &cursor)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 5, cursor)

	other := 11
	found, err = s.GetMemory(ctx, "cursor:browser", &other)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 11, other)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStateStore_QueueAction(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		expected bool
	}{
		{name: "new key is created", affected: 1, expected: true},
		{name: "duplicate key is ignored", affected: 0, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			s := NewPostgresStateStore(db)

			mock.ExpectBegin()
			mock.ExpectExec("INSERT INTO autopilot_schema.queued_actions").
				WithArgs("terminal", "run_command", sqlmock.AnyArg(), "key-1", state.StatusQueued, sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			mock.ExpectCommit()

			created, err := s.QueueAction(context.Background(), "terminal", "run_command", []string{"echo"}, "key-1")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, created)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStateStore_QueueAction_InvalidPayload(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStateStore(db)

	_, err = s.QueueAction(context.Background(), "terminal", "run_command", make(chan int), "key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "marshal payload")
}

func TestPostgresStateStore_ClaimActions_SortsByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStateStore(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs("browser", state.StatusQueued, 2, state.StatusProcessing, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(actionRowColumns).
			AddRow(9, "browser", "visit_url", []byte(`{}`), "k9", "processing", now, now).
			AddRow(4, "browser", "visit_url", []byte(`{}`), "k4", "processing", now, now))
	mock.ExpectCommit()

	claimed, err := s.ClaimActions(context.Background(), "browser", 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, int64(4), claimed[0].ID)
	assert.Equal(t, int64(9), claimed[1].ID)
	assert.Equal(t, state.StatusProcessing, claimed[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStateStore_ClaimActions_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStateStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err = s.ClaimActions(context.Background(), "browser", 2)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStateStore_MarkActionStatus(t *testing.T) {
	t.Run("processing to done", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM autopilot_schema.queued_actions").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("processing"))
		mock.ExpectExec("UPDATE autopilot_schema.queued_actions SET status").
			WithArgs(state.StatusDone, sqlmock.AnyArg(), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, NewPostgresStateStore(db).MarkActionStatus(context.Background(), 1, state.StatusDone))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM autopilot_schema.queued_actions").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("failed"))
		mock.ExpectCommit()

		require.NoError(t, NewPostgresStateStore(db).MarkActionStatus(context.Background(), 1, state.StatusFailed))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal state is never left", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM autopilot_schema.queued_actions").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("done"))
		mock.ExpectRollback()

		err = NewPostgresStateStore(db).MarkActionStatus(context.Background(), 1, state.StatusFailed)
		assert.True(t, errors.Is(err, store.ErrInvalidTransition), "got %v", err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown id", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM autopilot_schema.queued_actions").
			WithArgs(404).
			WillReturnRows(sqlmock.NewRows([]string{"status"}))
		mock.ExpectRollback()

		err = NewPostgresStateStore(db).MarkActionStatus(context.Background(), 404, state.StatusDone)
		assert.True(t, errors.Is(err, store.ErrActionNotFound), "got %v", err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStateStore_ListActions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStateStore(db)
	now := time.Now()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(state.StatusFailed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("SELECT id, worker").
		WithArgs(state.StatusFailed, 2, 2).
		WillReturnRows(sqlmock.NewRows(actionRowColumns).
			AddRow(1, "terminal", "run_command", []byte(`["echo"]`), "k1", "failed", now, now))

	page, err := s.ListActions(context.Background(), 2, 2, state.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalItems)
	assert.Equal(t, 2, page.TotalPages)
	assert.False(t, page.HasNextPage)
	require.Len(t, page.Items, 1)
	assert.JSONEq(t, `["echo"]`, string(page.Items[0].Payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStateStore_CountAllActionsGroupedByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStateStore(db)

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("queued", 4).
			AddRow("done", 2))

	counts, err := s.CountAllActionsGroupedByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, counts[state.StatusQueued])
	assert.Equal(t, 2, counts[state.StatusDone])
	assert.Equal(t, 0, counts[state.StatusFailed])
	assert.NoError(t, mock.ExpectationsWereMet())
}
