package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RezaEskandarii/autopilot/internal/state"
	"github.com/RezaEskandarii/autopilot/internal/store"
	"github.com/RezaEskandarii/autopilot/types"
)

const actionColumns = `id, worker, action_type, payload, idempotency_key, status, created_at, updated_at`

// SQLiteStateStore is the default StateStore backend. The database handle is expected to
// come from db.Open, which limits the pool to a single connection; inside a transaction
// every statement therefore goes through tx.
type SQLiteStateStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

func NewSQLiteStateStore(db *sql.DB) *SQLiteStateStore {
	return &SQLiteStateStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *SQLiteStateStore) SetMemory(ctx context.Context, key string, value any) error {
	data, err := store.EncodeJSON(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memory (key, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at
		`, key, string(data), s.now())
		if err != nil {
			return fmt.Errorf("set memory %q: %w", key, err)
		}
		return nil
	})
}

func (s *SQLiteStateStore) GetMemory(ctx context.Context, key string, dest any) (bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM memory WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get memory %q: %w", key, err)
	}
	if err := store.DecodeMemory(key, raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStateStore) QueueAction(ctx context.Context, worker, actionType string, payload any, idempotencyKey string) (bool, error) {
	data, err := store.EncodeJSON(payload)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var created bool
	err = store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		now := s.now()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO queued_actions (worker, action_type, payload, idempotency_key, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(idempotency_key) DO NOTHING
		`, worker, actionType, string(data), idempotencyKey, state.StatusQueued, now, now)
		if err != nil {
			return fmt.Errorf("queue action: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = affected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *SQLiteStateStore) ClaimActions(ctx context.Context, worker string, limit int) ([]types.QueuedAction, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []types.QueuedAction
	err := store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+actionColumns+`
			FROM queued_actions
			WHERE worker = ? AND status = ?
			ORDER BY id ASC
			LIMIT ?
		`, worker, state.StatusQueued, limit)
		if err != nil {
			return fmt.Errorf("select queued actions: %w", err)
		}
		actions, err := scanActions(rows)
		if err != nil {
			return err
		}

		now := s.now()
		for i := range actions {
			if _, err := tx.ExecContext(ctx,
				`UPDATE queued_actions SET status = ?, updated_at = ? WHERE id = ?`,
				state.StatusProcessing, now, actions[i].ID,
			); err != nil {
				return fmt.Errorf("claim action %d: %w", actions[i].ID, err)
			}
			actions[i].Status = state.StatusProcessing
			actions[i].UpdatedAt = now
		}
		claimed = actions
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *SQLiteStateStore) MarkActionStatus(ctx context.Context, id int64, status state.ActionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var current state.ActionStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM queued_actions WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", store.ErrActionNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("load action %d: %w", id, err)
		}

		noop, err := store.ResolveTransition(id, current, status)
		if err != nil || noop {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE queued_actions SET status = ?, updated_at = ? WHERE id = ?`,
			status, s.now(), id,
		); err != nil {
			return fmt.Errorf("mark action %d %s: %w", id, status, err)
		}
		return nil
	})
}

func (s *SQLiteStateStore) ListActions(ctx context.Context, page int, pageSize int, status state.ActionStatus) (*types.PaginationResult[types.QueuedAction], error) {
	page, pageSize = store.NormalizePage(page, pageSize)
	offset := (page - 1) * pageSize

	where := "1 = 1"
	var args []any
	if status != "" {
		where = "status = ?"
		args = append(args, status)
	}

	var totalItems int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_actions WHERE `+where, args...).Scan(&totalItems); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM queued_actions
		WHERE `+where+`
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, append(args, pageSize, offset)...)
	if err != nil {
		return nil, err
	}
	actions, err := scanActions(rows)
	if err != nil {
		return nil, err
	}

	return types.NewPaginationResult(actions, totalItems, page, pageSize), nil
}

func (s *SQLiteStateStore) CountAllActionsGroupedByStatus(ctx context.Context) (map[state.ActionStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) AS count
		FROM queued_actions
		GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[state.ActionStatus]int)
	for rows.Next() {
		var status state.ActionStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		result[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return store.FillMissingStatuses(result), nil
}

func (s *SQLiteStateStore) Close() error {
	return s.db.Close()
}

func scanActions(rows *sql.Rows) ([]types.QueuedAction, error) {
	defer rows.Close()

	var actions []types.QueuedAction
	for rows.Next() {
		var action types.QueuedAction
		var payload []byte
		if err := rows.Scan(
			&action.ID, &action.Worker, &action.ActionType, &payload,
			&action.IdempotencyKey, &action.Status, &action.CreatedAt, &action.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		action.Payload = json.RawMessage(payload)
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return actions, nil
}

var _ store.StateStore = (*SQLiteStateStore)(nil)
