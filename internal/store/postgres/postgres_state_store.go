package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/RezaEskandarii/autopilot/internal/state"
	"github.com/RezaEskandarii/autopilot/internal/store"
	"github.com/RezaEskandarii/autopilot/types"
)

const actionColumns = `id, worker, action_type, payload, idempotency_key, status, created_at, updated_at`

type PostgresStateStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

func NewPostgresStateStore(db *sql.DB) *PostgresStateStore {
	return &PostgresStateStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *PostgresStateStore) SetMemory(ctx context.Context, key string, value any) error {
	data, err := store.EncodeJSON(value)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO autopilot_schema.memory (key, value, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET
				value = EXCLUDED.value,
				updated_at = EXCLUDED.updated_at
		`, key, data, r.now())
		if err != nil {
			return fmt.Errorf("set memory %q: %w", key, err)
		}
		return nil
	})
}

func (r *PostgresStateStore) GetMemory(ctx context.Context, key string, dest any) (bool, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM autopilot_schema.memory WHERE key = $1`, key).Scan(&raw)
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

func (r *PostgresStateStore) QueueAction(ctx context.Context, worker, actionType string, payload any, idempotencyKey string) (bool, error) {
	data, err := store.EncodeJSON(payload)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var created bool
	err = store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		now := r.now()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO autopilot_schema.queued_actions
				(worker, action_type, payload, idempotency_key, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (idempotency_key) DO NOTHING
		`, worker, actionType, data, idempotencyKey, state.StatusQueued, now, now)
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

// ClaimActions selects and flips the batch in one statement. SKIP LOCKED keeps a second
// connection from blocking on, or double-claiming, rows already being claimed.
func (r *PostgresStateStore) ClaimActions(ctx context.Context, worker string, limit int) ([]types.QueuedAction, error) {
	if limit <= 0 {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var claimed []types.QueuedAction
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			WITH next AS (
				SELECT id FROM autopilot_schema.queued_actions
				WHERE worker = $1 AND status = $2
				ORDER BY id ASC
				LIMIT $3
				FOR UPDATE SKIP LOCKED
			)
			UPDATE autopilot_schema.queued_actions q
			SET status = $4, updated_at = $5
			FROM next
			WHERE q.id = next.id
			RETURNING q.id, q.worker, q.action_type, q.payload, q.idempotency_key, q.status, q.created_at, q.updated_at
		`, worker, state.StatusQueued, limit, state.StatusProcessing, r.now())
		if err != nil {
			return fmt.Errorf("claim actions: %w", err)
		}
		actions, err := scanActions(rows)
		if err != nil {
			return err
		}
		// RETURNING does not preserve the CTE order.
		slices.SortFunc(actions, func(a, b types.QueuedAction) int {
			switch {
			case a.ID < b.ID:
				return -1
			case a.ID > b.ID:
				return 1
			}
			return 0
		})
		claimed = actions
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *PostgresStateStore) MarkActionStatus(ctx context.Context, id int64, status state.ActionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var current state.ActionStatus
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM autopilot_schema.queued_actions WHERE id = $1 FOR UPDATE`, id,
		).Scan(&current)
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
			`UPDATE autopilot_schema.queued_actions SET status = $1, updated_at = $2 WHERE id = $3`,
			status, r.now(), id,
		); err != nil {
			return fmt.Errorf("mark action %d %s: %w", id, status, err)
		}
		return nil
	})
}

func (r *PostgresStateStore) ListActions(ctx context.Context, page int, pageSize int, status state.ActionStatus) (*types.PaginationResult[types.QueuedAction], error) {
	page, pageSize = store.NormalizePage(page, pageSize)
	offset := (page - 1) * pageSize

	var args []any
	where := "TRUE"

	argIndex := 1
	if status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, status)
		argIndex++
	}

	countQuery := `SELECT COUNT(*) FROM autopilot_schema.queued_actions WHERE ` + where
	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM autopilot_schema.queued_actions
		WHERE %s
		ORDER BY id DESC
		LIMIT $%d OFFSET $%d`, actionColumns, where, argIndex, argIndex+1)

	var totalItems int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalItems); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, selectQuery, append(args, pageSize, offset)...)
	if err != nil {
		return nil, err
	}
	actions, err := scanActions(rows)
	if err != nil {
		return nil, err
	}

	return types.NewPaginationResult(actions, totalItems, page, pageSize), nil
}

func (r *PostgresStateStore) CountAllActionsGroupedByStatus(ctx context.Context) (map[state.ActionStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) AS count
		FROM autopilot_schema.queued_actions
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

func (r *PostgresStateStore) Close() error {
	return r.db.Close()
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

var _ store.StateStore = (*PostgresStateStore)(nil)
