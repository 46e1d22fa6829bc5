package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/RezaEskandarii/autopilot/internal/state"
)

// DefaultPageSize is used by ListActions when the caller passes a non-positive page size.
const DefaultPageSize = 20

// WithTx runs fn inside a single transaction, committing when fn returns nil and rolling
// back otherwise.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ResolveTransition decides what MarkActionStatus does for action id, currently in
// current, when asked to move to next. It returns noop=true when the action is already in
// next.
func ResolveTransition(id int64, current, next state.ActionStatus) (noop bool, err error) {
	if !next.IsTerminal() {
		return false, fmt.Errorf("%w: action %d cannot be marked %s", ErrInvalidTransition, id, next)
	}
	if current == next {
		return true, nil
	}
	if !state.IsValidTransition(current, next) {
		return false, fmt.Errorf("%w: action %d %s -> %s", ErrInvalidTransition, id, current, next)
	}
	return false, nil
}

// EncodeJSON marshals v for storage in a memory value or action payload column.
func EncodeJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

// DecodeMemory unmarshals a stored memory value for key into dest.
func DecodeMemory(key string, raw []byte, dest any) error {
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode memory %q: %w", key, err)
	}
	return nil
}

// NormalizePage clamps paging arguments to usable values.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return page, pageSize
}

// FillMissingStatuses adds a zero count for every status absent from counts.
func FillMissingStatuses(counts map[state.ActionStatus]int) map[state.ActionStatus]int {
	for _, status := range state.AllStatuses {
		if _, ok := counts[status]; !ok {
			counts[status] = 0
		}
	}
	return counts
}
