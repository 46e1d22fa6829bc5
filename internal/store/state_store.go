package store

import (
	"context"
	"errors"

	"github.com/RezaEskandarii/autopilot/internal/state"
	"github.com/RezaEskandarii/autopilot/types"
)

var (
	// ErrActionNotFound is returned when a status change targets an unknown action id.
	ErrActionNotFound = errors.New("action not found")

	// ErrInvalidTransition is returned when a status change is not allowed from the
	// action's current status.
	ErrInvalidTransition = errors.New("invalid action status transition")
)

// StateStore is the durable state shared by every worker: a key/value memory table and
// the queue of actions. Every mutating method is atomic with respect to every other
// mutating method of the same store.
type StateStore interface {
	// SetMemory upserts value, JSON-encoded, under key. Last write wins.
	SetMemory(ctx context.Context, key string, value any) error

	// GetMemory decodes the value stored under key into dest. When the key is missing
	// dest is left untouched and false is returned, so callers pre-fill dest with their
	// default.
	GetMemory(ctx context.Context, key string, dest any) (bool, error)

	// QueueAction enqueues a new action in queued status. It returns false, with no side
	// effect, when an action with the same idempotency key already exists.
	QueueAction(ctx context.Context, worker, actionType string, payload any, idempotencyKey string) (bool, error)

	// ClaimActions moves up to limit queued actions of worker to processing, in ascending
	// id order, and returns them. An action is never returned by two claims.
	ClaimActions(ctx context.Context, worker string, limit int) ([]types.QueuedAction, error)

	// MarkActionStatus moves a processing action to done or failed. Repeating the current
	// status is a no-op.
	MarkActionStatus(ctx context.Context, id int64, status state.ActionStatus) error

	// ListActions returns one page of actions, newest first. An empty status lists all.
	ListActions(ctx context.Context, page int, pageSize int, status state.ActionStatus) (*types.PaginationResult[types.QueuedAction], error)

	CountAllActionsGroupedByStatus(ctx context.Context) (map[state.ActionStatus]int, error)

	// Close closes the database
	Close() error
}
