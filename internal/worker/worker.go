package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/RezaEskandarii/autopilot/internal/store"
	"github.com/RezaEskandarii/autopilot/internal/tracer"
	"github.com/RezaEskandarii/autopilot/types"
)

// Worker is one automation domain driven by the scheduler once per cycle. RunCycle
// returns every action failure of the cycle; a nil error means the whole claimed batch
// completed.
type Worker interface {
	Name() string
	RunCycle(ctx context.Context) error
}

// Task is one unit of work discovered by extraction, before it is queued.
type Task struct {
	ActionType string
	Target     string
	Payload    any
}

// Handler is the domain specific part of a worker. Runner drives it through the shared
// extract, claim, execute and mark sequence.
type Handler interface {
	// Tasks returns the ordered task source. Positions are stable: new work is appended.
	Tasks() []Task

	// Vet rejects an action outside the allowlist. It runs in dry-run mode too.
	Vet(action types.QueuedAction) error

	// Execute performs the real side effect of action.
	Execute(ctx context.Context, action types.QueuedAction) error
}

// Deps are the collaborators every worker is built with.
type Deps struct {
	Store  store.StateStore
	Events tracer.Emitter
	Logger *slog.Logger
	DryRun bool
}

// IdempotencyKey fingerprints the semantic content of an action so that extracting the
// same logical task twice never queues it twice.
func IdempotencyKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// CursorKey is the memory key holding the extraction cursor of worker.
func CursorKey(worker string) string {
	return "cursor:" + worker
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
