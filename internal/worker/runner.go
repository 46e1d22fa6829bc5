package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/RezaEskandarii/autopilot/internal/observability"
	"github.com/RezaEskandarii/autopilot/internal/state"
	"github.com/RezaEskandarii/autopilot/internal/store"
	"github.com/RezaEskandarii/autopilot/internal/tracer"
	"github.com/RezaEskandarii/autopilot/types"
	"go.opentelemetry.io/otel/attribute"
)

// Runner implements Worker on top of a Handler.
type Runner struct {
	name           string
	handler        Handler
	store          store.StateStore
	events         tracer.Emitter
	logger         *slog.Logger
	dryRun         bool
	batchSize      int
	simulatedDelay time.Duration
}

func NewRunner(name string, handler Handler, deps Deps, batchSize int, simulatedDelay time.Duration) *Runner {
	return &Runner{
		name:           name,
		handler:        handler,
		store:          deps.Store,
		events:         deps.Events,
		logger:         deps.Logger.With("worker", name),
		dryRun:         deps.DryRun,
		batchSize:      max(batchSize, 1),
		simulatedDelay: simulatedDelay,
	}
}

func (r *Runner) Name() string {
	return r.name
}

// RunCycle extracts new tasks, claims a batch and executes it in ascending id order.
// The whole batch is always drained so that no claimed action stays in processing;
// failures are joined into the returned error.
func (r *Runner) RunCycle(ctx context.Context) error {
	if err := r.extract(ctx); err != nil {
		return fmt.Errorf("%s: extract: %w", r.name, err)
	}

	actions, err := r.store.ClaimActions(ctx, r.name, r.batchSize)
	if err != nil {
		return fmt.Errorf("%s: claim: %w", r.name, err)
	}
	if len(actions) > 0 {
		r.logger.Info("claimed actions", "count", len(actions))
	}

	var errs []error
	for _, action := range actions {
		if err := r.process(ctx, action); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cursor is the persisted extraction position of a worker. Fingerprint identifies the task
// list the position refers to; when the configured tasks change, extraction rescans from
// the start and QueueAction drops what was already queued.
type Cursor struct {
	Position    int    `json:"position"`
	Fingerprint string `json:"fingerprint"`
}

func (r *Runner) extract(ctx context.Context) error {
	var cursor Cursor
	found, err := r.store.GetMemory(ctx, CursorKey(r.name), &cursor)
	if err != nil {
		return err
	}

	tasks := r.handler.Tasks()
	keys := make([]string, len(tasks))
	for pos, task := range tasks {
		keys[pos] = IdempotencyKey(r.name, task.ActionType, task.Target, strconv.Itoa(pos))
	}
	fingerprint := IdempotencyKey(keys...)

	start := cursor.Position
	switch {
	case found && cursor.Fingerprint != fingerprint:
		r.logger.Info("task list changed, rescanning", "tasks", len(tasks))
		start = 0
	case start < 0 || start > len(tasks):
		r.logger.Warn("extraction cursor out of range, clamping", "cursor", cursor.Position, "tasks", len(tasks))
		start = min(max(start, 0), len(tasks))
	}

	for pos := start; pos < len(tasks); pos++ {
		task := tasks[pos]
		key := keys[pos]

		created, err := r.store.QueueAction(ctx, r.name, task.ActionType, task.Payload, key)
		if err != nil {
			return err
		}
		if !created {
			r.logger.Debug("action already queued", "target", task.Target, "idempotency_key", key)
			continue
		}
		r.logger.Info("action queued", "action_type", task.ActionType, "target", task.Target)
		r.events.Emit("action_queued", tracer.Fields{
			"worker":          r.name,
			"action_type":     task.ActionType,
			"target":          task.Target,
			"idempotency_key": key,
		})
	}

	next := Cursor{Position: len(tasks), Fingerprint: fingerprint}
	if !found || cursor != next {
		return r.store.SetMemory(ctx, CursorKey(r.name), next)
	}
	return nil
}

// process runs one claimed action to a terminal status. Status marks use a context that
// survives cancellation so an action interrupted by the watchdog is still marked failed.
func (r *Runner) process(ctx context.Context, action types.QueuedAction) (err error) {
	logger := r.logger.With("action_id", action.ID, "action_type", action.ActionType)
	started := time.Now()

	ctx, span := observability.StartSpan(ctx, "worker.action",
		attribute.String("worker", r.name),
		attribute.Int64("action_id", action.ID),
		attribute.Bool("dry_run", r.dryRun),
	)
	defer func() { observability.EndSpan(span, err) }()

	logger.Info("action started", "dry_run", r.dryRun)
	r.events.Emit(r.name+"_action_started", tracer.Fields{
		"worker":      r.name,
		"action_id":   action.ID,
		"action_type": action.ActionType,
		"dry_run":     r.dryRun,
	})

	execErr := r.execute(ctx, action)
	markCtx := context.WithoutCancel(ctx)

	if execErr != nil {
		if markErr := r.store.MarkActionStatus(markCtx, action.ID, state.StatusFailed); markErr != nil {
			execErr = errors.Join(execErr, fmt.Errorf("mark failed: %w", markErr))
		}
		logger.Error("action failed", "error", execErr)
		r.events.Emit(r.name+"_action_failed", tracer.Fields{
			"worker":    r.name,
			"action_id": action.ID,
			"error":     execErr.Error(),
		})
		return fmt.Errorf("%s action %d: %w", r.name, action.ID, execErr)
	}

	if err := r.store.MarkActionStatus(markCtx, action.ID, state.StatusDone); err != nil {
		logger.Error("mark action done", "error", err)
		return fmt.Errorf("%s action %d: mark done: %w", r.name, action.ID, err)
	}

	elapsed := time.Since(started)
	logger.Info("action completed", "elapsed", elapsed)
	r.events.Emit(r.name+"_action_completed", tracer.Fields{
		"worker":     r.name,
		"action_id":  action.ID,
		"dry_run":    r.dryRun,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	return nil
}

func (r *Runner) execute(ctx context.Context, action types.QueuedAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.handler.Vet(action); err != nil {
		return err
	}
	if r.dryRun {
		return sleepContext(ctx, r.simulatedDelay)
	}
	return r.handler.Execute(ctx, action)
}

var _ Worker = (*Runner)(nil)
