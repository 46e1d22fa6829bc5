package worker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/RezaEskandarii/autopilot/internal/policy"
	"github.com/RezaEskandarii/autopilot/internal/store"
	"github.com/RezaEskandarii/autopilot/types"
	"github.com/RezaEskandarii/autopilot/types/config"
)

const (
	TerminalWorkerName = "terminal"
	ActionRunCommand   = "run_command"

	// TerminalOutputKey holds the stdout of the last command run live.
	TerminalOutputKey = "terminal:last_output"
)

// CommandPayload is the payload of a run_command action.
type CommandPayload struct {
	Argv []string `json:"argv"`
}

type TerminalOutput struct {
	ActionID int64     `json:"action_id"`
	Argv     []string  `json:"argv"`
	Stdout   string    `json:"stdout"`
	RanAt    time.Time `json:"ran_at"`
}

type terminalHandler struct {
	commands [][]string
	policy   *policy.CommandPolicy
	store    store.StateStore
}

// NewTerminalWorker runs the configured argv commands as subprocesses, never through a
// shell.
func NewTerminalWorker(cfg config.TerminalWorkerConfig, deps Deps) *Runner {
	h := &terminalHandler{
		commands: cfg.Commands,
		policy:   policy.NewCommandPolicy(cfg.AllowedBinaries),
		store:    deps.Store,
	}
	delay := time.Duration(cfg.SimulatedDelayMs) * time.Millisecond
	return NewRunner(TerminalWorkerName, h, deps, cfg.BatchSize, delay)
}

func (h *terminalHandler) Tasks() []Task {
	tasks := make([]Task, 0, len(h.commands))
	for _, argv := range h.commands {
		tasks = append(tasks, Task{
			ActionType: ActionRunCommand,
			Target:     strings.Join(argv, " "),
			Payload:    CommandPayload{Argv: argv},
		})
	}
	return tasks
}

func (h *terminalHandler) Vet(action types.QueuedAction) error {
	var payload CommandPayload
	if err := action.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode command payload: %w", err)
	}
	return h.policy.Vet(payload.Argv)
}

func (h *terminalHandler) Execute(ctx context.Context, action types.QueuedAction) error {
	var payload CommandPayload
	if err := action.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode command payload: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, payload.Argv[0], payload.Argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("run %s: %w: %s", payload.Argv[0], err, msg)
		}
		return fmt.Errorf("run %s: %w", payload.Argv[0], err)
	}

	return h.store.SetMemory(ctx, TerminalOutputKey, TerminalOutput{
		ActionID: action.ID,
		Argv:     payload.Argv,
		Stdout:   strings.TrimSpace(stdout.String()),
		RanAt:    time.Now().UTC(),
	})
}
