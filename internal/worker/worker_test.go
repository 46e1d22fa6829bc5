package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/RezaEskandarii/autopilot/custom_errors"
	"github.com/RezaEskandarii/autopilot/internal/db"
	"github.com/RezaEskandarii/autopilot/internal/lock"
	"github.com/RezaEskandarii/autopilot/internal/state"
	"github.com/RezaEskandarii/autopilot/internal/store/sqlite"
	"github.com/RezaEskandarii/autopilot/internal/tracer"
	"github.com/RezaEskandarii/autopilot/types/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	deps       Deps
	store      *sqlite.SQLiteStateStore
	eventsPath string
}

func newTestEnv(t *testing.T, dryRun bool) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	conn, err := db.OpenSQLite(ctx, filepath.Join(dir, "state.sqlite3"))
	require.NoError(t, err)
	require.NoError(t, db.Init(ctx, conn, config.SQLite, lock.NewLocalLockManager(), logger))
	s := sqlite.NewSQLiteStateStore(conn)
	t.Cleanup(func() { s.Close() })

	eventsPath := filepath.Join(dir, "events.jsonl")
	tr, err := tracer.New(eventsPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })

	return &testEnv{
		deps:       Deps{Store: s, Events: tr, Logger: logger, DryRun: dryRun},
		store:      s,
		eventsPath: eventsPath,
	}
}

func (e *testEnv) eventNames(t *testing.T) []string {
	t.Helper()
	records, err := tracer.ReadEvents(e.eventsPath)
	require.NoError(t, err)
	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r.Event())
	}
	return names
}

func (e *testEnv) statusCounts(t *testing.T) map[state.ActionStatus]int {
	t.Helper()
	counts, err := e.store.CountAllActionsGroupedByStatus(context.Background())
	require.NoError(t, err)
	return counts
}

func terminalConfig(commands ...[]string) config.TerminalWorkerConfig {
	return config.TerminalWorkerConfig{
		Enabled:         true,
		BatchSize:       10,
		Commands:        commands,
		AllowedBinaries: []string{"/bin/echo", "echo"},
	}
}

func TestIdempotencyKey(t *testing.T) {
	a := IdempotencyKey("terminal", "run_command", "/bin/echo hi", "0")
	b := IdempotencyKey("terminal", "run_command", "/bin/echo hi", "0")
	c := IdempotencyKey("terminal", "run_command", "/bin/echo hi", "1")
	d := IdempotencyKey("terminal", "run_command", "/bin/echo h", "i0")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d, "part boundaries must matter")
	assert.Len(t, a, 64)
}

func TestTerminalWorker_DryRunCycle(t *testing.T) {
	env := newTestEnv(t, true)
	w := NewTerminalWorker(terminalConfig([]string{"/bin/echo", "hello"}), env.deps)
	ctx := context.Background()

	require.NoError(t, w.RunCycle(ctx))

	assert.Equal(t, []string{"action_queued", "terminal_action_started", "terminal_action_completed"}, env.eventNames(t))
	assert.Equal(t, 1, env.statusCounts(t)[state.StatusDone])

	found, err := env.store.GetMemory(ctx, TerminalOutputKey, &TerminalOutput{})
	require.NoError(t, err)
	assert.False(t, found, "dry-run must not run the command")

	var cursor Cursor
	found, err = env.store.GetMemory(ctx, CursorKey(TerminalWorkerName), &cursor)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, cursor.Position)
	assert.NotEmpty(t, cursor.Fingerprint)

	// a second cycle finds nothing new to extract
	require.NoError(t, w.RunCycle(ctx))
	assert.Len(t, env.eventNames(t), 3)
}

func TestTerminalWorker_ReextractionAfterCursorLossDoesNotDoubleQueue(t *testing.T) {
	env := newTestEnv(t, true)
	w := NewTerminalWorker(terminalConfig([]string{"/bin/echo", "a"}, []string{"/bin/echo", "b"}), env.deps)
	ctx := context.Background()

	require.NoError(t, w.RunCycle(ctx))
	var cursor Cursor
	_, err := env.store.GetMemory(ctx, CursorKey(TerminalWorkerName), &cursor)
	require.NoError(t, err)
	cursor.Position = 0
	require.NoError(t, env.store.SetMemory(ctx, CursorKey(TerminalWorkerName), cursor))
	require.NoError(t, w.RunCycle(ctx))

	counts := env.statusCounts(t)
	assert.Equal(t, 2, counts[state.StatusDone])
	assert.Equal(t, 0, counts[state.StatusQueued])
}

func TestTerminalWorker_EditedCommandIsQueuedAfterRestart(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	first := NewTerminalWorker(terminalConfig([]string{"/bin/echo", "a"}), env.deps)
	require.NoError(t, first.RunCycle(ctx))

	// same position, different command, new worker as after a config edit and restart
	second := NewTerminalWorker(terminalConfig([]string{"/bin/echo", "b"}), env.deps)
	require.NoError(t, second.RunCycle(ctx))

	counts := env.statusCounts(t)
	assert.Equal(t, 2, counts[state.StatusDone])
	assert.Equal(t, 0, counts[state.StatusQueued])

	// reverting to the first command does not queue it again
	require.NoError(t, first.RunCycle(ctx))
	assert.Equal(t, 2, env.statusCounts(t)[state.StatusDone])
	assert.Len(t, env.eventNames(t), 6)
}

func TestTerminalWorker_Live(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}
	env := newTestEnv(t, false)
	w := NewTerminalWorker(terminalConfig([]string{"echo", "local action completed"}), env.deps)
	ctx := context.Background()

	require.NoError(t, w.RunCycle(ctx))

	var out TerminalOutput
	found, err := env.store.GetMemory(ctx, TerminalOutputKey, &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "local action completed", out.Stdout)
	assert.Equal(t, []string{"echo", "local action completed"}, out.Argv)
}

func TestTerminalWorker_VettingRejectionDrainsBatch(t *testing.T) {
	env := newTestEnv(t, true)
	w := NewTerminalWorker(terminalConfig(
		[]string{"rm", "-rf", "/tmp/x"},
		[]string{"bash", "-c", "echo hi"},
		[]string{"/bin/echo", "fine"},
	), env.deps)

	err := w.RunCycle(context.Background())
	require.Error(t, err)

	var vetErr *custom_errors.VettingError
	assert.True(t, errors.As(err, &vetErr))

	counts := env.statusCounts(t)
	assert.Equal(t, 2, counts[state.StatusFailed])
	assert.Equal(t, 1, counts[state.StatusDone])
	assert.Equal(t, 0, counts[state.StatusProcessing], "no claimed action may be stranded")

	names := env.eventNames(t)
	assert.Contains(t, names, "terminal_action_failed")
	assert.Contains(t, names, "terminal_action_completed")
}

func TestBrowserWorker_CancelledActionIsMarkedFailed(t *testing.T) {
	env := newTestEnv(t, true)
	w := NewBrowserWorker(config.BrowserWorkerConfig{
		BatchSize:        10,
		URLs:             []string{"about:blank", "https://example.com"},
		SimulatedDelayMs: 5000,
	}, env.deps)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	started := time.Now()
	err := w.RunCycle(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(started), 2*time.Second)

	counts := env.statusCounts(t)
	assert.Equal(t, 2, counts[state.StatusFailed])
	assert.Equal(t, 0, counts[state.StatusProcessing])
}

func TestBrowserWorker_LiveRecordsVisit(t *testing.T) {
	env := newTestEnv(t, false)
	w := NewBrowserWorker(config.BrowserWorkerConfig{
		BatchSize:    10,
		URLs:         []string{"https://www.example.com/docs", "https://other.test/"},
		AllowedHosts: []string{"example.com"},
	}, env.deps)
	ctx := context.Background()

	err := w.RunCycle(ctx)
	require.Error(t, err, "other.test is outside the host allowlist")

	var visit BrowserVisit
	found, err := env.store.GetMemory(ctx, BrowserVisitKey, &visit)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "https://www.example.com/docs", visit.URL)

	assert.Equal(t, []string{
		"action_queued",
		"action_queued",
		"browser_action_started",
		"browser_action_completed",
		"browser_action_started",
		"browser_action_failed",
	}, env.eventNames(t))
}

func TestRegistry(t *testing.T) {
	env := newTestEnv(t, true)

	cfg, err := config.NewAgentConfig()
	require.NoError(t, err)
	cfg.Workers.Browser.Enabled = false

	workers, err := DefaultRegistry().Build(cfg, env.deps)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, TerminalWorkerName, workers[0].Name())

	r := DefaultRegistry()
	assert.Equal(t, []string{TerminalWorkerName, BrowserWorkerName}, r.Names())
	assert.Error(t, r.Register(TerminalWorkerName, func(*config.AgentConfig, Deps) (Worker, error) { return nil, nil }))
	assert.Error(t, r.Register("", nil))
}

func TestRegistry_FactoryError(t *testing.T) {
	env := newTestEnv(t, true)
	r := NewRegistry()
	r.MustRegister("broken", func(*config.AgentConfig, Deps) (Worker, error) {
		return nil, errors.New("missing credentials")
	})

	_, err := r.Build(config.Default(), env.deps)
	assert.ErrorContains(t, err, "broken")
}
