// Package scheduler drives the agent's cadence loop: every cycle runs the core workers
// concurrently under a watchdog, updates their circuit breakers, runs the enabled platform
// adapters one after another and sleeps until the next jittered boundary.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RezaEskandarii/autopilot/internal/breaker"
	"github.com/RezaEskandarii/autopilot/internal/observability"
	"github.com/RezaEskandarii/autopilot/internal/tracer"
	"github.com/RezaEskandarii/autopilot/internal/worker"
	"github.com/RezaEskandarii/autopilot/types/config"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// ErrWorkerTimeout is reported when a worker does not return within the watchdog timeout.
var ErrWorkerTimeout = errors.New("worker timed out")

type Settings struct {
	Interval         time.Duration
	Jitter           time.Duration
	WorkerTimeout    time.Duration
	FailureThreshold int
	CooldownCycles   int
	DryRun           bool
}

func SettingsFromConfig(c config.SchedulerConfig) Settings {
	return Settings{
		Interval:         c.Interval(),
		Jitter:           c.Jitter(),
		WorkerTimeout:    c.WorkerTimeout(),
		FailureThreshold: c.BreakerFailureThreshold,
		CooldownCycles:   c.BreakerCooldownCycles,
		DryRun:           c.DryRun,
	}
}

// PlatformRunner runs one platform adapter cycle. platform.Runner implements it.
type PlatformRunner interface {
	Platforms() []string
	ProcessCycle(ctx context.Context, name string) error
}

type Scheduler struct {
	settings  Settings
	workers   []worker.Worker
	breakers  map[string]*breaker.Breaker
	platforms PlatformRunner
	events    tracer.Emitter
	logger    *slog.Logger
	clock     Clock
	jitter    JitterFunc
	runID     string

	// detached tracks worker goroutines, including ones abandoned by the watchdog.
	detached sync.WaitGroup

	statusMu sync.RWMutex
	status   Status
}

type Option func(*Scheduler)

func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithJitterFunc(fn JitterFunc) Option {
	return func(s *Scheduler) { s.jitter = fn }
}

func WithPlatforms(p PlatformRunner) Option {
	return func(s *Scheduler) { s.platforms = p }
}

func WithRunID(id string) Option {
	return func(s *Scheduler) { s.runID = id }
}

func New(settings Settings, workers []worker.Worker, events tracer.Emitter, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		settings: settings,
		workers:  workers,
		breakers: make(map[string]*breaker.Breaker, len(workers)),
		events:   events,
		logger:   logger.With("component", "scheduler"),
		clock:    realClock{},
		jitter:   uniformJitter,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runID == "" {
		s.runID = uuid.NewString()
	}

	s.status = Status{RunID: s.runID, DryRun: settings.DryRun}
	for _, w := range workers {
		b := breaker.New(w.Name(), settings.FailureThreshold, settings.CooldownCycles)
		s.breakers[w.Name()] = b
		s.status.Workers = append(s.status.Workers, WorkerStatus{Name: w.Name(), Breaker: b.Snapshot()})
	}
	if s.platforms != nil {
		s.status.Platforms = s.platforms.Platforms()
	}
	return s
}

// Run executes cycles until ctx is cancelled. Cancellation is observed before a cycle
// starts and during the inter-cycle sleep; in-flight workers are not cancelled by it.
// On return every worker goroutine has exited or the drain deadline has passed.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"run_id", s.runID,
		"interval", s.settings.Interval,
		"jitter", s.settings.Jitter,
		"dry_run", s.settings.DryRun,
		"workers", len(s.workers),
	)

	for ctx.Err() == nil {
		sleep := s.RunOnce(ctx)

		select {
		case <-ctx.Done():
		case <-s.clock.After(sleep):
		}
	}

	s.Drain()
	s.logger.Info("scheduler stopped", "run_id", s.runID)
	return nil
}

// RunOnce runs a single cycle and returns how long to sleep before the next one.
func (s *Scheduler) RunOnce(ctx context.Context) time.Duration {
	cycleID := uuid.NewString()
	started := s.clock.Now()
	jitter := s.jitter(s.settings.Jitter)
	logger := s.logger.With("cycle_id", cycleID)

	ctx, span := observability.StartSpan(ctx, "scheduler.cycle",
		attribute.String("run_id", s.runID),
		attribute.String("cycle_id", cycleID),
	)
	defer span.End()

	var cycle int64
	s.updateStatus(func(st *Status) {
		st.Cycles++
		cycle = st.Cycles
		st.LastCycleID = cycleID
		st.LastCycleStart = started
	})

	logger.Info("cycle started", "cycle", cycle, "jitter", jitter)
	s.events.Emit("cycle_started", tracer.Fields{
		"run_id":         s.runID,
		"cycle_id":       cycleID,
		"cycle":          cycle,
		"jitter_seconds": jitter.Seconds(),
		"dry_run":        s.settings.DryRun,
	})

	s.guard(logger, cycleID, "workers", func() { s.runWorkers(ctx, logger) })
	s.guard(logger, cycleID, "platforms", func() { s.runPlatforms(ctx, logger) })

	elapsed := s.clock.Now().Sub(started)
	sleep := max(s.settings.Interval+jitter-elapsed, 0)

	s.updateStatus(func(st *Status) {
		st.LastCycleTook = elapsed
		st.NextCycleAt = started.Add(elapsed + sleep)
	})

	logger.Info("cycle completed", "elapsed", elapsed, "sleep", sleep)
	s.events.Emit("cycle_completed", tracer.Fields{
		"run_id":          s.runID,
		"cycle_id":        cycleID,
		"cycle":           cycle,
		"elapsed_seconds": elapsed.Seconds(),
		"sleep_seconds":   sleep.Seconds(),
	})
	return sleep
}

// guard keeps a panic in cycle orchestration from ending the loop.
func (s *Scheduler) guard(logger *slog.Logger, cycleID, stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("cycle orchestration panicked", "stage", stage, "panic", r)
			s.events.Emit("cycle_error", tracer.Fields{
				"cycle_id": cycleID,
				"stage":    stage,
				"error":    fmt.Sprint(r),
			})
		}
	}()
	fn()
}

type workerResult struct {
	err     error
	elapsed time.Duration
	skipped bool
}

func (s *Scheduler) runWorkers(ctx context.Context, logger *slog.Logger) {
	if len(s.workers) == 0 {
		return
	}
	results := make([]workerResult, len(s.workers))

	var g errgroup.Group
	g.SetLimit(len(s.workers))

	for i, w := range s.workers {
		if !s.breakers[w.Name()].CanRun() {
			results[i].skipped = true
			continue
		}
		g.Go(func() error {
			started := time.Now()
			results[i].err = s.watch(ctx, w)
			results[i].elapsed = time.Since(started)
			return nil
		})
	}
	_ = g.Wait()

	for i, w := range s.workers {
		name := w.Name()
		b := s.breakers[name]
		res := results[i]
		outcome := OutcomeSuccess

		switch {
		case res.skipped:
			outcome = OutcomeSkipped
			snap := b.Snapshot()
			logger.Warn("worker skipped by breaker", "worker", name, "cooldown_remaining", snap.CooldownRemaining)
			s.events.Emit("worker_skipped_breaker", tracer.Fields{
				"worker":             name,
				"cooldown_remaining": snap.CooldownRemaining,
			})
		case res.err == nil:
			b.Success()
			logger.Info("worker succeeded", "worker", name, "elapsed", res.elapsed)
			s.events.Emit("worker_success", tracer.Fields{
				"worker":     name,
				"elapsed_ms": res.elapsed.Milliseconds(),
			})
		case errors.Is(res.err, ErrWorkerTimeout):
			outcome = OutcomeTimeout
			b.Fail()
			logger.Warn("worker timed out", "worker", name, "timeout", s.settings.WorkerTimeout)
			s.events.Emit("worker_timeout", tracer.Fields{
				"worker":          name,
				"timeout_seconds": s.settings.WorkerTimeout.Seconds(),
			})
		default:
			outcome = OutcomeFailure
			b.Fail()
			logger.Error("worker failed", "worker", name, "error", res.err)
			s.events.Emit("worker_failure", tracer.Fields{
				"worker": name,
				"error":  res.err.Error(),
			})
		}

		if b.State() == breaker.Open && outcome != OutcomeSkipped {
			logger.Warn("breaker opened", "worker", name, "cooldown_cycles", s.settings.CooldownCycles)
		}

		snap := b.Snapshot()
		s.updateStatus(func(st *Status) {
			ws := &st.Workers[i]
			ws.LastOutcome = outcome
			ws.LastElapsed = res.elapsed
			ws.LastError = ""
			if res.err != nil {
				ws.LastError = res.err.Error()
			}
			ws.Breaker = snap
		})
	}
}

// watch runs w under the watchdog. The worker context is detached from ctx so shutdown is
// not propagated into in-flight work; it is cancelled only when the timeout expires.
func (s *Scheduler) watch(ctx context.Context, w worker.Worker) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.WorkerTimeout)

	ctx, span := observability.StartSpan(wctx, "worker.cycle", attribute.String("worker", w.Name()))

	done := make(chan error, 1)
	s.detached.Add(1)
	go func() {
		defer s.detached.Done()
		defer cancel()
		done <- invoke(ctx, w)
	}()

	var err error
	select {
	case err = <-done:
		if errors.Is(wctx.Err(), context.DeadlineExceeded) && errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s: %w after %s: %w", w.Name(), ErrWorkerTimeout, s.settings.WorkerTimeout, err)
		}
	case <-wctx.Done():
		select {
		case err = <-done:
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%s: %w after %s: %w", w.Name(), ErrWorkerTimeout, s.settings.WorkerTimeout, err)
			}
		default:
			s.logger.Warn("abandoning worker past its timeout", "worker", w.Name())
			err = fmt.Errorf("%s: %w after %s", w.Name(), ErrWorkerTimeout, s.settings.WorkerTimeout)
		}
	}
	observability.EndSpan(span, err)
	return err
}

func invoke(ctx context.Context, w worker.Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", w.Name(), r)
		}
	}()
	return w.RunCycle(ctx)
}

// runPlatforms runs the enabled adapters sequentially. Adapter errors and panics are
// logged and emitted, never returned.
func (s *Scheduler) runPlatforms(ctx context.Context, logger *slog.Logger) {
	if s.platforms == nil {
		return
	}
	for _, name := range s.platforms.Platforms() {
		if ctx.Err() != nil {
			return
		}
		if err := s.processPlatform(ctx, name); err != nil {
			logger.Error("platform adapter failed", "platform", name, "error", err)
			s.events.Emit("platform_failure", tracer.Fields{
				"platform": name,
				"error":    err.Error(),
			})
		}
	}
}

func (s *Scheduler) processPlatform(ctx context.Context, name string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("platform %s panicked: %v", name, r)
		}
	}()
	return s.platforms.ProcessCycle(ctx, name)
}

// Drain waits for detached worker goroutines, bounded by one more watchdog period.
func (s *Scheduler) Drain() {
	done := make(chan struct{})
	go func() {
		s.detached.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.settings.WorkerTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn("worker goroutines still running at shutdown", "waited", s.settings.WorkerTimeout)
	}
}
