package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/RezaEskandarii/autopilot/internal/db"
	"github.com/RezaEskandarii/autopilot/internal/lock"
	"github.com/RezaEskandarii/autopilot/internal/message_broaker"
	"github.com/RezaEskandarii/autopilot/internal/observability"
	"github.com/RezaEskandarii/autopilot/internal/platform"
	"github.com/RezaEskandarii/autopilot/internal/scheduler"
	"github.com/RezaEskandarii/autopilot/internal/store"
	"github.com/RezaEskandarii/autopilot/internal/tracer"
	"github.com/RezaEskandarii/autopilot/internal/worker"
	"github.com/RezaEskandarii/autopilot/types/config"
	"github.com/RezaEskandarii/autopilot/web"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const serviceName = "autopilot"

// Container holds all application dependencies. It is the single source of truth
// for dependency injection and ensures connections and services are created once.
type Container struct {
	Config *config.AgentConfig
	Logger *slog.Logger
	RunID  string

	// Storage connection (created once, shared by the store and the lock manager)
	DB *sql.DB

	Store store.StateStore

	// Infrastructure
	LockManager   lock.DistributedLockManager
	MessageBroker message_broaker.MessageBroker
	Events        *tracer.Tracer

	Workers   []worker.Worker
	Platforms *platform.Runner
	Scheduler *scheduler.Scheduler

	// StatusServer is nil unless status.enabled is set.
	StatusServer *web.HttpRouteHandler

	shutdownTracing func(context.Context) error
}

// NewContainer creates and wires all dependencies. Single entry point for DI.
// Call this once per application lifecycle. On error everything opened so far is closed.
func NewContainer(ctx context.Context, cfg *config.AgentConfig, logger *slog.Logger, opts ...ContainerOption) (_ *Container, err error) {
	opt := &containerConfig{}
	for _, o := range opts {
		o(opt)
	}
	if opt.workerRegistry == nil {
		opt.workerRegistry = worker.DefaultRegistry()
	}
	if opt.platformRegistry == nil {
		opt.platformRegistry = platform.DefaultRegistry()
	}
	if opt.traceWriter == nil {
		opt.traceWriter = os.Stderr
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
		RunID:  uuid.NewString(),
	}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
		}
	}()

	c.shutdownTracing, err = observability.InitTracing(cfg.Tracing.Exporter, serviceName, c.RunID, opt.traceWriter)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	c.DB = opt.db
	if c.DB == nil {
		c.DB, err = db.Open(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
	}

	c.LockManager = createDistributedLockManager(cfg.Storage.Driver, c.DB)
	if err := db.Init(ctx, c.DB, cfg.Storage.Driver, c.LockManager, logger); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	c.Store, err = createStateStore(cfg.Storage.Driver, c.DB)
	if err != nil {
		return nil, err
	}

	c.MessageBroker = opt.broker
	if c.MessageBroker == nil {
		c.MessageBroker, err = message_broaker.New(ctx, cfg.Events.Mirror)
		if err != nil {
			return nil, fmt.Errorf("init event mirror: %w", err)
		}
	}

	var tracerOpts []tracer.Option
	if c.MessageBroker != nil {
		tracerOpts = append(tracerOpts, tracer.WithMirror(c.MessageBroker, cfg.Events.Mirror.Queue))
	}
	c.Events, err = tracer.New(cfg.Events.Path, logger, tracerOpts...)
	if err != nil {
		return nil, fmt.Errorf("init event log: %w", err)
	}

	c.Workers, err = opt.workerRegistry.Build(cfg, worker.Deps{
		Store:  c.Store,
		Events: c.Events,
		Logger: logger,
		DryRun: cfg.Scheduler.DryRun,
	})
	if err != nil {
		return nil, err
	}

	c.Platforms, err = platform.NewRunner(cfg, opt.platformRegistry, c.Store, c.Events, logger)
	if err != nil {
		return nil, err
	}

	c.Scheduler = scheduler.New(
		scheduler.SettingsFromConfig(cfg.Scheduler),
		c.Workers,
		c.Events,
		logger,
		scheduler.WithPlatforms(c.Platforms),
		scheduler.WithRunID(c.RunID),
	)

	if cfg.Status.Enabled {
		c.StatusServer = web.NewRouteHandler(c.Store, c.Scheduler, logger, cfg.Status.TokenHash, cfg.Status.Port)
	}
	return c, nil
}

// Run drives the scheduler, and the status API when enabled, until ctx is cancelled.
// A status API failure is logged and never stops the scheduler.
func (c *Container) Run(ctx context.Context) error {
	var g errgroup.Group
	if c.StatusServer != nil {
		g.Go(func() error {
			if err := c.StatusServer.Serve(ctx); err != nil {
				c.Logger.Error("status API stopped", "port", c.StatusServer.Port, "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return c.Scheduler.Run(ctx)
	})
	return g.Wait()
}

// RunOnce runs a single cycle and waits for its worker goroutines.
func (c *Container) RunOnce(ctx context.Context) {
	c.Scheduler.RunOnce(ctx)
	c.Scheduler.Drain()
}

// Close releases everything the container opened, in reverse order.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.Events != nil {
		errs = append(errs, c.Events.Close())
	}
	if c.MessageBroker != nil {
		errs = append(errs, c.MessageBroker.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	} else if c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	if c.shutdownTracing != nil {
		errs = append(errs, c.shutdownTracing(ctx))
	}
	return errors.Join(errs...)
}
