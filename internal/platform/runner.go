package platform

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RezaEskandarii/autopilot/internal/observability"
	"github.com/RezaEskandarii/autopilot/internal/policy"
	"github.com/RezaEskandarii/autopilot/internal/store"
	"github.com/RezaEskandarii/autopilot/internal/tracer"
	"github.com/RezaEskandarii/autopilot/types/config"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
)

const feedLimit = defaultFeedSize

// Block reasons carried by platform_post_blocked.
const (
	BlockedProhibitedTerms = "prohibited_terms"
	BlockedCapability      = "capability"
	BlockedNotAllowed      = "allow_post_disabled"
	BlockedDryRun          = "dry_run"
)

func LastRunKey(name string) string {
	return "platform:" + name + ":last_run"
}

func SessionKey(name string) string {
	return "platform:" + name + ":session"
}

type entry struct {
	adapter   Adapter
	schedule  cron.Schedule
	allowPost bool
}

// Runner processes the enabled adapters. It is driven by the scheduler one adapter at a
// time, so an adapter's session and rate-limit memory is never touched concurrently.
type Runner struct {
	names   []string
	entries map[string]entry
	store   store.StateStore
	events  tracer.Emitter
	logger  *slog.Logger
	dryRun  bool
	now     func() time.Time
}

type RunnerOption func(*Runner)

func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner builds the enabled adapters of cfg. Disabled platforms are logged and skipped;
// an enabled platform the registry does not know is an error.
func NewRunner(cfg *config.AgentConfig, registry *Registry, st store.StateStore, events tracer.Emitter, logger *slog.Logger, opts ...RunnerOption) (*Runner, error) {
	r := &Runner{
		entries: make(map[string]entry),
		store:   st,
		events:  events,
		logger:  logger.With("component", "platforms"),
		dryRun:  cfg.Scheduler.DryRun,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, name := range cfg.PlatformNames() {
		pc := cfg.Platforms[name]
		if !pc.Enabled {
			r.logger.Debug("platform disabled", "platform", name)
			continue
		}
		adapter, err := registry.New(name, pc)
		if err != nil {
			return nil, err
		}
		e := entry{adapter: adapter, allowPost: pc.AllowPost}
		if pc.Schedule != "" {
			sched, err := cron.ParseStandard(pc.Schedule)
			if err != nil {
				return nil, fmt.Errorf("platform %s schedule: %w", name, err)
			}
			e.schedule = sched
		}
		r.names = append(r.names, name)
		r.entries[name] = e
	}
	return r, nil
}

// Platforms returns the enabled platform names in processing order.
func (r *Runner) Platforms() []string {
	return append([]string(nil), r.names...)
}

type cycleResult struct {
	fetched int
	drafted int
	posted  int
	blocked int
}

// ProcessCycle runs one gated cycle of the named adapter: schedule and rate-limit gates,
// health check, login, fetch, draft, vet and (when permitted) post.
func (r *Runner) ProcessCycle(ctx context.Context, name string) (err error) {
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("platform %q is not enabled", name)
	}
	logger := r.logger.With("platform", name)

	ctx, span := observability.StartSpan(ctx, "platform.cycle",
		attribute.String("platform", name),
		attribute.Bool("dry_run", r.dryRun),
	)
	defer func() { observability.EndSpan(span, err) }()

	now := r.now()
	var lastRun time.Time
	ranBefore, err := r.store.GetMemory(ctx, LastRunKey(name), &lastRun)
	if err != nil {
		return err
	}

	if ranBefore && e.schedule != nil {
		if next := e.schedule.Next(lastRun); next.After(now) {
			logger.Debug("platform not due", "next_run", next)
			return nil
		}
	}
	if limit := e.adapter.RateLimit().MinInterval; ranBefore && now.Sub(lastRun) < limit {
		retryIn := limit - now.Sub(lastRun)
		logger.Info("platform rate limited", "retry_in", retryIn)
		r.events.Emit("platform_rate_limited", tracer.Fields{
			"platform":    name,
			"retry_in_ms": retryIn.Milliseconds(),
		})
		return nil
	}

	if err := e.adapter.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s health check: %w", name, err)
	}

	session, err := r.session(ctx, name, e.adapter, now)
	if err != nil {
		return err
	}

	result, err := r.engage(ctx, name, e, session, logger)
	if err != nil {
		return err
	}

	if err := r.store.SetMemory(ctx, LastRunKey(name), now); err != nil {
		return err
	}

	logger.Info("platform cycle completed",
		"fetched", result.fetched, "drafted", result.drafted, "posted", result.posted, "dry_run", r.dryRun)
	r.events.Emit("platform_cycle_completed", tracer.Fields{
		"platform": name,
		"fetched":  result.fetched,
		"drafted":  result.drafted,
		"posted":   result.posted,
		"blocked":  result.blocked,
		"dry_run":  r.dryRun,
	})
	return nil
}

func (r *Runner) session(ctx context.Context, name string, adapter Adapter, now time.Time) (Session, error) {
	var session Session
	if _, err := r.store.GetMemory(ctx, SessionKey(name), &session); err != nil {
		return Session{}, err
	}
	if session.Valid(now) {
		return session, nil
	}

	r.events.Emit("platform_login_required", tracer.Fields{"platform": name})
	session, err := adapter.Login(ctx, session)
	if err != nil {
		return Session{}, fmt.Errorf("%s login: %w", name, err)
	}
	if err := r.store.SetMemory(ctx, SessionKey(name), session); err != nil {
		return Session{}, err
	}
	return session, nil
}

func (r *Runner) engage(ctx context.Context, name string, e entry, session Session, logger *slog.Logger) (cycleResult, error) {
	var result cycleResult
	caps := e.adapter.Capabilities()

	if !caps.Read {
		return result, nil
	}
	items, err := e.adapter.FetchFeed(ctx, session, feedLimit)
	if err != nil {
		return result, fmt.Errorf("%s fetch feed: %w", name, err)
	}
	result.fetched = len(items)
	if !caps.Draft {
		return result, nil
	}

	for _, item := range items {
		draft, err := e.adapter.DraftResponse(ctx, item)
		if err != nil {
			return result, fmt.Errorf("%s draft: %w", name, err)
		}
		result.drafted++

		reason := ""
		vetErr := policy.VetText(name+" draft", draft)
		switch {
		case vetErr != nil:
			reason = BlockedProhibitedTerms
		case !caps.Post:
			reason = BlockedCapability
		case !e.allowPost:
			reason = BlockedNotAllowed
		case r.dryRun:
			reason = BlockedDryRun
		}

		if reason != "" {
			result.blocked++
			fields := tracer.Fields{"platform": name, "item_id": item.ID, "reason": reason}
			if vetErr != nil {
				fields["error"] = vetErr.Error()
				logger.Warn("draft rejected", "item_id", item.ID, "error", vetErr)
			}
			r.events.Emit("platform_post_blocked", fields)
			continue
		}

		postID, err := e.adapter.Post(ctx, session, item, draft)
		if err != nil {
			return result, fmt.Errorf("%s post: %w", name, err)
		}
		result.posted++
		logger.Info("reply posted", "item_id", item.ID, "post_id", postID)
	}
	return result, nil
}
