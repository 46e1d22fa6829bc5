package platform

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/RezaEskandarii/autopilot/internal/db"
	"github.com/RezaEskandarii/autopilot/internal/lock"
	"github.com/RezaEskandarii/autopilot/internal/store/sqlite"
	"github.com/RezaEskandarii/autopilot/internal/tracer"
	"github.com/RezaEskandarii/autopilot/types/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type mockAdapter struct {
	name            string
	caps            Capabilities
	draftFunc       func(item FeedItem) (string, error)
	healthCheckFunc func() error
	posted          []string
}

func (m *mockAdapter) Name() string               { return m.name }
func (m *mockAdapter) Capabilities() Capabilities { return m.caps }
func (m *mockAdapter) RateLimit() RateLimit       { return RateLimit{} }

func (m *mockAdapter) Login(_ context.Context, current Session) (Session, error) {
	return Session{Token: "mock", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (m *mockAdapter) FetchFeed(context.Context, Session, int) ([]FeedItem, error) {
	return []FeedItem{{ID: "1", Author: "alice", Text: "hello"}}, nil
}

func (m *mockAdapter) DraftResponse(_ context.Context, item FeedItem) (string, error) {
	if m.draftFunc != nil {
		return m.draftFunc(item)
	}
	return "thanks " + item.Author, nil
}

func (m *mockAdapter) Post(_ context.Context, _ Session, _ FeedItem, text string) (string, error) {
	m.posted = append(m.posted, text)
	return "p1", nil
}

func (m *mockAdapter) HealthCheck(context.Context) error {
	if m.healthCheckFunc != nil {
		return m.healthCheckFunc()
	}
	return nil
}

type testEnv struct {
	store      *sqlite.SQLiteStateStore
	events     *tracer.Tracer
	eventsPath string
	logger     *slog.Logger
	clock      *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
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

	return &testEnv{store: s, events: tr, eventsPath: eventsPath, logger: logger, clock: &fakeClock{now: time.Now()}}
}

func (e *testEnv) runner(t *testing.T, cfg *config.AgentConfig, registry *Registry) *Runner {
	t.Helper()
	r, err := NewRunner(cfg, registry, e.store, e.events, e.logger, WithRunnerClock(e.clock.Now))
	require.NoError(t, err)
	return r
}

func (e *testEnv) records(t *testing.T) []tracer.Record {
	t.Helper()
	records, err := tracer.ReadEvents(e.eventsPath)
	require.NoError(t, err)
	return records
}

func (e *testEnv) eventNames(t *testing.T) []string {
	var names []string
	for _, r := range e.records(t) {
		names = append(names, r.Event())
	}
	return names
}

func agentConfig(t *testing.T, dryRun bool, platforms map[string]config.PlatformConfig) *config.AgentConfig {
	t.Helper()
	opts := []config.Option{config.WithDryRun(dryRun)}
	for name, pc := range platforms {
		opts = append(opts, config.WithPlatform(name, pc))
	}
	cfg, err := config.NewAgentConfig(opts...)
	require.NoError(t, err)
	return cfg
}

func TestNewRunner_OnlyEnabledPlatforms(t *testing.T) {
	env := newTestEnv(t)
	cfg := agentConfig(t, true, map[string]config.PlatformConfig{
		"mastodon": {Enabled: true},
		"twitter":  {Enabled: true},
	})

	r := env.runner(t, cfg, DefaultRegistry())
	assert.Equal(t, []string{"twitter", "mastodon"}, r.Platforms())

	assert.Error(t, r.ProcessCycle(context.Background(), "reddit"))
}

func TestNewRunner_UnknownPlatform(t *testing.T) {
	env := newTestEnv(t)
	cfg := agentConfig(t, true, map[string]config.PlatformConfig{"myspace": {Enabled: true}})

	_, err := NewRunner(cfg, DefaultRegistry(), env.store, env.events, env.logger)
	assert.ErrorContains(t, err, "myspace")
}

func TestRunner_DryRunCycleAndRateLimit(t *testing.T) {
	env := newTestEnv(t)
	cfg := agentConfig(t, true, map[string]config.PlatformConfig{"twitter": {Enabled: true, AllowPost: true}})
	r := env.runner(t, cfg, DefaultRegistry())
	ctx := context.Background()

	require.NoError(t, r.ProcessCycle(ctx, "twitter"))

	records := env.records(t)
	require.Len(t, records, 3)
	assert.Equal(t, "platform_login_required", records[0].Event())
	assert.Equal(t, "platform_post_blocked", records[1].Event())
	assert.Equal(t, BlockedDryRun, records[1]["reason"])
	assert.Equal(t, "platform_cycle_completed", records[2].Event())
	assert.EqualValues(t, 1, records[2]["fetched"])
	assert.EqualValues(t, 0, records[2]["posted"])

	var session Session
	found, err := env.store.GetMemory(ctx, SessionKey("twitter"), &session)
	require.NoError(t, err)
	require.True(t, found)
	assert.NotEmpty(t, session.Token)

	env.clock.Advance(time.Minute)
	require.NoError(t, r.ProcessCycle(ctx, "twitter"))
	assert.Equal(t, "platform_rate_limited", env.records(t)[3].Event())

	env.clock.Advance(15 * time.Minute)
	require.NoError(t, r.ProcessCycle(ctx, "twitter"))
	names := env.eventNames(t)
	assert.Equal(t, []string{"platform_post_blocked", "platform_cycle_completed"}, names[4:],
		"a persisted session must be reused without logging in again")
}

func TestRunner_LivePost(t *testing.T) {
	tests := []struct {
		name       string
		platform   string
		allowPost  bool
		wantPosted int
		wantReason string
	}{
		{name: "allowed", platform: "mastodon", allowPost: true, wantPosted: 1},
		{name: "allow_post off", platform: "mastodon", allowPost: false, wantReason: BlockedNotAllowed},
		{name: "no post capability", platform: "facebook", allowPost: true, wantReason: BlockedCapability},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			cfg := agentConfig(t, false, map[string]config.PlatformConfig{tt.platform: {Enabled: true, AllowPost: tt.allowPost}})
			r := env.runner(t, cfg, DefaultRegistry())

			require.NoError(t, r.ProcessCycle(context.Background(), tt.platform))

			records := env.records(t)
			last := records[len(records)-1]
			assert.Equal(t, "platform_cycle_completed", last.Event())
			assert.EqualValues(t, tt.wantPosted, last["posted"])
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, records[len(records)-2]["reason"])
			}
		})
	}
}

func TestRunner_ProhibitedDraftIsBlocked(t *testing.T) {
	env := newTestEnv(t)
	mock := &mockAdapter{
		name: "mock",
		caps: Capabilities{Read: true, Draft: true, Post: true},
		draftFunc: func(FeedItem) (string, error) {
			return "DM me your Password for a prize", nil
		},
	}
	registry := NewRegistry()
	registry.MustRegister("mock", func(config.PlatformConfig) (Adapter, error) { return mock, nil })

	cfg := agentConfig(t, false, map[string]config.PlatformConfig{"mock": {Enabled: true, AllowPost: true}})
	r := env.runner(t, cfg, registry)

	require.NoError(t, r.ProcessCycle(context.Background(), "mock"))

	assert.Empty(t, mock.posted)
	records := env.records(t)
	require.Len(t, records, 3)
	assert.Equal(t, BlockedProhibitedTerms, records[1]["reason"])
	assert.Contains(t, records[1]["error"], "password")
}

func TestRunner_HealthCheckFailure(t *testing.T) {
	env := newTestEnv(t)
	mock := &mockAdapter{
		name:            "mock",
		caps:            Capabilities{Read: true},
		healthCheckFunc: func() error { return errors.New("upstream unavailable") },
	}
	registry := NewRegistry()
	registry.MustRegister("mock", func(config.PlatformConfig) (Adapter, error) { return mock, nil })
	cfg := agentConfig(t, true, map[string]config.PlatformConfig{"mock": {Enabled: true}})
	r := env.runner(t, cfg, registry)

	err := r.ProcessCycle(context.Background(), "mock")
	assert.ErrorContains(t, err, "upstream unavailable")

	found, err := env.store.GetMemory(context.Background(), LastRunKey("mock"), &time.Time{})
	require.NoError(t, err)
	assert.False(t, found, "a failed cycle must not count against the rate limit")
}

func TestRunner_ScheduleGate(t *testing.T) {
	env := newTestEnv(t)
	env.clock.now = time.Now().Truncate(time.Hour).Add(5 * time.Minute)
	cfg := agentConfig(t, true, map[string]config.PlatformConfig{
		"mastodon": {Enabled: true, Schedule: "0 * * * *", Options: map[string]any{"min_interval_seconds": 0}},
	})
	r := env.runner(t, cfg, DefaultRegistry())
	ctx := context.Background()

	require.NoError(t, r.ProcessCycle(ctx, "mastodon"))
	first := len(env.records(t))

	env.clock.Advance(25 * time.Minute)
	require.NoError(t, r.ProcessCycle(ctx, "mastodon"))
	assert.Len(t, env.records(t), first, "not due before the next scheduled slot")

	env.clock.Advance(31 * time.Minute)
	require.NoError(t, r.ProcessCycle(ctx, "mastodon"))
	assert.Greater(t, len(env.records(t)), first)
}

func TestRunner_NotLocalOnly(t *testing.T) {
	env := newTestEnv(t)
	cfg := agentConfig(t, true, map[string]config.PlatformConfig{
		"reddit": {Enabled: true, Options: map[string]any{"local_only": false}},
	})
	r := env.runner(t, cfg, DefaultRegistry())

	err := r.ProcessCycle(context.Background(), "reddit")
	assert.True(t, errors.Is(err, ErrNoLiveIntegration), "got %v", err)
}

func TestStubAdapter_Feed(t *testing.T) {
	ctx := context.Background()
	a := newStubAdapter(profiles["tiktok"], config.PlatformConfig{
		Options: map[string]any{"feed": []any{"one", "two", "three", "four"}},
	})

	session, err := a.Login(ctx, Session{})
	require.NoError(t, err)
	assert.True(t, session.Valid(time.Now()))

	again, err := a.Login(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, session, again)

	items, err := a.FetchFeed(ctx, session, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "one", items[0].Text)

	_, err = a.DraftResponse(ctx, items[0])
	assert.Error(t, err, "tiktok cannot draft")

	_, err = a.FetchFeed(ctx, Session{}, 2)
	assert.Error(t, err)
}
