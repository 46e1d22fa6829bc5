package platform

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/RezaEskandarii/autopilot/types/config"
	"github.com/google/uuid"
)

const (
	sessionTTL      = time.Hour
	defaultFeedSize = 3
)

// profile is the static description of one platform.
type profile struct {
	name        string
	caps        Capabilities
	minInterval time.Duration
	replyFormat string
}

var profiles = map[string]profile{
	"twitter": {
		name:        "twitter",
		caps:        Capabilities{Read: true, Draft: true, Post: true},
		minInterval: 15 * time.Minute,
		replyFormat: "@%s thanks for sharing this.",
	},
	"reddit": {
		name:        "reddit",
		caps:        Capabilities{Read: true, Draft: true, Post: true},
		minInterval: 10 * time.Minute,
		replyFormat: "Thanks u/%s, this was a useful read.",
	},
	"linkedin": {
		name:        "linkedin",
		caps:        Capabilities{Read: true, Draft: true, Post: true},
		minInterval: time.Hour,
		replyFormat: "Great insight, %s. Thanks for posting.",
	},
	"facebook": {
		name:        "facebook",
		caps:        Capabilities{Read: true, Draft: true},
		minInterval: time.Hour,
		replyFormat: "Thanks %s!",
	},
	"instagram": {
		name:        "instagram",
		caps:        Capabilities{Read: true, Draft: true},
		minInterval: time.Hour,
		replyFormat: "Love this, @%s.",
	},
	"tiktok": {
		name:        "tiktok",
		caps:        Capabilities{Read: true},
		minInterval: 2 * time.Hour,
		replyFormat: "Nice one @%s.",
	},
	"mastodon": {
		name:        "mastodon",
		caps:        Capabilities{Read: true, Draft: true, Post: true},
		minInterval: 5 * time.Minute,
		replyFormat: "@%s thanks for the toot.",
	},
}

// stubAdapter serves a platform entirely from local state. With local_only (the default)
// logins, feeds and posts are synthesized; otherwise every network operation fails with
// ErrNoLiveIntegration.
type stubAdapter struct {
	profile
	localOnly bool
	feed      []string
	now       func() time.Time
}

func newStubAdapter(p profile, cfg config.PlatformConfig) *stubAdapter {
	a := &stubAdapter{
		profile:   p,
		localOnly: optionBool(cfg.Options, "local_only", true),
		feed:      optionStrings(cfg.Options, "feed"),
		now:       time.Now,
	}
	if seconds := optionInt(cfg.Options, "min_interval_seconds", -1); seconds >= 0 {
		a.minInterval = time.Duration(seconds) * time.Second
	}
	return a
}

func (a *stubAdapter) Name() string {
	return a.name
}

func (a *stubAdapter) Capabilities() Capabilities {
	return a.caps
}

func (a *stubAdapter) RateLimit() RateLimit {
	return RateLimit{MinInterval: a.minInterval}
}

func (a *stubAdapter) Login(ctx context.Context, current Session) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	now := a.now()
	if current.Valid(now) {
		return current, nil
	}
	if !a.localOnly {
		return Session{}, fmt.Errorf("%s login: %w", a.name, ErrNoLiveIntegration)
	}
	return Session{
		Token:     a.name + "-local-" + uuid.NewString(),
		ExpiresAt: now.Add(sessionTTL),
	}, nil
}

func (a *stubAdapter) FetchFeed(ctx context.Context, session Session, limit int) ([]FeedItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !a.caps.Read {
		return nil, nil
	}
	if !session.Valid(a.now()) {
		return nil, fmt.Errorf("%s fetch: session expired", a.name)
	}

	texts := a.feed
	if len(texts) == 0 {
		texts = []string{fmt.Sprintf("Placeholder %s post for local testing", a.name)}
	}
	if limit <= 0 {
		limit = defaultFeedSize
	}
	items := make([]FeedItem, 0, min(limit, len(texts)))
	for i, text := range texts {
		if i == limit {
			break
		}
		items = append(items, FeedItem{
			ID:     a.name + "-" + strconv.Itoa(i+1),
			Author: "local_user_" + strconv.Itoa(i+1),
			Text:   text,
		})
	}
	return items, nil
}

func (a *stubAdapter) DraftResponse(ctx context.Context, item FeedItem) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !a.caps.Draft {
		return "", fmt.Errorf("%s cannot draft responses", a.name)
	}
	return fmt.Sprintf(a.replyFormat, item.Author), nil
}

func (a *stubAdapter) Post(ctx context.Context, session Session, item FeedItem, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !a.caps.Post {
		return "", fmt.Errorf("%s cannot post", a.name)
	}
	if !a.localOnly {
		return "", fmt.Errorf("%s post: %w", a.name, ErrNoLiveIntegration)
	}
	if !session.Valid(a.now()) {
		return "", fmt.Errorf("%s post: session expired", a.name)
	}
	return a.name + "-reply-" + uuid.NewString(), nil
}

func (a *stubAdapter) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func optionBool(opts map[string]any, key string, def bool) bool {
	switch v := opts[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func optionInt(opts map[string]any, key string, def int) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == math.Trunc(v) {
			return int(v)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func optionStrings(opts map[string]any, key string) []string {
	raw, ok := opts[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

var _ Adapter = (*stubAdapter)(nil)
