// Package platform holds the social platform adapters. Every adapter is a local stub behind
// the same capability-tagged interface; Runner drives the enabled ones once per cycle.
package platform

import (
	"context"
	"errors"
	"time"
)

// ErrNoLiveIntegration is returned when an adapter configured with local_only=false is asked
// to reach the real platform.
var ErrNoLiveIntegration = errors.New("no live integration available")

// Capabilities describes what an adapter may do. Posting additionally requires allow_post
// in configuration and dry-run being off.
type Capabilities struct {
	Read  bool `json:"read"`
	Draft bool `json:"draft"`
	Post  bool `json:"post"`
}

// RateLimit is the minimum gap between two processed cycles of one adapter.
type RateLimit struct {
	MinInterval time.Duration
}

// Session is the login state persisted between cycles.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s Session) Valid(now time.Time) bool {
	return s.Token != "" && now.Before(s.ExpiresAt)
}

// FeedItem is one entry of a fetched feed.
type FeedItem struct {
	ID     string `json:"id"`
	Author string `json:"author"`
	Text   string `json:"text"`
}

type Adapter interface {
	Name() string
	Capabilities() Capabilities
	RateLimit() RateLimit

	// Login returns a usable session, reusing current when it is still valid.
	Login(ctx context.Context, current Session) (Session, error)
	FetchFeed(ctx context.Context, session Session, limit int) ([]FeedItem, error)
	DraftResponse(ctx context.Context, item FeedItem) (string, error)

	// Post publishes text in reply to item and returns the id of the new post.
	Post(ctx context.Context, session Session, item FeedItem, text string) (string, error)
	HealthCheck(ctx context.Context) error
}
