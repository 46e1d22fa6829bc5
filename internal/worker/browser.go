package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/RezaEskandarii/autopilot/internal/policy"
	"github.com/RezaEskandarii/autopilot/internal/store"
	"github.com/RezaEskandarii/autopilot/types"
	"github.com/RezaEskandarii/autopilot/types/config"
)

const (
	BrowserWorkerName = "browser"
	ActionVisitURL    = "visit_url"

	// BrowserVisitKey records the last URL visited in live mode.
	BrowserVisitKey = "browser:last_visit"
)

type URLPayload struct {
	URL string `json:"url"`
}

type BrowserVisit struct {
	ActionID  int64     `json:"action_id"`
	URL       string    `json:"url"`
	VisitedAt time.Time `json:"visited_at"`
}

// browserHandler is a local placeholder for browser automation: a live visit is only
// recorded in memory, no network request is made.
type browserHandler struct {
	urls   []string
	policy *policy.URLPolicy
	store  store.StateStore
	delay  time.Duration
}

func NewBrowserWorker(cfg config.BrowserWorkerConfig, deps Deps) *Runner {
	delay := time.Duration(cfg.SimulatedDelayMs) * time.Millisecond
	h := &browserHandler{
		urls:   cfg.URLs,
		policy: policy.NewURLPolicy(cfg.AllowedHosts),
		store:  deps.Store,
		delay:  delay,
	}
	return NewRunner(BrowserWorkerName, h, deps, cfg.BatchSize, delay)
}

func (h *browserHandler) Tasks() []Task {
	tasks := make([]Task, 0, len(h.urls))
	for _, u := range h.urls {
		tasks = append(tasks, Task{
			ActionType: ActionVisitURL,
			Target:     u,
			Payload:    URLPayload{URL: u},
		})
	}
	return tasks
}

func (h *browserHandler) Vet(action types.QueuedAction) error {
	var payload URLPayload
	if err := action.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode url payload: %w", err)
	}
	_, err := h.policy.Vet(payload.URL)
	return err
}

func (h *browserHandler) Execute(ctx context.Context, action types.QueuedAction) error {
	var payload URLPayload
	if err := action.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode url payload: %w", err)
	}
	if err := sleepContext(ctx, h.delay); err != nil {
		return err
	}
	return h.store.SetMemory(ctx, BrowserVisitKey, BrowserVisit{
		ActionID:  action.ID,
		URL:       payload.URL,
		VisitedAt: time.Now().UTC(),
	})
}
