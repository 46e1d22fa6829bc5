package scheduler

import (
	"time"

	"github.com/RezaEskandarii/autopilot/internal/breaker"
)

// Outcome of one worker in one cycle.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeTimeout Outcome = "timeout"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped_breaker"
)

type WorkerStatus struct {
	Name        string           `json:"name"`
	LastOutcome Outcome          `json:"last_outcome,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
	LastElapsed time.Duration    `json:"last_elapsed_ns"`
	Breaker     breaker.Snapshot `json:"breaker"`
}

// Status is a point-in-time copy of the scheduler state.
type Status struct {
	RunID          string         `json:"run_id"`
	DryRun         bool           `json:"dry_run"`
	Cycles         int64          `json:"cycles"`
	LastCycleID    string         `json:"last_cycle_id,omitempty"`
	LastCycleStart time.Time      `json:"last_cycle_start"`
	LastCycleTook  time.Duration  `json:"last_cycle_took_ns"`
	NextCycleAt    time.Time      `json:"next_cycle_at"`
	Workers        []WorkerStatus `json:"workers"`
	Platforms      []string       `json:"platforms"`
}

func (s Status) clone() Status {
	s.Workers = append([]WorkerStatus(nil), s.Workers...)
	s.Platforms = append([]string(nil), s.Platforms...)
	return s
}

// Status returns a snapshot safe to read from any goroutine.
func (s *Scheduler) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status.clone()
}

func (s *Scheduler) updateStatus(fn func(st *Status)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	fn(&s.status)
}
