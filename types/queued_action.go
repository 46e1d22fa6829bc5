package types

import (
	"encoding/json"
	"time"

	"github.com/RezaEskandarii/autopilot/internal/state"
)

// QueuedAction is one unit of durable work owned by a single worker.
type QueuedAction struct {
	ID             int64              `json:"id"`
	Worker         string             `json:"worker"`
	ActionType     string             `json:"action_type"`
	Payload        json.RawMessage    `json:"payload"`
	IdempotencyKey string             `json:"idempotency_key"`
	Status         state.ActionStatus `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// DecodePayload unmarshals the action payload into dest.
func (a QueuedAction) DecodePayload(dest any) error {
	return json.Unmarshal(a.Payload, dest)
}
