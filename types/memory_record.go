package types

import (
	"encoding/json"
	"time"
)

// MemoryRecord is a cross-cycle key/value entry, e.g. a worker's pagination cursor.
type MemoryRecord struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}
