package types

import (
	"encoding/json"
	"time"
)

// QueuedRequest is a mutating backend call that could not be delivered.
// It is owned by the offline queue; only the queue's drain mutates
// RetryCount.
type QueuedRequest struct {
	ID            string          `json:"id"`
	Method        string          `json:"method"`
	Endpoint      string          `json:"endpoint"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	AttachedFiles []string        `json:"attached_files,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	RetryCount    int             `json:"retry_count"`
}
