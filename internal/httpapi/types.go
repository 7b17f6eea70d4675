package httpapi

import (
	"time"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

type StatusResponse struct {
	Lane             types.Position     `json:"lane"`
	LaneID           string             `json:"lane_id"`
	State            types.State        `json:"state"`
	Cycles           uint64             `json:"cycles"`
	QueueSize        int                `json:"queue_size"`
	BackendReachable bool               `json:"backend_reachable"`
	BackendCheckedAt *time.Time         `json:"backend_checked_at,omitempty"`
	LastCycle        *types.CycleResult `json:"last_cycle"`
}

// QueuedItem omits the payload; it may carry plates and card ids.
type QueuedItem struct {
	ID         string    `json:"id"`
	Method     string    `json:"method"`
	Endpoint   string    `json:"endpoint,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	RetryCount int       `json:"retry_count"`
}

type QueueResponse struct {
	Size  int          `json:"size"`
	Items []QueuedItem `json:"items"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
