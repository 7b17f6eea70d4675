package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

// QueueStore persists the offline queue as a whole. Save always receives
// the complete queue and replaces whatever was stored before; there is no
// append-only log.
//
// A QueueStore is owned by exactly one queue in one process. Sharing the
// same file or database between processes is last-writer-wins and is not
// supported.
type QueueStore interface {
	Load(ctx context.Context) ([]types.QueuedRequest, error)
	Save(ctx context.Context, reqs []types.QueuedRequest) error
}

// ImageStore holds captured lane images.
type ImageStore interface {
	// PruneOlderThan deletes images last modified before cutoff and
	// returns how many were removed.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
