// Package queue implements the lane's offline request queue: a bounded,
// durable FIFO of backend calls that could not be delivered.
//
// The queue is rewritten in full to its store after every mutation and
// rehydrated once at start-up. A missing or unreadable store yields an
// empty queue; the lane never refuses to start because of queue state.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/store"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

const (
	DefaultCapacity   = 100
	DefaultMaxRetries = 5
)

type Config struct {
	// Capacity bounds the queue. Enqueue at capacity evicts the oldest
	// entry.
	Capacity int

	// MaxRetries is the drop threshold: an entry whose RetryCount reaches
	// it is removed on drain.
	MaxRetries int
}

// ErrStopDrain, wrapped in a replay error, ends the drain pass after that
// entry is counted as failed. Entries not yet replayed keep their retry
// counts for the next pass.
var ErrStopDrain = errors.New("drain stopped")

// ReplayFunc re-issues a queued request. A nil error means the request
// landed and can be forgotten.
type ReplayFunc func(ctx context.Context, req types.QueuedRequest) error

// DrainReport summarises one drain pass.
type DrainReport struct {
	Replayed int
	Retained int
	Dropped  int
	// Stopped is set when a replay ended the pass early.
	Stopped bool
}

type Queue struct {
	mu    sync.Mutex
	store store.QueueStore
	cfg   Config
	items []types.QueuedRequest
	log   zerolog.Logger
	now   func() time.Time
}

// Open rehydrates the queue from st.
func Open(ctx context.Context, st store.QueueStore, cfg Config, log zerolog.Logger) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	q := &Queue{
		store: st,
		cfg:   cfg,
		log:   log.With().Str("component", "offline_queue").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}

	items, err := st.Load(ctx)
	if err != nil {
		q.log.Error().Err(err).Msg("failed to load offline queue, starting empty")
		items = nil
	}
	if len(items) > cfg.Capacity {
		q.log.Warn().Int("loaded", len(items)).Int("capacity", cfg.Capacity).
			Msg("stored queue exceeds capacity, keeping newest entries")
		items = items[len(items)-cfg.Capacity:]
	}
	q.items = items

	if len(items) > 0 {
		q.log.Info().Int("size", len(items)).Msg("loaded queued requests")
	}
	return q
}

// Enqueue appends req, evicting the oldest entry when the queue is full.
// The entry is always accepted in memory; the returned error reports a
// failure to persist it.
func (q *Queue) Enqueue(ctx context.Context, req types.QueuedRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.EnqueuedAt = q.now()
	req.RetryCount = 0

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.cfg.Capacity {
		oldest := q.items[0]
		q.log.Warn().
			Int("capacity", q.cfg.Capacity).
			Str("evicted_id", oldest.ID).
			Str("evicted", oldest.Method+" "+oldest.Endpoint).
			Msg("queue is full, removing oldest")
		q.items = append(q.items[:0:0], q.items[1:]...)
	}
	q.items = append(q.items, req)

	q.log.Info().
		Str("request_id", req.ID).
		Str("method", req.Method).
		Str("endpoint", req.Endpoint).
		Int("size", len(q.items)).
		Msg("request queued")

	return q.persistLocked(ctx)
}

// Drain replays a snapshot of the queue through replay. Entries that land
// are removed. Failed entries have RetryCount incremented and are dropped
// once it reaches MaxRetries; entries already at the threshold are dropped
// without being replayed. If ctx is cancelled mid-drain, or a replay error
// wraps ErrStopDrain, the remaining entries are kept untouched.
func (q *Queue) Drain(ctx context.Context, replay ReplayFunc) (DrainReport, error) {
	q.mu.Lock()
	snapshot := make([]types.QueuedRequest, len(q.items))
	copy(snapshot, q.items)
	q.mu.Unlock()

	var report DrainReport
	if len(snapshot) == 0 {
		q.log.Debug().Msg("queue is empty, nothing to process")
		return report, nil
	}

	q.log.Info().Int("size", len(snapshot)).Msg("processing queued requests")

	keep := make([]types.QueuedRequest, 0, len(snapshot))
	handled := make(map[string]struct{}, len(snapshot))

	for i, req := range snapshot {
		if ctx.Err() != nil {
			keep = append(keep, snapshot[i:]...)
			for _, r := range snapshot[i:] {
				handled[r.ID] = struct{}{}
			}
			break
		}
		handled[req.ID] = struct{}{}

		if req.RetryCount >= q.cfg.MaxRetries {
			report.Dropped++
			q.log.Error().
				Str("request_id", req.ID).
				Str("method", req.Method).
				Str("endpoint", req.Endpoint).
				Int("retry_count", req.RetryCount).
				Msg("request exceeded retry limit, dropping")
			continue
		}

		q.log.Info().Str("request_id", req.ID).Str("method", req.Method).Str("endpoint", req.Endpoint).
			Msg("retrying queued request")

		err := replay(ctx, req)
		if err != nil && ctx.Err() != nil {
			// Cut short by shutdown; not the request's fault.
			keep = append(keep, req)
			for _, r := range snapshot[i+1:] {
				handled[r.ID] = struct{}{}
			}
			keep = append(keep, snapshot[i+1:]...)
			report.Retained += len(snapshot) - i
			break
		}
		if err == nil {
			report.Replayed++
			q.log.Info().Str("request_id", req.ID).Msg("queued request processed")
			continue
		}

		req.RetryCount++
		if req.RetryCount >= q.cfg.MaxRetries {
			report.Dropped++
			q.log.Error().Err(err).
				Str("request_id", req.ID).
				Str("method", req.Method).
				Str("endpoint", req.Endpoint).
				Int("retry_count", req.RetryCount).
				Msg("request failed after retry limit, dropping")
		} else {
			report.Retained++
			keep = append(keep, req)
			q.log.Warn().Err(err).
				Str("request_id", req.ID).
				Int("retry_count", req.RetryCount).
				Msg("queued request failed, will retry later")
		}

		if errors.Is(err, ErrStopDrain) {
			rest := snapshot[i+1:]
			for _, r := range rest {
				handled[r.ID] = struct{}{}
			}
			keep = append(keep, rest...)
			report.Retained += len(rest)
			report.Stopped = true
			q.log.Warn().Int("untouched", len(rest)).Msg("queue processing stopped early")
			break
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	// Anything enqueued while the drain was running stays after the
	// retained entries.
	for _, r := range q.items {
		if _, ok := handled[r.ID]; !ok {
			keep = append(keep, r)
		}
	}
	if len(keep) > q.cfg.Capacity {
		keep = keep[len(keep)-q.cfg.Capacity:]
	}
	q.items = keep

	q.log.Info().
		Int("processed", report.Replayed).
		Int("dropped", report.Dropped).
		Int("remaining", len(q.items)).
		Msg("queue processing complete")

	// Persist with a fresh context: the outcome must be recorded even when
	// the drain was cut short by shutdown.
	if err := q.persistLocked(context.WithoutCancel(ctx)); err != nil {
		return report, err
	}
	return report, nil
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queued entries, oldest first.
func (q *Queue) Snapshot() []types.QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]types.QueuedRequest, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.log.Info().Msg("queue cleared")
	return q.persistLocked(ctx)
}

func (q *Queue) persistLocked(ctx context.Context) error {
	if err := q.store.Save(ctx, q.items); err != nil {
		q.log.Error().Err(err).Msg("failed to save queue")
		return fmt.Errorf("persist offline queue: %w", err)
	}
	q.log.Debug().Int("size", len(q.items)).Msg("queue saved")
	return nil
}
