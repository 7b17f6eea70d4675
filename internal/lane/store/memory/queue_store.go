package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

// QueueStore keeps the queue snapshot in memory. It is intended for tests
// and for lanes running with persistence disabled.
type QueueStore struct {
	mu    sync.Mutex
	reqs  []types.QueuedRequest
	saves int
	err   error
}

func NewQueueStore(initial ...types.QueuedRequest) *QueueStore {
	return &QueueStore{reqs: cloneRequests(initial)}
}

func (s *QueueStore) Load(_ context.Context) ([]types.QueuedRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRequests(s.reqs), nil
}

func (s *QueueStore) Save(_ context.Context, reqs []types.QueuedRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.reqs = cloneRequests(reqs)
	s.saves++
	return nil
}

// Snapshot returns a copy of the last saved queue.  Test-only helper.
func (s *QueueStore) Snapshot() []types.QueuedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRequests(s.reqs)
}

// Saves returns how many times Save succeeded.  Test-only helper.
func (s *QueueStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// FailSaves makes every subsequent Save return err (nil restores).
func (s *QueueStore) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func cloneRequests(in []types.QueuedRequest) []types.QueuedRequest {
	out := make([]types.QueuedRequest, len(in))
	copy(out, in)
	for i := range out {
		if in[i].AttachedFiles != nil {
			out[i].AttachedFiles = append([]string(nil), in[i].AttachedFiles...)
		}
	}
	return out
}
