package queue_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/queue"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/store/file"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/store/memory"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

var errDown = errors.New("backend down")

func openQueue(t *testing.T, st *memory.QueueStore, cfg queue.Config) *queue.Queue {
	t.Helper()
	return queue.Open(context.Background(), st, cfg, zerolog.Nop())
}

func post(endpoint string) types.QueuedRequest {
	return types.QueuedRequest{Method: "POST", Endpoint: endpoint, Payload: []byte(`{}`)}
}

func ids(reqs []types.QueuedRequest) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.ID
	}
	return out
}

// ── Enqueue ──────────────────────────────────────────────────────────────────

func TestEnqueue_AssignsIDAndPersists(t *testing.T) {
	st := memory.NewQueueStore()
	q := openQueue(t, st, queue.Config{})

	req := post("")
	req.RetryCount = 3
	require.NoError(t, q.Enqueue(context.Background(), req))

	saved := st.Snapshot()
	require.Len(t, saved, 1)
	assert.NotEmpty(t, saved[0].ID)
	assert.Zero(t, saved[0].RetryCount)
	assert.False(t, saved[0].EnqueuedAt.IsZero())
	assert.Equal(t, 1, st.Saves())
}

func TestEnqueue_AtCapacity_EvictsOldest(t *testing.T) {
	st := memory.NewQueueStore()
	q := openQueue(t, st, queue.Config{Capacity: 3})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		r := post("")
		r.ID = fmt.Sprintf("r%d", i)
		require.NoError(t, q.Enqueue(ctx, r))
	}

	assert.Equal(t, 3, q.Size())
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids(q.Snapshot()))
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids(st.Snapshot()))
}

func TestEnqueue_DefaultCapacityIsHundred(t *testing.T) {
	q := openQueue(t, memory.NewQueueStore(), queue.Config{})
	ctx := context.Background()

	for i := 0; i < 101; i++ {
		r := post("")
		r.ID = fmt.Sprintf("r%03d", i)
		require.NoError(t, q.Enqueue(ctx, r))
	}

	items := q.Snapshot()
	require.Len(t, items, queue.DefaultCapacity)
	assert.Equal(t, "r001", items[0].ID)
	assert.Equal(t, "r100", items[len(items)-1].ID)
}

func TestEnqueue_SaveFailure_KeepsEntryInMemory(t *testing.T) {
	st := memory.NewQueueStore()
	st.FailSaves(errors.New("disk full"))
	q := openQueue(t, st, queue.Config{})

	err := q.Enqueue(context.Background(), post(""))
	assert.Error(t, err)
	assert.Equal(t, 1, q.Size())
}

// ── Drain ────────────────────────────────────────────────────────────────────

func TestDrain_SuccessRemovesEntries(t *testing.T) {
	st := memory.NewQueueStore(
		types.QueuedRequest{ID: "a", Method: "POST"},
		types.QueuedRequest{ID: "b", Method: "DELETE", Endpoint: "log-1"},
	)
	q := openQueue(t, st, queue.Config{})

	var seen []string
	report, err := q.Drain(context.Background(), func(_ context.Context, r types.QueuedRequest) error {
		seen = append(seen, r.ID)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Equal(t, queue.DrainReport{Replayed: 2}, report)
	assert.Zero(t, q.Size())
	assert.Empty(t, st.Snapshot())
}

func TestDrain_FailureIncrementsRetryCount(t *testing.T) {
	st := memory.NewQueueStore(types.QueuedRequest{ID: "a", Method: "POST"})
	q := openQueue(t, st, queue.Config{})

	report, err := q.Drain(context.Background(), func(context.Context, types.QueuedRequest) error {
		return errDown
	})
	require.NoError(t, err)
	assert.Equal(t, queue.DrainReport{Retained: 1}, report)

	items := st.Snapshot()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].RetryCount)
}

func TestDrain_DropsAfterMaxRetries(t *testing.T) {
	st := memory.NewQueueStore(types.QueuedRequest{ID: "a", Method: "POST"})
	q := openQueue(t, st, queue.Config{})
	ctx := context.Background()

	attempts := 0
	fail := func(context.Context, types.QueuedRequest) error {
		attempts++
		return errDown
	}

	for i := 1; i < queue.DefaultMaxRetries; i++ {
		_, err := q.Drain(ctx, fail)
		require.NoError(t, err)
		require.Equal(t, 1, q.Size(), "drain %d", i)
		assert.Equal(t, i, q.Snapshot()[0].RetryCount)
	}

	report, err := q.Drain(ctx, fail)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dropped)
	assert.Zero(t, q.Size())
	assert.Equal(t, queue.DefaultMaxRetries, attempts)
}

func TestDrain_EntryAlreadyAtLimit_DroppedWithoutReplay(t *testing.T) {
	st := memory.NewQueueStore(
		types.QueuedRequest{ID: "stale", Method: "POST", RetryCount: 5},
		types.QueuedRequest{ID: "fresh", Method: "POST"},
	)
	q := openQueue(t, st, queue.Config{})

	var seen []string
	report, err := q.Drain(context.Background(), func(_ context.Context, r types.QueuedRequest) error {
		seen = append(seen, r.ID)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"fresh"}, seen)
	assert.Equal(t, 1, report.Dropped)
	assert.Equal(t, 1, report.Replayed)
	assert.Zero(t, q.Size())
}

func TestDrain_PreservesOrderOfRetained(t *testing.T) {
	st := memory.NewQueueStore(
		types.QueuedRequest{ID: "a"},
		types.QueuedRequest{ID: "b"},
		types.QueuedRequest{ID: "c"},
	)
	q := openQueue(t, st, queue.Config{})

	_, err := q.Drain(context.Background(), func(_ context.Context, r types.QueuedRequest) error {
		if r.ID == "b" {
			return nil
		}
		return errDown
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(q.Snapshot()))
}

func TestDrain_EnqueueDuringReplay_KeptAfterRetained(t *testing.T) {
	st := memory.NewQueueStore(types.QueuedRequest{ID: "a"})
	q := openQueue(t, st, queue.Config{})
	ctx := context.Background()

	_, err := q.Drain(ctx, func(ctx context.Context, r types.QueuedRequest) error {
		n := post("")
		n.ID = "late"
		require.NoError(t, q.Enqueue(ctx, n))
		return errDown
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "late"}, ids(q.Snapshot()))
}

func TestDrain_CancelledContext_KeepsRemainingUntouched(t *testing.T) {
	st := memory.NewQueueStore(
		types.QueuedRequest{ID: "a"},
		types.QueuedRequest{ID: "b"},
	)
	q := openQueue(t, st, queue.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := q.Drain(ctx, func(ctx context.Context, r types.QueuedRequest) error {
		cancel()
		return ctx.Err()
	})
	require.NoError(t, err)

	items := st.Snapshot()
	require.Len(t, items, 2)
	assert.Equal(t, []string{"a", "b"}, ids(items))
	assert.Zero(t, items[0].RetryCount)
	assert.Zero(t, items[1].RetryCount)
}

func TestDrain_StopDrain_LeavesRestUntouched(t *testing.T) {
	st := memory.NewQueueStore(
		types.QueuedRequest{ID: "a"},
		types.QueuedRequest{ID: "b", RetryCount: 2},
		types.QueuedRequest{ID: "c"},
	)
	q := openQueue(t, st, queue.Config{})

	calls := 0
	report, err := q.Drain(context.Background(), func(context.Context, types.QueuedRequest) error {
		calls++
		return fmt.Errorf("backend down: %w", queue.ErrStopDrain)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, report.Stopped)
	assert.Equal(t, 3, report.Retained)
	assert.Zero(t, report.Dropped)

	items := st.Snapshot()
	require.Len(t, items, 3)
	assert.Equal(t, []string{"a", "b", "c"}, ids(items))
	assert.Equal(t, []int{1, 2, 0}, []int{items[0].RetryCount, items[1].RetryCount, items[2].RetryCount})
}

func TestDrain_Empty(t *testing.T) {
	st := memory.NewQueueStore()
	q := openQueue(t, st, queue.Config{})

	report, err := q.Drain(context.Background(), func(context.Context, types.QueuedRequest) error {
		t.Fatal("replay must not be called")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, queue.DrainReport{}, report)
	assert.Zero(t, st.Saves())
}

// ── Open / durability ────────────────────────────────────────────────────────

func TestOpen_CorruptFile_StartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline_queue.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	q := queue.Open(context.Background(), file.NewQueueStore(path), queue.Config{}, zerolog.Nop())
	assert.Zero(t, q.Size())

	// The queue still works and overwrites the bad file.
	require.NoError(t, q.Enqueue(context.Background(), post("")))
	reloaded := queue.Open(context.Background(), file.NewQueueStore(path), queue.Config{}, zerolog.Nop())
	assert.Equal(t, 1, reloaded.Size())
}

func TestOpen_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline_queue.json")
	ctx := context.Background()

	q := queue.Open(ctx, file.NewQueueStore(path), queue.Config{}, zerolog.Nop())
	r := post("")
	r.ID = "keep-me"
	r.AttachedFiles = []string{"/images/a.jpg"}
	require.NoError(t, q.Enqueue(ctx, r))

	again := queue.Open(ctx, file.NewQueueStore(path), queue.Config{}, zerolog.Nop())
	items := again.Snapshot()
	require.Len(t, items, 1)
	assert.Equal(t, "keep-me", items[0].ID)
	assert.Equal(t, []string{"/images/a.jpg"}, items[0].AttachedFiles)
}

func TestOpen_OversizedStore_KeepsNewest(t *testing.T) {
	st := memory.NewQueueStore(
		types.QueuedRequest{ID: "a"},
		types.QueuedRequest{ID: "b"},
		types.QueuedRequest{ID: "c"},
	)
	q := openQueue(t, st, queue.Config{Capacity: 2})
	assert.Equal(t, []string{"b", "c"}, ids(q.Snapshot()))
}

func TestClear(t *testing.T) {
	st := memory.NewQueueStore(types.QueuedRequest{ID: "a"})
	q := openQueue(t, st, queue.Config{})

	require.NoError(t, q.Clear(context.Background()))
	assert.Zero(t, q.Size())
	assert.Empty(t, st.Snapshot())
}
