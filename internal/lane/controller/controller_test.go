package controller_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/backend"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/controller"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/device"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/queue"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/store/memory"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

// ── Fakes ────────────────────────────────────────────────────────────────────

type fakeReader struct {
	card   string
	err    error
	block  bool
	closed bool
}

func (r *fakeReader) WaitForCard(ctx context.Context) (string, error) {
	if r.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.card, r.err
}

func (r *fakeReader) ReadCard(ctx context.Context, _ time.Duration) (string, error) {
	return r.WaitForCard(ctx)
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type fakeRecognizer struct {
	plate  string
	image  string
	err    error
	calls  int
	closed bool
}

func (r *fakeRecognizer) CaptureAndRecognize(_ context.Context, _ types.Position) (string, string, error) {
	r.calls++
	return r.plate, r.image, r.err
}

func (r *fakeRecognizer) Close() error {
	r.closed = true
	return nil
}

type entryCall struct {
	plate, cardID, image string
}

type fakeBackend struct {
	entry    types.Decision
	entryErr error

	session types.ParkingSession
	found   bool
	findErr error

	deleted   types.Decision
	deleteErr error

	entries []entryCall
	finds   []string
	deletes []string
}

func (b *fakeBackend) RecordEntry(_ context.Context, plate, cardID, image string) (types.Decision, error) {
	b.entries = append(b.entries, entryCall{plate, cardID, image})
	return b.entry, b.entryErr
}

func (b *fakeBackend) FindActiveSessionByCard(_ context.Context, cardID string) (types.ParkingSession, bool, error) {
	b.finds = append(b.finds, cardID)
	return b.session, b.found, b.findErr
}

func (b *fakeBackend) DeleteSession(_ context.Context, logID string) (types.Decision, error) {
	b.deletes = append(b.deletes, logID)
	return b.deleted, b.deleteErr
}

type recordingNotifier struct {
	mu     sync.Mutex
	cycles []types.CycleResult
	alerts []types.CycleResult
}

func (n *recordingNotifier) CycleFinished(_ context.Context, r types.CycleResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cycles = append(n.cycles, r)
	return nil
}

func (n *recordingNotifier) SecurityAlert(_ context.Context, r types.CycleResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, r)
	return errors.New("broker down")
}

func (n *recordingNotifier) Close() error { return nil }

type lane struct {
	ctrl     *controller.Controller
	reader   *fakeReader
	rec      *fakeRecognizer
	act      *device.SimActuator
	backend  *fakeBackend
	notifier *recordingNotifier
}

var fixedNow = time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC)

func newLane(t *testing.T, pos types.Position) *lane {
	t.Helper()

	l := &lane{
		reader:   &fakeReader{card: "1234567890"},
		rec:      &fakeRecognizer{plate: "29A12345", image: "/images/x.jpg"},
		act:      device.NewSimActuator(device.Timing{}, zerolog.Nop()),
		backend:  &fakeBackend{},
		notifier: &recordingNotifier{},
	}
	ctrl, err := controller.New(controller.Config{
		LaneID:   "lane_1",
		Position: pos,
	}, controller.Dependencies{
		Reader:     l.reader,
		Recognizer: l.rec,
		Actuator:   l.act,
		Backend:    l.backend,
		Notifier:   l.notifier,
		Now:        func() time.Time { return fixedNow },
	}, zerolog.Nop())
	require.NoError(t, err)
	l.ctrl = ctrl
	return l
}

func activeSession(plate string) types.ParkingSession {
	return types.ParkingSession{
		LogID:        "log-1",
		CardID:       "1234567890",
		LicensePlate: plate,
		EntryTime:    types.EpochMillis(fixedNow.Add(-2*time.Hour - 5*time.Minute).UnixMilli()),
	}
}

// ── Entry lane ───────────────────────────────────────────────────────────────

func TestEntry_Accepted_OpensAndClosesGate(t *testing.T) {
	l := newLane(t, types.PositionEntry)
	l.backend.entry = types.Accepted(&types.ParkingSession{LogID: "log-1"})

	res := l.ctrl.RunCycle(context.Background())

	assert.Equal(t, types.OutcomeSuccess, res.Outcome)
	assert.True(t, res.GateOpened())
	assert.Equal(t, "1234567890", res.CardID)
	assert.Equal(t, "29A12345", res.Plate)
	assert.Equal(t, "/images/x.jpg", res.ImagePath)

	require.Len(t, l.backend.entries, 1)
	assert.Equal(t, entryCall{"29A12345", "1234567890", "/images/x.jpg"}, l.backend.entries[0])

	assert.Equal(t, []string{
		"beep:1",
		device.EventSuccessFeedback,
		device.EventGateOpen,
		device.EventGateClose,
	}, l.act.Events())

	assert.Equal(t, types.StateIdle, l.ctrl.State())
	last, ok := l.ctrl.LastCycle()
	require.True(t, ok)
	assert.Equal(t, res, last)
	assert.EqualValues(t, 1, l.ctrl.Cycles())
	assert.Len(t, l.notifier.cycles, 1)
}

func TestEntry_CardInUse_Rejected(t *testing.T) {
	l := newLane(t, types.PositionEntry)
	l.backend.entry = types.Rejected(types.CodeCardInUse, "Card is already in use")

	res := l.ctrl.RunCycle(context.Background())

	assert.Equal(t, types.OutcomeBackendRejected, res.Outcome)
	assert.Contains(t, res.Detail, types.CodeCardInUse)
	assert.False(t, l.act.GateOpened())
	assert.Contains(t, l.act.Events(), device.EventErrorFeedback)
}

func TestEntry_Unreachable_NoGate(t *testing.T) {
	l := newLane(t, types.PositionEntry)
	l.backend.entry = types.Unreachable(true)

	res := l.ctrl.RunCycle(context.Background())

	assert.Equal(t, types.OutcomeBackendUnreachable, res.Outcome)
	assert.Contains(t, res.Detail, "queued")
	assert.False(t, l.act.GateOpened())
}

func TestEntry_CardReadFailed_SkipsRecognition(t *testing.T) {
	l := newLane(t, types.PositionEntry)
	l.reader.err = device.ErrNoCard

	res := l.ctrl.RunCycle(context.Background())

	assert.Equal(t, types.OutcomeCardReadFailed, res.Outcome)
	assert.Zero(t, l.rec.calls)
	assert.Empty(t, l.backend.entries)
	assert.Equal(t, []string{device.EventErrorFeedback}, l.act.Events())
}

func TestEntry_RecognitionFailed_SkipsBackend(t *testing.T) {
	l := newLane(t, types.PositionEntry)
	l.rec.plate = ""
	l.rec.err = device.ErrNoPlate

	res := l.ctrl.RunCycle(context.Background())

	assert.Equal(t, types.OutcomeRecognitionFailed, res.Outcome)
	assert.Empty(t, l.backend.entries)
	assert.False(t, l.act.GateOpened())
}

func TestEntry_EmptyPlateWithoutError_IsRecognitionFailure(t *testing.T) {
	l := newLane(t, types.PositionEntry)
	l.rec.plate = ""

	res := l.ctrl.RunCycle(context.Background())

	assert.Equal(t, types.OutcomeRecognitionFailed, res.Outcome)
	assert.Empty(t, l.backend.entries)
}

func TestEntry_CancelledWhileWaitingForCard_Aborts(t *testing.T) {
	l := newLane(t, types.PositionEntry)
	l.reader.block = true

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	res := l.ctrl.RunCycle(ctx)

	assert.Equal(t, types.OutcomeAborted, res.Outcome)
	assert.False(t, l.act.GateOpened())
	assert.Equal(t, types.StateIdle, l.ctrl.State())
}

// ── Exit lane ────────────────────────────────────────────────────────────────

func TestExit_PlatesMatch_DeletesAndOpens(t *testing.T) {
	l := newLane(t, types.PositionExit)
	l.backend.session = activeSession("29A12345")
	l.backend.found = true
	l.backend.deleted = types.Deleted()

	res := l.ctrl.RunCycle(context.Background())

	assert.Equal(t, types.OutcomeSuccess, res.Outcome)
	assert.Equal(t, []string{"1234567890"}, l.backend.finds)
	assert.Equal(t, []string{"log-1"}, l.backend.deletes)
	assert.True(t, l.act.GateOpened())
	assert.Empty(t, res.Detail)
}

func TestExit_PlateMismatch_AlertsAndNeverOpens(t *testing.T) {
	l := newLane(t, types.PositionExit)
	l.backend.session = activeSession("29A12345")
	l.backend.found = true
	l.rec.plate = "30B67890"

	res := l.ctrl.RunCycle(context.Background())

	assert.Equal(t, types.OutcomePlateMismatch, res.Outcome)
	assert.Equal(t, "30B67890", res.Plate)
	assert.Empty(t, l.backend.deletes)
	assert.False(t, l.act.GateOpened())
	assert.Contains(t, l.act.Events(), device.EventVerificationAlert)
	assert.NotContains(t, l.act.Events(), device.EventErrorFeedback)

	// Alert publish failure does not change the outcome.
	require.Len(t, l.notifier.alerts, 1)
	assert.Equal(t, types.OutcomePlateMismatch, l.notifier.alerts[0].Outcome)
}

func TestExit_NormalizedPlatesMatch(t *testing.T) {
	l := newLane(t, types.PositionExit)
	l.backend.session = activeSession(" 29a 12345")
	l.backend.found = true
	l.backend.deleted = types.Deleted()

	res := l.ctrl.RunCycle(context.Background())
	assert.Equal(t, types.OutcomeSuccess, res.Outcome)
}

func TestExit_NormalizationDoesNotHideRealDifference(t *testing.T) {
	l := newLane(t, types.PositionExit)
	l.backend.session = activeSession("29A-12345")
	l.backend.found = true

	res := l.ctrl.RunCycle(context.Background())
	assert.Equal(t, types.OutcomePlateMismatch, res.Outcome)
	assert.False(t, l.act.GateOpened())
}

func TestExit_NoSession_StopsBeforeRecognition(t *testing.T) {
	l := newLane(t, types.PositionExit)
	l.reader.card = "999"

	res := l.ctrl.RunCycle(context.Background())

	assert.Equal(t, types.OutcomeSessionNotFound, res.Outcome)
	assert.Equal(t, []string{"999"}, l.backend.finds)
	assert.Zero(t, l.rec.calls)
	assert.Empty(t, l.backend.deletes)
	assert.Contains(t, l.act.Events(), device.EventErrorFeedback)
	assert.False(t, l.act.GateOpened())
}

func TestExit_LookupUnreachable(t *testing.T) {
	l := newLane(t, types.PositionExit)
	l.backend.findErr = backend.ErrUnreachable

	res := l.ctrl.RunCycle(context.Background())

	assert.Equal(t, types.OutcomeBackendUnreachable, res.Outcome)
	assert.Zero(t, l.rec.calls)
	assert.False(t, l.act.GateOpened())
}

func TestExit_DeleteFails_GateStillOpens(t *testing.T) {
	l := newLane(t, types.PositionExit)
	l.backend.session = activeSession("29A12345")
	l.backend.found = true
	l.backend.deleted = types.Unreachable(true)

	res := l.ctrl.RunCycle(context.Background())

	assert.Equal(t, types.OutcomeSuccess, res.Outcome)
	assert.Contains(t, res.Detail, "queued")
	assert.True(t, l.act.GateOpened())
}

func TestExit_RecognitionFailed(t *testing.T) {
	l := newLane(t, types.PositionExit)
	l.backend.session = activeSession("29A12345")
	l.backend.found = true
	l.rec.plate = ""
	l.rec.err = device.ErrNoPlate

	res := l.ctrl.RunCycle(context.Background())

	assert.Equal(t, types.OutcomeRecognitionFailed, res.Outcome)
	assert.Empty(t, l.backend.deletes)
	assert.False(t, l.act.GateOpened())
}

// ── Gate property ────────────────────────────────────────────────────────────

func TestGateNeverOpensWithoutConfirmation(t *testing.T) {
	cases := []struct {
		name  string
		pos   types.Position
		setup func(*lane)
	}{
		{"entry rejected", types.PositionEntry, func(l *lane) { l.backend.entry = types.Rejected("BAD_REQUEST", "x") }},
		{"entry unreachable", types.PositionEntry, func(l *lane) { l.backend.entry = types.Unreachable(false) }},
		{"entry not found", types.PositionEntry, func(l *lane) { l.backend.entry = types.NotFound() }},
		{"entry error", types.PositionEntry, func(l *lane) { l.backend.entryErr = errors.New("boom") }},
		{"exit no session", types.PositionExit, func(l *lane) {}},
		{"exit lookup rejected", types.PositionExit, func(l *lane) { l.backend.findErr = backend.ErrRejected }},
		{"exit mismatch", types.PositionExit, func(l *lane) {
			l.backend.session = activeSession("51D1234")
			l.backend.found = true
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := newLane(t, tc.pos)
			tc.setup(l)

			res := l.ctrl.RunCycle(context.Background())

			assert.NotEqual(t, types.OutcomeSuccess, res.Outcome)
			assert.False(t, res.GateOpened())
			assert.False(t, l.act.GateOpened(), "trace: %v", l.act.Events())
		})
	}
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	_, err := controller.New(controller.Config{Position: "sideways"}, controller.Dependencies{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = controller.New(controller.Config{Position: types.PositionEntry}, controller.Dependencies{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestClose_ReleasesDrivers(t *testing.T) {
	l := newLane(t, types.PositionEntry)
	require.NoError(t, l.ctrl.Close())
	assert.True(t, l.reader.closed)
	assert.True(t, l.rec.closed)
}

func TestDwell_HoldsGateOpen(t *testing.T) {
	act := device.NewSimActuator(device.Timing{}, zerolog.Nop())
	ctrl, err := controller.New(controller.Config{
		Position: types.PositionEntry,
		Dwell:    40 * time.Millisecond,
	}, controller.Dependencies{
		Reader:     &fakeReader{card: "1234567890"},
		Recognizer: &fakeRecognizer{plate: "29A12345"},
		Actuator:   act,
		Backend:    &fakeBackend{entry: types.Accepted(nil)},
	}, zerolog.Nop())
	require.NoError(t, err)

	start := time.Now()
	res := ctrl.RunCycle(context.Background())
	assert.Equal(t, types.OutcomeSuccess, res.Outcome)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, device.EventGateClose, act.Events()[len(act.Events())-1])
}

func TestDwell_CancelledClosesGateEarly(t *testing.T) {
	act := device.NewSimActuator(device.Timing{}, zerolog.Nop())
	ctrl, err := controller.New(controller.Config{
		Position: types.PositionEntry,
		Dwell:    time.Minute,
	}, controller.Dependencies{
		Reader:     &fakeReader{card: "1234567890"},
		Recognizer: &fakeRecognizer{plate: "29A12345"},
		Actuator:   act,
		Backend:    &fakeBackend{entry: types.Accepted(nil)},
	}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for !act.GateOpened() {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := ctrl.RunCycle(ctx)

	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, types.OutcomeSuccess, res.Outcome)
	events := act.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, device.EventGateClose, events[len(events)-1])
	assert.NotContains(t, events, device.EventErrorFeedback)
}

// ── Card poll mode ───────────────────────────────────────────────────────────

// pollReader answers ReadCard with ErrNoCard until empty reaches zero.
type pollReader struct {
	mu    sync.Mutex
	empty int
	err   error
	waits int
	reads int
}

func (r *pollReader) WaitForCard(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits++
	return "1234567890", nil
}

func (r *pollReader) ReadCard(_ context.Context, _ time.Duration) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.err != nil {
		return "", r.err
	}
	if r.empty > 0 {
		r.empty--
		return "", device.ErrNoCard
	}
	return "1234567890", nil
}

func (r *pollReader) Close() error { return nil }

func newPollLane(t *testing.T, reader *pollReader, cardTimeout time.Duration) (*controller.Controller, *device.SimActuator, *recordingNotifier) {
	t.Helper()
	act := device.NewSimActuator(device.Timing{}, zerolog.Nop())
	n := &recordingNotifier{}
	ctrl, err := controller.New(controller.Config{
		Position:    types.PositionEntry,
		CardTimeout: cardTimeout,
	}, controller.Dependencies{
		Reader:     reader,
		Recognizer: &fakeRecognizer{plate: "29A12345"},
		Actuator:   act,
		Backend:    &fakeBackend{entry: types.Accepted(nil)},
		Notifier:   n,
	}, zerolog.Nop())
	require.NoError(t, err)
	return ctrl, act, n
}

func TestPoll_NoCardIsSilentIdle(t *testing.T) {
	reader := &pollReader{empty: 3}
	ctrl, act, n := newPollLane(t, reader, 10*time.Millisecond)

	for i := 0; i < 3; i++ {
		res := ctrl.RunCycle(context.Background())
		assert.Equal(t, types.OutcomeIdle, res.Outcome)
		assert.False(t, res.GateOpened())
	}

	assert.Empty(t, act.Events(), "no feedback while nobody is at the lane")
	assert.Empty(t, n.cycles)
	assert.Zero(t, ctrl.Cycles())
	_, ok := ctrl.LastCycle()
	assert.False(t, ok)
	assert.Equal(t, types.StateIdle, ctrl.State())

	res := ctrl.RunCycle(context.Background())
	assert.Equal(t, types.OutcomeSuccess, res.Outcome)
	assert.EqualValues(t, 1, ctrl.Cycles())
	assert.Len(t, n.cycles, 1)
	assert.Equal(t, 4, reader.reads)
	assert.Zero(t, reader.waits)
}

func TestPoll_ReaderFaultStillFails(t *testing.T) {
	reader := &pollReader{err: device.ErrHardwareUnavailable}
	ctrl, act, n := newPollLane(t, reader, 10*time.Millisecond)

	res := ctrl.RunCycle(context.Background())

	assert.Equal(t, types.OutcomeCardReadFailed, res.Outcome)
	assert.Equal(t, []string{device.EventErrorFeedback}, act.Events())
	assert.Len(t, n.cycles, 1)
}

func TestWaitMode_BlocksOnWaitForCard(t *testing.T) {
	reader := &pollReader{empty: 5}
	ctrl, _, _ := newPollLane(t, reader, 0)

	res := ctrl.RunCycle(context.Background())

	assert.Equal(t, types.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, reader.waits)
	assert.Zero(t, reader.reads)
}

// ── Duration ─────────────────────────────────────────────────────────────────

func TestParkingDuration(t *testing.T) {
	entry := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	d := controller.ParkingDuration(entry, entry.Add(2*time.Hour+5*time.Minute+30*time.Second))
	assert.Equal(t, "2h 5m", d.Formatted)
	assert.EqualValues(t, 125, d.Minutes)
	assert.EqualValues(t, 2, d.Hours)
	assert.EqualValues(t, 7530, d.Seconds)
	assert.EqualValues(t, 7530000, d.Milliseconds)

	skew := controller.ParkingDuration(entry, entry.Add(-time.Minute))
	assert.Equal(t, "0h 0m", skew.Formatted)
	assert.Zero(t, skew.Milliseconds)
}

// ── With the real backend client ─────────────────────────────────────────────

func newClientLane(t *testing.T, baseURL string) (*controller.Controller, *device.SimActuator, *queue.Queue) {
	t.Helper()

	q := queue.Open(context.Background(), memory.NewQueueStore(), queue.Config{}, zerolog.Nop())
	client := backend.New(backend.Config{BaseURL: baseURL + "/api/parking/logs"}, q, zerolog.Nop())
	act := device.NewSimActuator(device.Timing{}, zerolog.Nop())

	ctrl, err := controller.New(controller.Config{LaneID: "lane_1", Position: types.PositionEntry}, controller.Dependencies{
		Reader:     device.NewSimCardReader("", 0, zerolog.Nop()),
		Recognizer: device.NewSimRecognizer("", t.TempDir(), zerolog.Nop()),
		Actuator:   act,
		Backend:    client,
	}, zerolog.Nop())
	require.NoError(t, err)
	return ctrl, act, q
}

func TestEntryScenario_AcceptedByBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body types.EntryRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "1234567890", body.CardID)
		assert.Equal(t, "29A12345", body.LicensePlate)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"_id": "log-1", "cardId": body.CardID, "licensePlate": body.LicensePlate},
		})
	}))
	defer srv.Close()

	ctrl, act, q := newClientLane(t, srv.URL)

	res := ctrl.RunCycle(context.Background())
	assert.Equal(t, types.OutcomeSuccess, res.Outcome)
	assert.True(t, act.GateOpened())
	assert.Zero(t, q.Size())
}

func TestEntryScenario_BackendDown_QueuedNoGate(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	ctrl, act, q := newClientLane(t, base)

	// Zero connect backoff keeps the test fast.
	res := ctrl.RunCycle(context.Background())
	assert.Equal(t, types.OutcomeBackendUnreachable, res.Outcome)
	assert.False(t, act.GateOpened())
	require.Equal(t, 1, q.Size())
	assert.Zero(t, q.Snapshot()[0].RetryCount)
}
