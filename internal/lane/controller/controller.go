// Package controller runs one lane: card read, plate recognition, backend
// authorization and gate actuation, one vehicle at a time.
//
// The gate is only ever opened after the backend accepted the entry, or,
// on exit, after the plate read at the gate matched the plate recorded at
// entry. Every other path ends in error feedback and the next cycle.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/archive"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/clock"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/device"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/notify"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

// Backend is the subset of the backend client the lanes use.
type Backend interface {
	RecordEntry(ctx context.Context, plate, cardID, imagePath string) (types.Decision, error)
	FindActiveSessionByCard(ctx context.Context, cardID string) (types.ParkingSession, bool, error)
	DeleteSession(ctx context.Context, logID string) (types.Decision, error)
}

type Config struct {
	LaneID   string
	Position types.Position

	// Dwell is how long the gate stays open.
	Dwell time.Duration

	// CardTimeout switches card reads to poll mode: each read is bounded by
	// it and a read that times out ends the cycle as OutcomeIdle, silently.
	// Zero blocks until a card arrives.
	CardTimeout time.Duration

	// AbortFeedback bounds the error feedback given when a cycle is
	// interrupted by shutdown.
	AbortFeedback time.Duration
}

type Dependencies struct {
	Reader     device.CardReader
	Recognizer device.PlateRecognizer
	Actuator   device.Actuator
	Backend    Backend

	// Optional.
	Archive  archive.Archiver
	Notifier notify.Notifier
	Now      func() time.Time
}

// Controller is a single lane's state machine. RunCycle must not be called
// concurrently; State and LastCycle are safe from any goroutine.
type Controller struct {
	cfg        Config
	reader     device.CardReader
	recognizer device.PlateRecognizer
	act        device.Actuator
	backend    Backend
	archive    archive.Archiver
	notifier   notify.Notifier
	now        func() time.Time
	log        zerolog.Logger

	mu      sync.RWMutex
	state   types.State
	last    types.CycleResult
	hasLast bool
	cycles  uint64
}

func New(cfg Config, deps Dependencies, log zerolog.Logger) (*Controller, error) {
	if !cfg.Position.Valid() {
		return nil, fmt.Errorf("invalid lane position %q", cfg.Position)
	}
	if deps.Reader == nil || deps.Recognizer == nil || deps.Actuator == nil || deps.Backend == nil {
		return nil, errors.New("controller: reader, recognizer, actuator and backend are required")
	}
	if cfg.Dwell < 0 {
		cfg.Dwell = 0
	}
	if cfg.AbortFeedback <= 0 {
		cfg.AbortFeedback = time.Second
	}
	if deps.Archive == nil {
		deps.Archive = archive.Local{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Controller{
		cfg:        cfg,
		reader:     deps.Reader,
		recognizer: deps.Recognizer,
		act:        deps.Actuator,
		backend:    deps.Backend,
		archive:    deps.Archive,
		notifier:   deps.Notifier,
		now:        deps.Now,
		log: log.With().
			Str("lane", string(cfg.Position)).
			Str("lane_id", cfg.LaneID).
			Logger(),
		state: types.StateIdle,
	}, nil
}

func (c *Controller) Position() types.Position { return c.cfg.Position }

func (c *Controller) State() types.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastCycle returns the most recent finished cycle.
func (c *Controller) LastCycle() (types.CycleResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last, c.hasLast
}

// Cycles is the number of finished cycles.
func (c *Controller) Cycles() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cycles
}

func (c *Controller) setState(s types.State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.log.Debug().Str("from", string(prev)).Str("to", string(s)).Msg("state")
	}
}

// RunCycle services one vehicle and returns to Idle.
func (c *Controller) RunCycle(ctx context.Context) types.CycleResult {
	res := types.CycleResult{Lane: c.cfg.Position, LaneID: c.cfg.LaneID}

	if c.cfg.CardTimeout > 0 {
		c.log.Debug().Msg("polling for vehicle")
	} else {
		c.log.Info().Msg("waiting for vehicle")
	}

	switch c.cfg.Position {
	case types.PositionEntry:
		c.runEntry(ctx, &res)
	case types.PositionExit:
		c.runExit(ctx, &res)
	}

	res.At = c.now().UTC()
	c.finish(ctx, res)
	return res
}

func (c *Controller) finish(ctx context.Context, res types.CycleResult) {
	if res.Outcome == types.OutcomeIdle {
		c.setState(types.StateIdle)
		return
	}

	c.mu.Lock()
	c.state = types.StateIdle
	c.last = res
	c.hasLast = true
	c.cycles++
	c.mu.Unlock()

	nctx := context.WithoutCancel(ctx)
	if err := c.notifier.CycleFinished(nctx, res); err != nil {
		c.log.Debug().Err(err).Msg("cycle notification not sent")
	}
	if res.Outcome == types.OutcomePlateMismatch {
		if err := c.notifier.SecurityAlert(nctx, res); err != nil {
			c.log.Error().Err(err).Msg("security alert not sent")
		}
	}
}

// ErrorFeedback signals a failed cycle outside the normal flow, e.g.
// after the supervisor recovered from a panic.
func (c *Controller) ErrorFeedback(ctx context.Context) {
	c.setState(types.StateErrorFeedback)
	c.act.ErrorFeedback(ctx)
	c.setState(types.StateIdle)
}

// Close releases every driver, gate actuator last.
func (c *Controller) Close() error {
	var errs []error
	if err := c.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("card reader: %w", err))
	}
	if err := c.recognizer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("recognizer: %w", err))
	}
	if err := c.act.Close(); err != nil {
		errs = append(errs, fmt.Errorf("actuator: %w", err))
	}
	return errors.Join(errs...)
}

// ── Shared steps ─────────────────────────────────────────────────────────────

// readCard waits for a card and acknowledges it with a beep.
func (c *Controller) readCard(ctx context.Context, res *types.CycleResult) bool {
	c.setState(types.StateAwaitingCard)
	c.status(markInfo, "card", res).Msg("reading card")

	var (
		card string
		err  error
	)
	if c.cfg.CardTimeout > 0 {
		card, err = c.reader.ReadCard(ctx, c.cfg.CardTimeout)
	} else {
		card, err = c.reader.WaitForCard(ctx)
	}
	if err != nil {
		if c.cfg.CardTimeout > 0 && errors.Is(err, device.ErrNoCard) && ctx.Err() == nil {
			res.Outcome = types.OutcomeIdle
			c.log.Debug().Dur("timeout", c.cfg.CardTimeout).Msg("no card presented")
			return false
		}
		c.fail(ctx, res, types.OutcomeCardReadFailed, "card", "failed to read card", err)
		return false
	}

	res.CardID = card
	c.status(markOK, "card", res).Msg("card read")
	c.act.Beep(ctx, 1)
	return true
}

// recognize captures and reads the plate at this lane's position.
func (c *Controller) recognize(ctx context.Context, res *types.CycleResult) (string, bool) {
	c.setState(types.StateRecognizing)
	c.status(markInfo, "recognize", res).Msg("capturing image and recognizing license plate")

	plate, image, err := c.recognizer.CaptureAndRecognize(ctx, c.cfg.Position)
	if err == nil && plate == "" {
		err = device.ErrNoPlate
	}
	if image != "" {
		res.ImagePath = c.archiveImage(ctx, image)
	}
	if err != nil {
		c.fail(ctx, res, types.OutcomeRecognitionFailed, "recognize", "failed to recognize license plate", err)
		return "", false
	}

	c.status(markOK, "recognize", res).Str("recognized", plate).Msg("license plate recognized")
	return plate, true
}

func (c *Controller) archiveImage(ctx context.Context, local string) string {
	ref, err := c.archive.Archive(ctx, local)
	if err != nil {
		c.log.Warn().Err(err).Str("image", local).Msg("image not archived, using local path")
		return local
	}
	return ref
}

// actuate gives success feedback, opens the gate, holds it for the dwell
// time and closes it. Shutdown during the dwell closes the gate early.
func (c *Controller) actuate(ctx context.Context, res *types.CycleResult) bool {
	c.setState(types.StateActuating)
	c.act.SuccessFeedback(ctx)

	if err := c.act.OpenGate(ctx); err != nil {
		c.fail(ctx, res, types.OutcomeActuatorFailed, "gate", "failed to open gate", err)
		return false
	}
	res.Outcome = types.OutcomeSuccess
	c.status(markOK, "gate", res).Dur("dwell", c.cfg.Dwell).Msg("gate open")

	if err := clock.Sleep(ctx, c.cfg.Dwell); err != nil {
		c.status(markWarn, "gate", res).Msg("interrupted while gate open, closing now")
	}

	// The barrier must come down even during shutdown.
	if err := c.act.CloseGate(context.WithoutCancel(ctx)); err != nil {
		c.status(markFail, "gate", res).Err(err).Msg("failed to close gate")
		res.Detail = "gate close failed: " + err.Error()
		return true
	}
	c.status(markOK, "gate", res).Msg("gate closed")
	return true
}

// fail records outcome, logs it and gives error feedback. A cancelled ctx
// turns any failure into Aborted.
func (c *Controller) fail(ctx context.Context, res *types.CycleResult, outcome types.Outcome, step, msg string, err error) {
	if ctx.Err() != nil {
		outcome = types.OutcomeAborted
		msg = "cycle interrupted"
	}
	res.Outcome = outcome
	if err != nil {
		res.Detail = err.Error()
	} else if res.Detail == "" {
		res.Detail = msg
	}

	ev := c.status(markFail, step, res).Str("outcome", string(outcome))
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(msg)

	c.setState(types.StateErrorFeedback)
	if ctx.Err() != nil {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.AbortFeedback)
		defer cancel()
		c.act.ErrorFeedback(fctx)
		return
	}
	c.act.ErrorFeedback(ctx)
}
