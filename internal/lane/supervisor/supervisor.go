// Package supervisor owns a lane's run loop: it runs cycles back to back,
// drains the offline queue between them, survives panics inside a cycle
// and releases the drivers on shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/backend"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/clock"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/queue"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

type Lane interface {
	RunCycle(ctx context.Context) types.CycleResult
	ErrorFeedback(ctx context.Context)
	Close() error
}

// Drainer replays the offline queue.
type Drainer interface {
	DrainQueue(ctx context.Context) (queue.DrainReport, error)
	QueueSize() int
}

// HealthProbe reports whether the backend is reachable right now.
type HealthProbe interface {
	Check(ctx context.Context) bool
}

type Config struct {
	// CyclePause separates two cycles.
	CyclePause time.Duration
	// PanicPause is waited after a cycle panicked.
	PanicPause time.Duration
	// DrainInterval is the minimum time between two queue drains. The
	// queue is also drained once at start-up.
	DrainInterval time.Duration
}

type Supervisor struct {
	cfg     Config
	lane    Lane
	drainer Drainer
	health  HealthProbe
	log     zerolog.Logger

	lastDrain time.Time
}

// New builds a supervisor. drainer and health may be nil.
func New(cfg Config, lane Lane, drainer Drainer, health HealthProbe, log zerolog.Logger) *Supervisor {
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = time.Minute
	}
	return &Supervisor{
		cfg:     cfg,
		lane:    lane,
		drainer: drainer,
		health:  health,
		log:     log.With().Str("component", "supervisor").Logger(),
	}
}

// Run loops until ctx is cancelled, then closes the lane. Cycle failures
// and panics never end the loop.
func (s *Supervisor) Run(ctx context.Context) (err error) {
	defer func() {
		s.log.Info().Msg("stopping lane")
		if cerr := s.lane.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close lane: %w", cerr))
		}
		s.log.Info().Msg("lane stopped")
	}()

	s.log.Info().Msg("lane started")
	s.drain(ctx)

	for ctx.Err() == nil {
		if s.runOnce(ctx) {
			_ = clock.Sleep(ctx, s.cfg.PanicPause)
			continue
		}
		if ctx.Err() != nil {
			break
		}
		if time.Since(s.lastDrain) >= s.cfg.DrainInterval {
			s.drain(ctx)
		}
		_ = clock.Sleep(ctx, s.cfg.CyclePause)
	}
	return nil
}

// runOnce runs one cycle and reports whether it panicked.
func (s *Supervisor) runOnce(ctx context.Context) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			s.log.Error().
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("unexpected error in lane cycle")
			s.feedback(ctx)
		}
	}()

	res := s.lane.RunCycle(ctx)
	s.log.Debug().Str("outcome", string(res.Outcome)).Msg("cycle finished")
	return false
}

// feedback gives error feedback after a panic; a second panic from the
// actuator is logged and swallowed.
func (s *Supervisor) feedback(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("panic", fmt.Sprint(r)).Msg("error feedback failed")
		}
	}()
	s.lane.ErrorFeedback(ctx)
}

func (s *Supervisor) drain(ctx context.Context) {
	s.lastDrain = time.Now()
	if s.drainer == nil {
		return
	}
	if s.drainer.QueueSize() == 0 {
		return
	}
	if s.health != nil && !s.health.Check(ctx) {
		s.log.Warn().Int("queued", s.drainer.QueueSize()).Msg("backend unreachable, queue drain postponed")
		return
	}

	report, err := s.drainer.DrainQueue(ctx)
	if err != nil && !errors.Is(err, backend.ErrQueueDisabled) {
		s.log.Error().Err(err).Msg("queue drain failed")
		return
	}
	s.log.Info().
		Int("replayed", report.Replayed).
		Int("retained", report.Retained).
		Int("dropped", report.Dropped).
		Bool("stopped_early", report.Stopped).
		Msg("offline queue drained")
}
