package device

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/clock"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

const (
	SimCardID = "1234567890"
	SimPlate  = "29A12345"
)

// ── Card reader ──────────────────────────────────────────────────────────────

// SimCardReader presents the same card after Delay.
type SimCardReader struct {
	Card  string
	Delay time.Duration
	log   zerolog.Logger
}

func NewSimCardReader(card string, delay time.Duration, log zerolog.Logger) *SimCardReader {
	if card == "" {
		card = SimCardID
	}
	return &SimCardReader{Card: card, Delay: delay, log: log.With().Str("driver", "sim_card_reader").Logger()}
}

func (r *SimCardReader) WaitForCard(ctx context.Context) (string, error) {
	r.log.Warn().Msg("card reader not available, using simulation")
	if err := clock.Sleep(ctx, r.Delay); err != nil {
		return "", err
	}
	return r.Card, nil
}

func (r *SimCardReader) ReadCard(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout > 0 && r.Delay > timeout {
		if err := clock.Sleep(ctx, timeout); err != nil {
			return "", err
		}
		return "", ErrNoCard
	}
	return r.WaitForCard(ctx)
}

func (r *SimCardReader) Close() error { return nil }

// ── Plate recognizer ─────────────────────────────────────────────────────────

// SimRecognizer "recognizes" Plate and writes a placeholder image to Dir.
type SimRecognizer struct {
	Plate string
	Dir   string
	log   zerolog.Logger
}

func NewSimRecognizer(plate, dir string, log zerolog.Logger) *SimRecognizer {
	if plate == "" {
		plate = SimPlate
	}
	return &SimRecognizer{Plate: plate, Dir: dir, log: log.With().Str("driver", "sim_recognizer").Logger()}
}

func (r *SimRecognizer) CaptureAndRecognize(ctx context.Context, pos types.Position) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	r.log.Warn().Msg("camera not available, using simulation")

	path, err := writePlaceholder(r.Dir, pos)
	if err != nil {
		return "", "", fmt.Errorf("simulated capture: %w", err)
	}
	r.log.Info().Str("image", path).Msg("dummy image saved")
	return CleanOCR(r.Plate), path, nil
}

func (r *SimRecognizer) Close() error { return nil }

// ImageName is the file name used for a capture at pos.
func ImageName(pos types.Position, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s.jpg", pos, at.Format("20060102_150405"), uuid.NewString()[:8])
}

func writePlaceholder(dir string, pos types.Position) (string, error) {
	if dir == "" {
		dir = "./images"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, ImageName(pos, time.Now()))

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	img := image.NewGray(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = 16
	}
	if err := jpeg.Encode(f, img, nil); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}

// ── Actuator ─────────────────────────────────────────────────────────────────

// SimActuator logs every action and keeps an ordered trace of them.
type SimActuator struct {
	timing Timing
	log    zerolog.Logger

	mu     sync.Mutex
	events []string
}

// Actuator trace events.
const (
	EventGateOpen          = "gate:open"
	EventGateClose         = "gate:close"
	EventSuccessFeedback   = "feedback:success"
	EventErrorFeedback     = "feedback:error"
	EventVerificationAlert = "alert:verification"
	EventBeep              = "beep"
)

// NewSimActuator returns a simulated actuator. The zero Timing makes every
// action instantaneous.
func NewSimActuator(timing Timing, log zerolog.Logger) *SimActuator {
	return &SimActuator{timing: timing, log: log.With().Str("driver", "sim_actuator").Logger()}
}

func (a *SimActuator) record(ev string) {
	a.mu.Lock()
	a.events = append(a.events, ev)
	a.mu.Unlock()
}

// Events returns the actions performed so far, oldest first.
func (a *SimActuator) Events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

// GateOpened reports whether the gate was ever opened.
func (a *SimActuator) GateOpened() bool {
	for _, ev := range a.Events() {
		if ev == EventGateOpen {
			return true
		}
	}
	return false
}

func (a *SimActuator) OpenGate(ctx context.Context) error {
	a.record(EventGateOpen)
	a.log.Info().Msg("[SIM] gate open")
	_ = clock.Sleep(ctx, a.timing.GateTravel)
	return nil
}

func (a *SimActuator) CloseGate(ctx context.Context) error {
	a.record(EventGateClose)
	a.log.Info().Msg("[SIM] gate close")
	_ = clock.Sleep(ctx, a.timing.GateTravel)
	return nil
}

func (a *SimActuator) SuccessFeedback(ctx context.Context) {
	a.record(EventSuccessFeedback)
	a.log.Info().Msg("[SIM] green LED on, beep x1")
	_ = clock.Sleep(ctx, a.timing.SuccessHold)
}

func (a *SimActuator) ErrorFeedback(ctx context.Context) {
	a.record(EventErrorFeedback)
	a.log.Info().Msg("[SIM] red LED blink x3, beep x3")
	_ = clock.Sleep(ctx, 3*2*a.timing.Blink)
}

func (a *SimActuator) VerificationAlert(ctx context.Context) {
	a.record(EventVerificationAlert)
	a.log.Warn().Msg("[SIM] red LED solid, long beep x5")
	_ = clock.Sleep(ctx, 5*2*a.timing.LongBeep)
}

func (a *SimActuator) Beep(ctx context.Context, n int) {
	a.record(fmt.Sprintf("%s:%d", EventBeep, n))
	a.log.Info().Msg("[SIM] " + strings.Repeat("beep ", n))
	_ = clock.Sleep(ctx, time.Duration(2*n)*a.timing.Beep)
}

func (a *SimActuator) Close() error {
	a.log.Info().Msg("[SIM] actuator released")
	return nil
}
