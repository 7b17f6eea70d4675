// Package device holds the lane's capability drivers: card reader, plate
// recognizer and gate actuator. Each capability has a simulated variant
// that returns deterministic stand-in values and a real one; the variant
// is chosen once at start-up.
package device

import (
	"context"
	"errors"
	"time"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

var (
	ErrNoCard              = errors.New("no card presented")
	ErrNoPlate             = errors.New("no valid plate recognized")
	ErrHardwareUnavailable = errors.New("hardware unavailable")
)

// CardReader produces card identifiers.
type CardReader interface {
	// WaitForCard blocks until a valid card is presented or ctx is done.
	WaitForCard(ctx context.Context) (string, error)
	// ReadCard is WaitForCard bounded by timeout; it returns ErrNoCard when
	// nothing valid arrived in time.
	ReadCard(ctx context.Context, timeout time.Duration) (string, error)
	Close() error
}

// PlateRecognizer captures an image at a lane position and reads the plate
// on it. The returned plate is cleaned and format-validated; the image is
// a local file path.
type PlateRecognizer interface {
	CaptureAndRecognize(ctx context.Context, pos types.Position) (plate, image string, err error)
	Close() error
}

// Actuator drives the gate and the operator feedback (LEDs, buzzer).
// Feedback patterns block for their duration.
type Actuator interface {
	OpenGate(ctx context.Context) error
	CloseGate(ctx context.Context) error
	SuccessFeedback(ctx context.Context)
	ErrorFeedback(ctx context.Context)
	// VerificationAlert signals that an operator has to check the vehicle
	// by hand. It must be distinguishable from ErrorFeedback.
	VerificationAlert(ctx context.Context)
	Beep(ctx context.Context, n int)
	Close() error
}

// Timing controls the feedback patterns.
type Timing struct {
	Blink       time.Duration
	Beep        time.Duration
	LongBeep    time.Duration
	SuccessHold time.Duration
	// GateTravel is how long the barrier takes to move.
	GateTravel time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		Blink:       500 * time.Millisecond,
		Beep:        200 * time.Millisecond,
		LongBeep:    600 * time.Millisecond,
		SuccessHold: time.Second,
		GateTravel:  time.Second,
	}
}
