package device

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/clock"
)

// Pins are BCM line numbers for one lane.
type Pins struct {
	Gate   int
	Green  int
	Red    int
	Buzzer int
}

// Default pin maps for the two lanes.
var (
	EntryPins = Pins{Gate: 17, Green: 27, Red: 22, Buzzer: 23}
	ExitPins  = Pins{Gate: 18, Green: 24, Red: 25, Buzzer: 8}
)

// GPIOActuator drives the lane through the Linux sysfs GPIO interface. The
// gate line feeds a barrier controller relay: high opens, low closes.
type GPIOActuator struct {
	root   string
	pins   Pins
	timing Timing
	log    zerolog.Logger
}

// OpenGPIOActuator exports and configures every pin as an output driven
// low. root is normally /sys/class/gpio.
func OpenGPIOActuator(root string, pins Pins, timing Timing, log zerolog.Logger) (*GPIOActuator, error) {
	if root == "" {
		root = "/sys/class/gpio"
	}
	a := &GPIOActuator{
		root:   root,
		pins:   pins,
		timing: timing,
		log:    log.With().Str("driver", "gpio_actuator").Logger(),
	}
	for _, pin := range a.all() {
		if err := a.export(pin); err != nil {
			return nil, fmt.Errorf("%w: gpio%d: %v", ErrHardwareUnavailable, pin, err)
		}
		if err := a.write(pin, false); err != nil {
			return nil, fmt.Errorf("%w: gpio%d: %v", ErrHardwareUnavailable, pin, err)
		}
	}
	a.log.Info().Int("gate", pins.Gate).Int("green", pins.Green).Int("red", pins.Red).Int("buzzer", pins.Buzzer).
		Msg("GPIO initialized")
	return a, nil
}

func (a *GPIOActuator) all() []int {
	return []int{a.pins.Gate, a.pins.Green, a.pins.Red, a.pins.Buzzer}
}

func (a *GPIOActuator) pinDir(pin int) string {
	return filepath.Join(a.root, "gpio"+strconv.Itoa(pin))
}

func (a *GPIOActuator) export(pin int) error {
	dir := a.pinDir(pin)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(filepath.Join(a.root, "export"), []byte(strconv.Itoa(pin)), 0o644); err != nil {
			return err
		}
	}
	return os.WriteFile(filepath.Join(dir, "direction"), []byte("out"), 0o644)
}

func (a *GPIOActuator) write(pin int, high bool) error {
	v := []byte("0")
	if high {
		v = []byte("1")
	}
	return os.WriteFile(filepath.Join(a.pinDir(pin), "value"), v, 0o644)
}

// set logs write failures instead of returning them.
func (a *GPIOActuator) set(pin int, high bool) {
	if err := a.write(pin, high); err != nil {
		a.log.Error().Err(err).Int("pin", pin).Bool("high", high).Msg("gpio write failed")
	}
}

func (a *GPIOActuator) OpenGate(ctx context.Context) error {
	a.log.Info().Msg("opening gate")
	if err := a.write(a.pins.Gate, true); err != nil {
		return fmt.Errorf("open gate: %w", err)
	}
	_ = clock.Sleep(ctx, a.timing.GateTravel)
	return nil
}

func (a *GPIOActuator) CloseGate(ctx context.Context) error {
	a.log.Info().Msg("closing gate")
	if err := a.write(a.pins.Gate, false); err != nil {
		return fmt.Errorf("close gate: %w", err)
	}
	_ = clock.Sleep(ctx, a.timing.GateTravel)
	return nil
}

func (a *GPIOActuator) SuccessFeedback(ctx context.Context) {
	a.set(a.pins.Red, false)
	a.set(a.pins.Green, true)
	a.Beep(ctx, 1)
	_ = clock.Sleep(ctx, a.timing.SuccessHold)
	a.set(a.pins.Green, false)
}

func (a *GPIOActuator) ErrorFeedback(ctx context.Context) {
	for i := 0; i < 3; i++ {
		a.set(a.pins.Red, true)
		_ = clock.Sleep(ctx, a.timing.Blink)
		a.set(a.pins.Red, false)
		_ = clock.Sleep(ctx, a.timing.Blink)
	}
	a.Beep(ctx, 3)
}

func (a *GPIOActuator) VerificationAlert(ctx context.Context) {
	a.set(a.pins.Red, true)
	a.buzz(ctx, 5, a.timing.LongBeep)
	// Red stays on until the next cycle's feedback or Close.
}

func (a *GPIOActuator) Beep(ctx context.Context, n int) {
	a.buzz(ctx, n, a.timing.Beep)
}

func (a *GPIOActuator) buzz(ctx context.Context, n int, d time.Duration) {
	for i := 0; i < n && ctx.Err() == nil; i++ {
		a.set(a.pins.Buzzer, true)
		_ = clock.Sleep(ctx, d)
		a.set(a.pins.Buzzer, false)
		_ = clock.Sleep(ctx, d)
	}
}

// Close drives every line low. The gate is closed as well so a shutdown
// mid-dwell never leaves the barrier up.
func (a *GPIOActuator) Close() error {
	var errs []error
	for _, pin := range a.all() {
		if err := a.write(pin, false); err != nil {
			errs = append(errs, fmt.Errorf("gpio%d: %w", pin, err))
		}
	}
	a.log.Info().Msg("GPIO cleanup completed")
	return errors.Join(errs...)
}
