package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LineCardReader reads newline-terminated card numbers from a stream, such
// as the tty of a keyboard-wedge RFID reader. Lines that are not valid card
// ids are logged and skipped.
type LineCardReader struct {
	src   io.ReadCloser
	lines chan string
	errc  chan error
	done  chan struct{}
	log   zerolog.Logger

	closeOnce sync.Once
}

// OpenLineCardReader opens the device at path.
func OpenLineCardReader(path string, log zerolog.Logger) (*LineCardReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open card reader %s: %v", ErrHardwareUnavailable, path, err)
	}
	return NewLineCardReader(f, log), nil
}

func NewLineCardReader(src io.ReadCloser, log zerolog.Logger) *LineCardReader {
	r := &LineCardReader{
		src:   src,
		lines: make(chan string),
		errc:  make(chan error, 1),
		done:  make(chan struct{}),
		log:   log.With().Str("driver", "line_card_reader").Logger(),
	}
	go r.scan()
	return r
}

func (r *LineCardReader) scan() {
	sc := bufio.NewScanner(r.src)
	for sc.Scan() {
		select {
		case r.lines <- strings.TrimSpace(sc.Text()):
		case <-r.done:
			return
		}
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	r.errc <- err
	close(r.lines)
}

func (r *LineCardReader) WaitForCard(ctx context.Context) (string, error) {
	r.log.Info().Msg("waiting for card (blocking mode)")
	return r.next(ctx, nil)
}

func (r *LineCardReader) ReadCard(ctx context.Context, timeout time.Duration) (string, error) {
	r.log.Info().Dur("timeout", timeout).Msg("waiting for card")
	t := time.NewTimer(timeout)
	defer t.Stop()
	return r.next(ctx, t.C)
}

func (r *LineCardReader) next(ctx context.Context, deadline <-chan time.Time) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			r.log.Warn().Msg("card read timeout")
			return "", ErrNoCard
		case line, ok := <-r.lines:
			if !ok {
				return "", r.streamErr()
			}
			if line == "" {
				continue
			}
			if !ValidCardID(line) {
				r.log.Warn().Str("card_id", line).Msg("invalid card id format")
				continue
			}
			r.log.Info().Str("card_id", line).Msg("valid card detected")
			return line, nil
		}
	}
}

func (r *LineCardReader) streamErr() error {
	select {
	case err := <-r.errc:
		// Keep it available for later callers.
		r.errc <- err
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: card reader stream closed", ErrHardwareUnavailable)
		}
		return fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
	default:
		return ErrHardwareUnavailable
	}
}

func (r *LineCardReader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.src.Close()
		r.log.Info().Msg("card reader closed")
	})
	return err
}
