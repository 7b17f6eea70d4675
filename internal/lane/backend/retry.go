package backend

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

// failureClass is how a failed attempt is treated by the retry loop.
type failureClass int

const (
	failNone failureClass = iota
	// failConnect: the peer could not be reached at all (refused, reset,
	// unroutable, DNS). Retried; on exhaustion mutating calls are queued.
	failConnect
	// failTimeout: the peer was reached but did not answer in time.
	// Retried; queued on exhaustion only when configured.
	failTimeout
	// failOther: unexpected status or transport error. Retried, never
	// queued.
	failOther
)

func (c failureClass) String() string {
	switch c {
	case failConnect:
		return "connection"
	case failTimeout:
		return "timeout"
	case failOther:
		return "error"
	default:
		return "none"
	}
}

// fixedBackoff waits a constant, class-dependent delay between attempts.
// There is no exponential growth: the lane is blocked on the call, so the
// total wait must stay short and predictable.
type fixedBackoff struct {
	attempts int
	connect  time.Duration
	other    time.Duration
}

// next returns the delay before attempt+1 and whether another attempt is
// allowed. attempt is 1-based (the attempt that just failed).
func (b fixedBackoff) next(attempt int, class failureClass) (time.Duration, bool) {
	if attempt >= b.attempts {
		return 0, false
	}
	if class == failConnect {
		return b.connect, true
	}
	return b.other, true
}

func classifyTransportError(err error) failureClass {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return failConnect
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return failConnect
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return failConnect
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failTimeout
	}
	return failOther
}

