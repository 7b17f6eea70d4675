// Package clock holds the one context-aware wait used at every suspension
// point of a lane: retry backoff, driver timing, gate dwell and the pauses
// between cycles.
package clock

import (
	"context"
	"time"
)

// Sleep waits for d or until ctx is done and returns ctx.Err() in the
// latter case. A non-positive d only reports ctx state.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
