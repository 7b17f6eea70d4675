// Package notify fans finished lane cycles out to other systems.
package notify

import (
	"context"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

// Notifier publishes lane events. Implementations must not block for long;
// the lane waits on them between steps.
type Notifier interface {
	// CycleFinished is called once per cycle, whatever the outcome.
	CycleFinished(ctx context.Context, res types.CycleResult) error
	// SecurityAlert is called for cycles an operator has to look at.
	SecurityAlert(ctx context.Context, res types.CycleResult) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) CycleFinished(context.Context, types.CycleResult) error { return nil }
func (Nop) SecurityAlert(context.Context, types.CycleResult) error { return nil }
func (Nop) Close() error                                             { return nil }
