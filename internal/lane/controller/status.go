package controller

import (
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

// mark is the glyph carried in every step status line so operators can
// tell the categories apart at a glance.
type mark string

const (
	markInfo  mark = "•"
	markOK    mark = "✔"
	markFail  mark = "✖"
	markWarn  mark = "⚠"
	markAlert mark = "⛔"
)

// status starts a step status line for res.
func (c *Controller) status(m mark, step string, res *types.CycleResult) *zerolog.Event {
	var ev *zerolog.Event
	switch m {
	case markOK, markInfo:
		ev = c.log.Info()
	case markWarn:
		ev = c.log.Warn()
	default:
		ev = c.log.Error()
	}
	ev = ev.Str("mark", string(m)).Str("step", step)
	if res.CardID != "" {
		ev = ev.Str("card_id", res.CardID)
	}
	if res.Plate != "" {
		ev = ev.Str("plate", res.Plate)
	}
	return ev
}
