package controller

import (
	"context"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

// runEntry: card, plate, record entry, open gate.
func (c *Controller) runEntry(ctx context.Context, res *types.CycleResult) {
	if !c.readCard(ctx, res) {
		return
	}

	plate, ok := c.recognize(ctx, res)
	if !ok {
		return
	}
	res.Plate = plate

	c.setState(types.StateAuthorizing)
	c.status(markInfo, "authorize", res).Msg("recording entry")

	d, err := c.backend.RecordEntry(ctx, plate, res.CardID, res.ImagePath)
	if err != nil {
		c.fail(ctx, res, types.OutcomeBackendUnreachable, "authorize", "entry not recorded", err)
		return
	}

	switch {
	case d.OK():
		ev := c.status(markOK, "authorize", res)
		if d.Session != nil && d.Session.LogID != "" {
			ev = ev.Str("log_id", d.Session.LogID)
		}
		ev.Msg("entry recorded")

	case d.Kind == types.DecisionRejected:
		res.Detail = rejectionDetail(d)
		msg := "entry rejected by backend"
		if d.Code == types.CodeCardInUse {
			msg = "card already in use, vehicle may not have exited"
		}
		c.fail(ctx, res, types.OutcomeBackendRejected, "authorize", msg, nil)
		return

	case d.Kind == types.DecisionUnreachable:
		res.Detail = "backend unreachable"
		if d.Queued {
			res.Detail = "backend unreachable, entry queued for replay"
		}
		c.fail(ctx, res, types.OutcomeBackendUnreachable, "authorize", res.Detail, nil)
		return

	default:
		res.Detail = "unexpected decision " + string(d.Kind)
		c.fail(ctx, res, types.OutcomeBackendRejected, "authorize", res.Detail, nil)
		return
	}

	if c.actuate(ctx, res) {
		c.status(markOK, "done", res).Msg("entry process completed successfully")
	}
}

func rejectionDetail(d types.Decision) string {
	switch {
	case d.Code != "" && d.Reason != "":
		return d.Code + ": " + d.Reason
	case d.Code != "":
		return d.Code
	default:
		return d.Reason
	}
}
