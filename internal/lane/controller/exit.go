package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/backend"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/device"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

const summaryTime = "2006-01-02 15:04:05"

// runExit: card, session lookup, plate, plate match, delete session, open
// gate. A plate mismatch never opens the gate.
func (c *Controller) runExit(ctx context.Context, res *types.CycleResult) {
	if !c.readCard(ctx, res) {
		return
	}

	c.setState(types.StateAuthorizing)
	c.status(markInfo, "session", res).Msg("finding entry record")

	session, found, err := c.backend.FindActiveSessionByCard(ctx, res.CardID)
	if err != nil {
		outcome := types.OutcomeBackendUnreachable
		if errors.Is(err, backend.ErrRejected) {
			outcome = types.OutcomeBackendRejected
		}
		c.fail(ctx, res, outcome, "session", "entry record lookup failed", err)
		return
	}
	if !found {
		res.Detail = "no active session for card"
		c.fail(ctx, res, types.OutcomeSessionNotFound, "session",
			"no entry record found for this card, vehicle may have already exited or never entered", nil)
		return
	}

	entryPlate := session.LicensePlate
	entryAt := session.EntryAt()
	c.status(markOK, "session", res).
		Str("log_id", session.LogID).
		Str("entry_plate", entryPlate).
		Str("entry_time", entryAt.Local().Format(summaryTime)).
		Msg("found entry record")

	exitPlate, ok := c.recognize(ctx, res)
	if !ok {
		c.status(markWarn, "recognize", res).Msg("manual verification required")
		return
	}
	res.Plate = exitPlate

	if device.NormalizePlate(entryPlate) != device.NormalizePlate(exitPlate) {
		c.mismatch(ctx, res, entryPlate, exitPlate)
		return
	}
	c.status(markOK, "match", res).Msg("license plates match")

	now := c.now()
	dur := ParkingDuration(entryAt, now)
	c.status(markInfo, "match", res).Str("duration", dur.Formatted).Msg("parking duration")

	c.status(markInfo, "checkout", res).Str("log_id", session.LogID).Msg("deleting entry record")
	d, err := c.backend.DeleteSession(ctx, session.LogID)
	switch {
	case ctx.Err() != nil:
		c.fail(ctx, res, types.OutcomeAborted, "checkout", "cycle interrupted", err)
		return
	case err != nil:
		res.Detail = "session not deleted: " + err.Error()
		c.status(markFail, "checkout", res).Err(err).Msg("failed to delete entry record")
		c.status(markWarn, "checkout", res).Msg("gate will still open, manual cleanup may be needed")
	case d.OK():
		c.status(markOK, "checkout", res).Msg("entry record deleted")
	default:
		res.Detail = fmt.Sprintf("session not deleted: %s", d.Kind)
		if d.Queued {
			res.Detail += " (queued for replay)"
		}
		c.status(markFail, "checkout", res).Str("decision", string(d.Kind)).Msg("failed to delete entry record")
		c.status(markWarn, "checkout", res).Msg("gate will still open, manual cleanup may be needed")
	}

	if !c.actuate(ctx, res) {
		return
	}

	c.log.Info().
		Str("mark", string(markOK)).
		Str("step", "summary").
		Str("plate", entryPlate).
		Str("card_id", res.CardID).
		Str("entry", entryAt.Local().Format(summaryTime)).
		Str("exit", now.Local().Format(summaryTime)).
		Str("duration", dur.Formatted).
		Int64("minutes", dur.Minutes).
		Str("entered", humanize.RelTime(entryAt, now, "ago", "from now")).
		Msg("exit summary")
}

// mismatch is the security stop: alert, no gate.
func (c *Controller) mismatch(ctx context.Context, res *types.CycleResult, entryPlate, exitPlate string) {
	res.Outcome = types.OutcomePlateMismatch
	res.Detail = fmt.Sprintf("expected %s, got %s", entryPlate, exitPlate)

	c.status(markAlert, "match", res).
		Str("expected", entryPlate).
		Str("got", exitPlate).
		Msg("LICENSE PLATE MISMATCH, gate will not open, manual verification required")

	c.setState(types.StateErrorFeedback)
	c.act.VerificationAlert(ctx)
}
