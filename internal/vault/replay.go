package vault

import (
	"BondVault/internal/errs"
	"BondVault/internal/event"
	fpmath "BondVault/internal/math"
	"BondVault/internal/state"
	"fmt"
)

// Replay re-applies one logged event on top of restored state. Collaborators
// are not called: the event already records their outcome. The recomputed
// state hash must match the logged one.
func (c *Controller) Replay(env *event.EventEnvelope) error {
	if env.Sequence < c.sequence {
		// Already covered by the snapshot
		return nil
	}
	if env.Sequence > c.sequence {
		return fmt.Errorf("replay gap: got sequence %d, expected %d: %w", env.Sequence, c.sequence, errs.ErrInternal)
	}
	if env.PrevHash != c.hasher.GetPrevHash() {
		return fmt.Errorf("replay %d: prev hash does not match chain tip: %w", env.Sequence, errs.ErrInternal)
	}

	evt, err := event.Decode(env.EventType, env.Payload)
	if err != nil {
		return fmt.Errorf("replay %d: %w", env.Sequence, err)
	}
	if err := c.reduce(env, evt); err != nil {
		return fmt.Errorf("replay %d (%s): %w", env.Sequence, env.EventType, err)
	}

	_, digest, err := c.applyJournal(env.Sequence, evt, env.Payload)
	if err != nil {
		return fmt.Errorf("replay %d: %w", env.Sequence, err)
	}
	if !VerifyLink(c.hasher.GetPrevHash(), env.Sequence, digest, env.StateHash) {
		return fmt.Errorf("replay %d: state hash mismatch: %w", env.Sequence, errs.ErrInternal)
	}
	c.hasher.SetPrevHash(env.StateHash)
	c.sequence = env.Sequence + 1

	if env.OperationID != "" {
		c.idempotency.MarkProcessed(env.Op, env.OperationID)
	}
	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}

// reduce applies the engine-state effect of evt
func (c *Controller) reduce(env *event.EventEnvelope, evt event.Event) error {
	switch e := evt.(type) {
	case *event.Deposited:
		if e.CurveStart != c.positions.NextCurveIndex() {
			return fmt.Errorf("deposit at %d, counter at %d: %w",
				e.CurveStart, c.positions.NextCurveIndex(), errs.ErrCurveNotContiguous)
		}
		c.positions.SetPosition(&state.Position{
			ID:           e.Position,
			DepositValue: e.Deposit,
			IsMeta:       e.CurveCount > 1,
			CurveStart:   e.CurveStart,
			CurveCount:   e.CurveCount,
			SubAccount:   e.SubAccount,
			State:        state.PositionStateActive,
			Version:      1,
		}, e.Depositor)
		c.positions.SetNextCurveIndex(e.CurveStart + e.CurveCount)

	case *event.MetaPositionMinted:
		// Informational; the Deposited event carries the state

	case *event.YieldDistributed:
		credits := make([]fpmath.ShareAllocation, len(e.Credits))
		for i, cr := range e.Credits {
			credits[i] = fpmath.ShareAllocation{ID: cr.Position, Amount: cr.Amount}
		}
		return c.yield.ApplyEpoch(&state.YieldEpoch{
			EpochID:     e.EpochID,
			Amount:      e.TotalAmount,
			TotalLocked: e.TotalLocked,
			Credits:     credits,
			Dust:        e.Dust,
		})

	case *event.YieldClaimed:
		return c.yield.Debit(e.Position, e.Amount)

	case *event.Withdrawn:
		accrued, err := c.yield.Settle(e.Position)
		if err != nil {
			return err
		}
		prev, err := c.positions.RemovePosition(e.Position)
		if err != nil {
			return err
		}
		if accrued != e.AccruedYield || prev.DepositValue != e.Principal {
			return fmt.Errorf("withdraw of %d settled %d+%d, logged %d+%d: %w",
				e.Position, prev.DepositValue, accrued, e.Principal, e.AccruedYield, errs.ErrInternal)
		}

	case *event.CurveParamsUpdated:
		if e.UnitTick != c.curve.Params().UnitTick {
			if err := c.curve.UpdateUnitTick(e.UnitTick, env.Sequence); err != nil {
				return err
			}
		}
		return c.curve.UpdateRate(e.NewRate, env.Sequence)

	case *event.DepositsPaused:
		c.paused = true

	case *event.DepositsUnpaused:
		c.paused = false

	case *event.ReserveWithdrawn:
		return c.yield.DebitDust(e.Amount)

	case *event.SubAccountExecuted:
		// Audit only; the forwarded call is not repeated

	default:
		return fmt.Errorf("unhandled event %T: %w", evt, errs.ErrInternal)
	}
	return nil
}

// FinishReplay validates the rebuilt state once the log is drained
func (c *Controller) FinishReplay() error {
	c.lastFullCheck = c.sequence
	if err := c.ValidateAll(); err != nil {
		return fmt.Errorf("state after replay: %w", err)
	}
	c.recordState()
	return nil
}
