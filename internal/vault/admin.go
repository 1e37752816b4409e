package vault

import (
	"BondVault/internal/errs"
	"BondVault/internal/event"
	"context"
	"fmt"
)

// PauseDeposits stops new deposits. Claims and withdrawals are unaffected.
// Pausing an already paused vault is a no-op and emits nothing.
func (c *Controller) PauseDeposits(ctx context.Context, req AdminRequest) (err error) {
	start := c.enter()
	defer func() { c.exit(OpPause, start, err) }()

	if err := c.checkDuplicate(ctx, OpPause, req.Meta); err != nil {
		return err
	}
	if err := c.requireAdmin(OpPause, req.Caller); err != nil {
		return err
	}
	if c.paused {
		c.markProcessed(OpPause, req.Meta)
		return nil
	}
	c.paused = true
	c.commit(OpPause, req.Meta, &event.DepositsPaused{By: req.Caller})
	return nil
}

func (c *Controller) UnpauseDeposits(ctx context.Context, req AdminRequest) (err error) {
	start := c.enter()
	defer func() { c.exit(OpUnpause, start, err) }()

	if err := c.checkDuplicate(ctx, OpUnpause, req.Meta); err != nil {
		return err
	}
	if err := c.requireAdmin(OpUnpause, req.Caller); err != nil {
		return err
	}
	if !c.paused {
		c.markProcessed(OpUnpause, req.Meta)
		return nil
	}
	c.paused = false
	c.commit(OpUnpause, req.Meta, &event.DepositsUnpaused{By: req.Caller})
	return nil
}

// UpdateCurveParams sets the fee rate for future purchases. Existing
// positions keep the value they paid.
func (c *Controller) UpdateCurveParams(ctx context.Context, req UpdateCurveRequest) (err error) {
	start := c.enter()
	defer func() { c.exit(OpUpdateCurve, start, err) }()

	if err := c.checkDuplicate(ctx, OpUpdateCurve, req.Meta); err != nil {
		return err
	}
	if err := c.requireAdmin(OpUpdateCurve, req.Caller); err != nil {
		return err
	}
	if err := c.curve.UpdateRate(req.Rate, c.sequence); err != nil {
		return err
	}
	c.commit(OpUpdateCurve, req.Meta, &event.CurveParamsUpdated{
		NewRate:  req.Rate,
		UnitTick: c.curve.Params().UnitTick,
	})
	return nil
}

// EmergencyWithdrawReserve sweeps the dust pool to the given address. Locked
// value and accrued yield are never touched.
func (c *Controller) EmergencyWithdrawReserve(ctx context.Context, req SweepReserveRequest) (amount int64, err error) {
	start := c.enter()
	defer func() { c.exit(OpSweepReserve, start, err) }()

	if err := c.checkDuplicate(ctx, OpSweepReserve, req.Meta); err != nil {
		return 0, err
	}
	if err := c.requireAdmin(OpSweepReserve, req.Caller); err != nil {
		return 0, err
	}

	amount = c.yield.TakeDust()
	if amount == 0 {
		return 0, fmt.Errorf("sweep reserve: %w", errs.ErrNothingToSweep)
	}

	var undo compensator
	undo.push("dust", func() error {
		c.yield.ReturnDust(amount)
		return nil
	})
	if err := c.ports.Treasury.Pay(ctx, req.To, amount); err != nil {
		return 0, c.abort(OpSweepReserve, &undo, errs.External("pay reserve sweep", err))
	}

	c.commit(OpSweepReserve, req.Meta, &event.ReserveWithdrawn{To: req.To, Amount: amount})
	return amount, nil
}
