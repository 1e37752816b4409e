package vault

import (
	"BondVault/internal/errs"
	"BondVault/internal/event"
	"context"
	"crypto/sha256"
	"fmt"
)

// Deposit converts the deposited asset, buys the next run of curve slots with
// it and records one position (a meta-position when more than one slot is
// bought). Unspent value is refunded to the depositor.
func (c *Controller) Deposit(ctx context.Context, req DepositRequest) (res *DepositResult, err error) {
	start := c.enter()
	defer func() { c.exit(OpDeposit, start, err) }()

	if err := c.checkDuplicate(ctx, OpDeposit, req.Meta); err != nil {
		return nil, err
	}
	if c.paused {
		return nil, fmt.Errorf("deposit: %w", errs.ErrDepositsPaused)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("deposit amount %d: %w", req.Amount, errs.ErrInvalidAmount)
	}
	if err := c.guard.enterDeposit(); err != nil {
		return nil, err
	}
	defer c.guard.leaveDeposit()

	value, err := c.ports.Converter.ToUnitOfAccount(ctx, req.Asset, req.Amount)
	if err != nil {
		return nil, errs.External("convert "+req.Asset, err)
	}
	if value <= 0 {
		return nil, fmt.Errorf("deposit of %d %s converts to %d: %w", req.Amount, req.Asset, value, errs.ErrInvalidAmount)
	}

	curveStart := c.positions.NextCurveIndex()
	purchase := c.curve.Curve().Purchase(value, curveStart)
	if purchase.Count == 0 {
		return nil, fmt.Errorf("value %d below price(%d)=%d: %w",
			value, curveStart, c.curve.Curve().Price(curveStart), errs.ErrDepositTooSmall)
	}

	var undo compensator

	if err := c.ports.Treasury.Collect(ctx, req.Depositor, req.Asset, req.Amount); err != nil {
		return nil, errs.External("collect deposit", err)
	}
	undo.push("collect", func() error {
		return c.ports.Treasury.Release(ctx, req.Depositor, req.Asset, req.Amount)
	})

	pos, err := c.positions.CreatePosition(ctx, req.Depositor, curveStart, purchase.Count, purchase.TotalCost)
	if err != nil {
		return nil, c.abort(OpDeposit, &undo, err)
	}
	id := pos.ID
	undo.push("mint", func() error {
		c.positions.DiscardPosition(id)
		return c.ports.Registry.Burn(ctx, id)
	})

	// A fresh id cannot be in flight; entering keeps callbacks off it until commit
	if err := c.guard.enter(OpDeposit, id); err != nil {
		return nil, c.abort(OpDeposit, &undo, err)
	}
	defer c.guard.leave(id)

	subAccount, err := c.ports.Binder.AddressFor(ctx, id)
	if err != nil {
		return nil, c.abort(OpDeposit, &undo, errs.External("bind sub-account", err))
	}
	if err := c.positions.BindSubAccount(id, subAccount); err != nil {
		return nil, c.abort(OpDeposit, &undo, err)
	}

	if purchase.Remainder > 0 {
		if err := c.ports.Treasury.Pay(ctx, req.Depositor, purchase.Remainder); err != nil {
			return nil, c.abort(OpDeposit, &undo, errs.External("refund remainder", err))
		}
		undo.push("refund", func() error {
			return c.ports.Treasury.Recover(ctx, req.Depositor, purchase.Remainder)
		})
	}

	// Irreversible, so it goes last
	reserve, err := c.ports.Converter.SwapToReserve(ctx, req.Asset, req.Amount, req.RoutingData)
	if err != nil {
		return nil, c.abort(OpDeposit, &undo, errs.External("swap to reserve", err))
	}

	evts := []event.Event{&event.Deposited{
		Depositor:  req.Depositor,
		Asset:      req.Asset,
		AmountIn:   req.Amount,
		Position:   id,
		UnitValue:  value,
		CurveStart: curveStart,
		CurveCount: purchase.Count,
		Deposit:    purchase.TotalCost,
		Refund:     purchase.Remainder,
		SubAccount: subAccount,
		ReserveOut: reserve,
	}}
	if purchase.Count > 1 {
		evts = append(evts, &event.MetaPositionMinted{
			Depositor:  req.Depositor,
			Position:   id,
			CurveCount: purchase.Count,
			CurveStart: curveStart,
		})
	}
	c.commit(OpDeposit, req.Meta, evts...)

	return &DepositResult{
		PositionID:    id,
		UnitValue:     value,
		CurveStart:    curveStart,
		CurveCount:    purchase.Count,
		DepositValue:  purchase.TotalCost,
		Refund:        purchase.Remainder,
		SubAccount:    subAccount,
		ReserveAmount: reserve,
	}, nil
}

// Withdraw burns a position and pays its owner the deposit value plus any
// unclaimed yield. Every asset held by the bound sub-account is swept to the
// owner. Engine state is zeroed before the first external call.
func (c *Controller) Withdraw(ctx context.Context, req WithdrawRequest) (res *WithdrawResult, err error) {
	start := c.enter()
	defer func() { c.exit(OpWithdraw, start, err) }()

	if err := c.checkDuplicate(ctx, OpWithdraw, req.Meta); err != nil {
		return nil, err
	}
	id := req.PositionID
	if _, ok := c.positions.GetPosition(id); !ok {
		return nil, fmt.Errorf("withdraw %d: %w", id, errs.ErrUnknownPosition)
	}
	owner, err := c.ports.Registry.OwnerOf(ctx, id)
	if err != nil {
		return nil, errs.External(fmt.Sprintf("owner of %d", id), err)
	}
	if owner != req.Caller {
		return nil, fmt.Errorf("withdraw %d by %s: %w", id, req.Caller.Hex(), errs.ErrNotOwner)
	}
	c.positions.Reindex(id, owner)

	if err := c.guard.enter(OpWithdraw, id); err != nil {
		return nil, err
	}
	defer c.guard.leave(id)

	// Effects
	accrued, err := c.yield.Settle(id)
	if err != nil {
		return nil, err
	}
	prev, err := c.positions.RemovePosition(id)
	if err != nil {
		c.yield.Recredit(id, accrued)
		return nil, err
	}
	principal := prev.DepositValue

	var undo compensator
	undo.push("ledger", func() error {
		c.positions.RestorePosition(prev, owner)
		c.yield.Recredit(id, accrued)
		return nil
	})

	// Interactions
	payout := principal + accrued
	if err := c.ports.Treasury.Pay(ctx, req.Caller, payout); err != nil {
		return nil, c.abort(OpWithdraw, &undo, errs.External("pay withdrawal", err))
	}
	undo.push("payout", func() error {
		return c.ports.Treasury.Recover(ctx, req.Caller, payout)
	})

	if err := c.ports.Registry.Burn(ctx, id); err != nil {
		return nil, c.abort(OpWithdraw, &undo, errs.External("burn", err))
	}
	undo.push("burn", func() error {
		return c.ports.Registry.Reissue(ctx, id, owner)
	})

	swept, err := c.ports.Binder.SweepAll(ctx, id, req.Caller)
	if err != nil {
		return nil, c.abort(OpWithdraw, &undo, errs.External("sweep sub-account", err))
	}

	sweptEvt := make([]event.SweptAsset, len(swept))
	for i, s := range swept {
		sweptEvt[i] = event.SweptAsset{Asset: s.Asset, Amount: s.Amount}
	}
	c.commit(OpWithdraw, req.Meta, &event.Withdrawn{
		Owner:        owner,
		Position:     id,
		Payout:       payout,
		Principal:    principal,
		AccruedYield: accrued,
		Swept:        sweptEvt,
	})

	return &WithdrawResult{
		PositionID:   id,
		Principal:    principal,
		AccruedYield: accrued,
		Payout:       payout,
		Swept:        swept,
	}, nil
}

// ExecuteFromSubAccount forwards an arbitrary call through the position's
// sub-account. Ownership is the only check; target and payload are opaque.
func (c *Controller) ExecuteFromSubAccount(ctx context.Context, req ExecuteRequest) (out []byte, err error) {
	start := c.enter()
	defer func() { c.exit(OpExecute, start, err) }()

	if err := c.checkDuplicate(ctx, OpExecute, req.Meta); err != nil {
		return nil, err
	}
	id := req.PositionID
	if _, ok := c.positions.GetPosition(id); !ok {
		return nil, fmt.Errorf("execute on %d: %w", id, errs.ErrUnknownPosition)
	}
	owner, err := c.ports.Registry.OwnerOf(ctx, id)
	if err != nil {
		return nil, errs.External(fmt.Sprintf("owner of %d", id), err)
	}
	if owner != req.Caller {
		return nil, fmt.Errorf("execute on %d by %s: %w", id, req.Caller.Hex(), errs.ErrNotOwner)
	}
	c.positions.Reindex(id, owner)

	if err := c.guard.enter(OpExecute, id); err != nil {
		return nil, err
	}
	defer c.guard.leave(id)

	out, err = c.ports.Binder.Execute(ctx, id, req.Target, req.Value, req.Data)
	if err != nil {
		return nil, errs.External("sub-account execute", err)
	}
	c.commit(OpExecute, req.Meta, &event.SubAccountExecuted{
		Caller:   req.Caller,
		Position: id,
		Target:   req.Target,
		Value:    req.Value,
		DataHash: sha256.Sum256(req.Data),
	})
	return out, nil
}
