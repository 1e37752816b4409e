package vault

import (
	"BondVault/internal/errs"
	"BondVault/internal/event"
	"BondVault/internal/state"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Distribute splits a harvested amount across active positions by locked
// value. No collaborator is called.
func (c *Controller) Distribute(ctx context.Context, req DistributeRequest) (epoch *state.YieldEpoch, err error) {
	start := c.enter()
	defer func() { c.exit(OpDistribute, start, err) }()

	if err := c.checkDuplicate(ctx, OpDistribute, req.Meta); err != nil {
		return nil, err
	}
	// A deposit mid-flight holds a position that may still be discarded
	if c.guard.depositInFlight() {
		return nil, fmt.Errorf("distribute during deposit: %w", errs.ErrReentrantCall)
	}
	// A withdrawal mid-flight has removed its position but may restore it
	if c.guard.withdrawInFlight() {
		return nil, fmt.Errorf("distribute during withdraw: %w", errs.ErrReentrantCall)
	}

	epoch, err = c.yield.Distribute(req.Amount)
	if err != nil {
		return nil, err
	}

	credits := make([]event.YieldCredit, 0, len(epoch.Credits))
	for _, cr := range epoch.Credits {
		if cr.Amount == 0 {
			continue
		}
		credits = append(credits, event.YieldCredit{Position: cr.ID, Amount: cr.Amount})
	}
	c.commit(OpDistribute, req.Meta, &event.YieldDistributed{
		TotalAmount: epoch.Amount,
		EpochID:     epoch.EpochID,
		TotalLocked: epoch.TotalLocked,
		Dust:        epoch.Dust,
		Credits:     credits,
	})

	if c.metrics != nil {
		c.metrics.YieldDistributed.Add(float64(epoch.Distributed()))
		c.metrics.YieldDust.Add(float64(epoch.Dust))
		c.metrics.DistributeSize.Observe(float64(epoch.ActiveCount))
	}
	return epoch, nil
}

// Claim pays the caller the accrued yield of one position they own.
func (c *Controller) Claim(ctx context.Context, req ClaimRequest) (res *ClaimResult, err error) {
	start := c.enter()
	defer func() { c.exit(OpClaim, start, err) }()

	if err := c.checkDuplicate(ctx, OpClaim, req.Meta); err != nil {
		return nil, err
	}
	return c.claim(ctx, OpClaim, req.Meta, req.Caller, []state.PositionID{req.PositionID})
}

// ClaimBatch claims every listed position in one step. Any failing id
// rejects the whole batch.
func (c *Controller) ClaimBatch(ctx context.Context, req ClaimBatchRequest) (res *ClaimResult, err error) {
	start := c.enter()
	defer func() { c.exit(OpClaimBatch, start, err) }()

	if err := c.checkDuplicate(ctx, OpClaimBatch, req.Meta); err != nil {
		return nil, err
	}
	return c.claim(ctx, OpClaimBatch, req.Meta, req.Caller, req.PositionIDs)
}

func (c *Controller) claim(ctx context.Context, op string, meta Meta, caller common.Address, ids []state.PositionID) (*ClaimResult, error) {
	if err := c.guard.enter(op, ids...); err != nil {
		return nil, err
	}
	defer c.guard.leave(ids...)

	var (
		claims []*state.ClaimResult
		err    error
	)
	if op == OpClaim {
		var one *state.ClaimResult
		one, err = c.yield.Claim(ctx, ids[0], caller)
		if one != nil {
			claims = []*state.ClaimResult{one}
		}
	} else {
		claims, err = c.yield.ClaimBatch(ctx, ids, caller)
	}
	if err != nil {
		return nil, err
	}

	var undo compensator
	undo.push("yield", func() error {
		for _, cl := range claims {
			c.yield.Recredit(cl.PositionID, cl.Amount)
		}
		return nil
	})

	var total int64
	for _, cl := range claims {
		total += cl.Amount
	}
	if err := c.ports.Treasury.Pay(ctx, caller, total); err != nil {
		return nil, c.abort(op, &undo, errs.External("pay claim", err))
	}

	evts := make([]event.Event, len(claims))
	for i, cl := range claims {
		evts[i] = &event.YieldClaimed{Position: cl.PositionID, Claimant: caller, Amount: cl.Amount}
	}
	c.commit(op, meta, evts...)

	if c.metrics != nil {
		c.metrics.YieldClaimed.Add(float64(total))
	}
	return &ClaimResult{Claims: claims, Total: total}, nil
}
