package vault

import (
	"BondVault/internal/errs"
	"BondVault/internal/state"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// PositionView is a position as seen by readers, owner resolved live
type PositionView struct {
	ID           state.PositionID `json:"id"`
	Owner        common.Address   `json:"owner"`
	State        string           `json:"state"`
	DepositValue int64            `json:"deposit_value"`
	IsMeta       bool             `json:"is_meta"`
	CurveStart   int64            `json:"curve_start"`
	CurveCount   int64            `json:"curve_count"`
	AccruedYield int64            `json:"accrued_yield"`
	SubAccount   common.Address   `json:"sub_account"`
}

// VaultState summarizes global engine state
type VaultState struct {
	Sequence        int64             `json:"sequence"`
	StateHash       string            `json:"state_hash"`
	Paused          bool              `json:"paused"`
	NextCurveIndex  int64             `json:"next_curve_index"`
	TotalLocked     int64             `json:"total_locked"`
	ActivePositions int               `json:"active_positions"`
	TotalAccrued    int64             `json:"total_accrued"`
	DustPool        int64             `json:"dust_pool"`
	NextEpochID     int64             `json:"next_epoch_id"`
	Curve           state.CurveParams `json:"curve"`
	UnitPrice       int64             `json:"unit_price"`
	NextPrice       int64             `json:"next_price"`
}

// Quote is what a budget would buy at the current curve position
type Quote struct {
	Budget     int64 `json:"budget"`
	StartIndex int64 `json:"start_index"`
	Count      int64 `json:"count"`
	TotalCost  int64 `json:"total_cost"`
	Remainder  int64 `json:"remainder"`
}

func (c *Controller) view(ctx context.Context, pos *state.Position) (*PositionView, error) {
	v := &PositionView{
		ID:           pos.ID,
		DepositValue: pos.DepositValue,
		IsMeta:       pos.IsMeta,
		CurveStart:   pos.CurveStart,
		CurveCount:   pos.CurveCount,
		AccruedYield: pos.AccruedYield,
		SubAccount:   pos.SubAccount,
		State:        "active",
	}
	if !pos.IsActive() {
		v.State = "burned"
		return v, nil
	}
	owner, err := c.ports.Registry.OwnerOf(ctx, pos.ID)
	if err != nil {
		return nil, errs.External(fmt.Sprintf("owner of %d", pos.ID), err)
	}
	v.Owner = owner
	return v, nil
}

// Position returns one position, active or burned.
func (c *Controller) Position(ctx context.Context, id state.PositionID) (*PositionView, error) {
	pos, ok := c.positions.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("position %d: %w", id, errs.ErrUnknownPosition)
	}
	return c.view(ctx, pos)
}

// PositionsOf lists the active positions currently owned by owner. The
// owner index is a hint; every candidate is confirmed against the registry.
// Positions transferred to owner since they were last seen appear after
// ResyncOwners.
func (c *Controller) PositionsOf(ctx context.Context, owner common.Address) ([]*PositionView, error) {
	ids := c.positions.IndexedPositions(owner)
	views := make([]*PositionView, 0, len(ids))
	for _, id := range ids {
		pos, ok := c.positions.GetPosition(id)
		if !ok {
			continue
		}
		v, err := c.view(ctx, pos)
		if err != nil {
			return nil, err
		}
		if v.Owner != owner {
			continue
		}
		views = append(views, v)
	}
	return views, nil
}

// ResyncOwners reconciles the owner index with the registry and returns how
// many positions changed hands since they were last indexed.
func (c *Controller) ResyncOwners(ctx context.Context) (int, error) {
	moved := 0
	for _, pos := range c.positions.ActivePositions() {
		live, err := c.ports.Registry.OwnerOf(ctx, pos.ID)
		if err != nil {
			return moved, errs.External(fmt.Sprintf("owner of %d", pos.ID), err)
		}
		if indexed, ok := c.positions.IndexedOwner(pos.ID); ok && indexed == live {
			continue
		}
		c.positions.Reindex(pos.ID, live)
		moved++
	}
	return moved, nil
}

// State returns a summary of global engine state.
func (c *Controller) State() VaultState {
	hash := c.hasher.GetPrevHash()
	curve := c.curve.Curve()
	next := c.positions.NextCurveIndex()
	return VaultState{
		Sequence:        c.sequence,
		StateHash:       hex.EncodeToString(hash[:]),
		Paused:          c.paused,
		NextCurveIndex:  next,
		TotalLocked:     c.positions.TotalLocked(),
		ActivePositions: c.positions.ActiveCount(),
		TotalAccrued:    c.yield.TotalAccrued(),
		DustPool:        c.yield.DustPool(),
		NextEpochID:     c.yield.NextEpochID(),
		Curve:           c.curve.Params(),
		UnitPrice:       curve.UnitPrice(),
		NextPrice:       curve.Price(next),
	}
}

// Quote prices budget against the curve without changing anything.
func (c *Controller) Quote(budget int64) (*Quote, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("quote %d: %w", budget, errs.ErrInvalidAmount)
	}
	next := c.positions.NextCurveIndex()
	p := c.curve.Curve().Purchase(budget, next)
	return &Quote{
		Budget:     budget,
		StartIndex: next,
		Count:      p.Count,
		TotalCost:  p.TotalCost,
		Remainder:  p.Remainder,
	}, nil
}
