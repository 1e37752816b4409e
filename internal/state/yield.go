package state

import (
	"BondVault/internal/errs"
	fpmath "BondVault/internal/math"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// OwnerResolver looks up the live owner of a position.
type OwnerResolver interface {
	OwnerOf(ctx context.Context, id PositionID) (common.Address, error)
}

// YieldEpoch is the outcome of one distribution.
type YieldEpoch struct {
	EpochID     int64
	Amount      int64
	TotalLocked int64
	ActiveCount int
	Credits     []fpmath.ShareAllocation // ascending by position id
	Dust        int64
}

// Distributed returns Amount - Dust
func (e *YieldEpoch) Distributed() int64 {
	return e.Amount - e.Dust
}

// ClaimResult is the payout owed for one claimed position
type ClaimResult struct {
	PositionID PositionID
	Amount     int64
}

// YieldAccountant allocates harvested yield across active positions by
// locked value and settles claims. Rounding residuals go to the dust pool,
// which belongs to no position and is never redistributed.
type YieldAccountant struct {
	ledger *PositionLedger
	owners OwnerResolver

	totalAccrued int64
	dustPool     int64
	nextEpochID  int64
}

func NewYieldAccountant(ledger *PositionLedger, owners OwnerResolver) *YieldAccountant {
	return &YieldAccountant{
		ledger:      ledger,
		owners:      owners,
		nextEpochID: 1,
	}
}

// Distribute credits every active position with
// floor(amount * depositValue / totalLocked), walking ids in ascending order.
func (ya *YieldAccountant) Distribute(amount int64) (*YieldEpoch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("distribute %d: %w", amount, errs.ErrInvalidAmount)
	}
	totalLocked := ya.ledger.TotalLocked()
	if totalLocked == 0 {
		return nil, fmt.Errorf("distribute %d: %w", amount, errs.ErrNothingLocked)
	}

	active := ya.ledger.ActivePositions()
	shares := make([]fpmath.WeightedShare, len(active))
	for i, pos := range active {
		shares[i] = fpmath.WeightedShare{ID: pos.ID, Weight: pos.DepositValue}
	}

	split := fpmath.ComputeProportionalSplit(amount, totalLocked, shares)
	if split.Dust < 0 || split.Dust > int64(len(active)-1) {
		return nil, fmt.Errorf("distribute %d: dust %d outside [0, %d]: %w",
			amount, split.Dust, len(active)-1, errs.ErrInternal)
	}

	for i, alloc := range split.Allocations {
		if alloc.Amount == 0 {
			continue
		}
		pos := active[i]
		pos.AccruedYield += alloc.Amount
		pos.Version++
		ya.totalAccrued += alloc.Amount
	}
	ya.dustPool += split.Dust

	epoch := &YieldEpoch{
		EpochID:     ya.nextEpochID,
		Amount:      amount,
		TotalLocked: totalLocked,
		ActiveCount: len(active),
		Credits:     split.Allocations,
		Dust:        split.Dust,
	}
	ya.nextEpochID++

	return epoch, nil
}

// Claim checks ownership and zeroes the accrued yield of id, returning the
// amount owed to the caller.
func (ya *YieldAccountant) Claim(ctx context.Context, id PositionID, caller common.Address) (*ClaimResult, error) {
	pos, err := ya.authorize(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	if pos.AccruedYield == 0 {
		return nil, fmt.Errorf("claim %d: %w", id, errs.ErrNoYield)
	}
	ya.ledger.Reindex(id, caller)
	return ya.settle(pos), nil
}

// ClaimBatch validates every id before applying any claim. A single failing
// id rejects the whole batch with no state change.
func (ya *YieldAccountant) ClaimBatch(ctx context.Context, ids []PositionID, caller common.Address) ([]*ClaimResult, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("claim batch: empty: %w", errs.ErrInvalidAmount)
	}

	seen := make(map[PositionID]struct{}, len(ids))
	targets := make([]*Position, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("claim batch: id %d: %w", id, errs.ErrDuplicatePosition)
		}
		seen[id] = struct{}{}

		pos, err := ya.authorize(ctx, id, caller)
		if err != nil {
			return nil, fmt.Errorf("claim batch: %w", err)
		}
		if pos.AccruedYield == 0 {
			return nil, fmt.Errorf("claim batch: position %d: %w", id, errs.ErrNoYield)
		}
		targets = append(targets, pos)
	}

	// Every id is owned by caller; only now is the owner index touched
	results := make([]*ClaimResult, 0, len(targets))
	for _, pos := range targets {
		ya.ledger.Reindex(pos.ID, caller)
		results = append(results, ya.settle(pos))
	}
	return results, nil
}

// Settle zeroes the accrued yield of an active position without any
// ownership check and returns the amount removed (may be zero). Used when a
// withdrawal folds unclaimed yield into its payout.
func (ya *YieldAccountant) Settle(id PositionID) (int64, error) {
	pos, ok := ya.ledger.GetPosition(id)
	if !ok {
		return 0, fmt.Errorf("settle %d: %w", id, errs.ErrUnknownPosition)
	}
	return ya.settle(pos).Amount, nil
}

// Recredit restores yield removed by Claim or Settle within the same atomic
// operation.
func (ya *YieldAccountant) Recredit(id PositionID, amount int64) {
	pos, ok := ya.ledger.GetPosition(id)
	if !ok || amount == 0 {
		return
	}
	pos.AccruedYield += amount
	pos.Version++
	ya.totalAccrued += amount
}

// RevertEpoch reverses a distribution within the same atomic operation.
func (ya *YieldAccountant) RevertEpoch(epoch *YieldEpoch) {
	for _, credit := range epoch.Credits {
		if credit.Amount == 0 {
			continue
		}
		if pos, ok := ya.ledger.GetPosition(credit.ID); ok {
			pos.AccruedYield -= credit.Amount
			pos.Version++
			ya.totalAccrued -= credit.Amount
		}
	}
	ya.dustPool -= epoch.Dust
	if epoch.EpochID == ya.nextEpochID-1 {
		ya.nextEpochID--
	}
}

// TakeDust empties the dust pool and returns its previous balance.
func (ya *YieldAccountant) TakeDust() int64 {
	d := ya.dustPool
	ya.dustPool = 0
	return d
}

// ReturnDust puts back dust taken by TakeDust.
func (ya *YieldAccountant) ReturnDust(amount int64) {
	ya.dustPool += amount
}

func (ya *YieldAccountant) TotalAccrued() int64 { return ya.totalAccrued }
func (ya *YieldAccountant) DustPool() int64     { return ya.dustPool }
func (ya *YieldAccountant) NextEpochID() int64  { return ya.nextEpochID }

func (ya *YieldAccountant) authorize(ctx context.Context, id PositionID, caller common.Address) (*Position, error) {
	pos, ok := ya.ledger.GetPosition(id)
	if !ok {
		return nil, fmt.Errorf("position %d: %w", id, errs.ErrUnknownPosition)
	}
	owner, err := ya.owners.OwnerOf(ctx, id)
	if err != nil {
		return nil, errs.External(fmt.Sprintf("owner of %d", id), err)
	}
	if owner != caller {
		return nil, fmt.Errorf("position %d owned by %s, caller %s: %w", id, owner.Hex(), caller.Hex(), errs.ErrNotOwner)
	}
	return pos, nil
}

func (ya *YieldAccountant) settle(pos *Position) *ClaimResult {
	amount := pos.AccruedYield
	if amount != 0 {
		pos.AccruedYield = 0
		pos.Version++
		ya.totalAccrued -= amount
	}
	return &ClaimResult{PositionID: pos.ID, Amount: amount}
}

// ValidateInvariants checks sum(active AccruedYield) == totalAccrued and
// that the dust pool is non-negative.
func (ya *YieldAccountant) ValidateInvariants() error {
	var sum int64
	for _, pos := range ya.ledger.ActivePositions() {
		if pos.AccruedYield < 0 {
			return fmt.Errorf("YA-01: position %d has negative accrued yield %d", pos.ID, pos.AccruedYield)
		}
		sum += pos.AccruedYield
	}
	if sum != ya.totalAccrued {
		return fmt.Errorf("YA-01: sum of accrued yield %d != tracked total %d", sum, ya.totalAccrued)
	}
	if ya.dustPool < 0 {
		return fmt.Errorf("YA-02: negative dust pool %d", ya.dustPool)
	}
	return nil
}

// ApplyEpoch re-applies a recorded distribution during replay. Credits are
// taken as recorded rather than recomputed.
func (ya *YieldAccountant) ApplyEpoch(epoch *YieldEpoch) error {
	if epoch.EpochID != ya.nextEpochID {
		return fmt.Errorf("replay epoch %d, expected %d: %w", epoch.EpochID, ya.nextEpochID, errs.ErrInternal)
	}
	for _, credit := range epoch.Credits {
		if credit.Amount == 0 {
			continue
		}
		pos, ok := ya.ledger.GetPosition(credit.ID)
		if !ok {
			return fmt.Errorf("replay epoch %d: position %d: %w", epoch.EpochID, credit.ID, errs.ErrUnknownPosition)
		}
		pos.AccruedYield += credit.Amount
		pos.Version++
		ya.totalAccrued += credit.Amount
	}
	ya.dustPool += epoch.Dust
	ya.nextEpochID++
	return nil
}

// Debit removes exactly amount from a position's accrued yield. Replay uses
// it for claims, because yield credited by an operation nested inside the
// claim is logged before the claim itself.
func (ya *YieldAccountant) Debit(id PositionID, amount int64) error {
	pos, ok := ya.ledger.GetPosition(id)
	if !ok {
		return fmt.Errorf("debit %d: %w", id, errs.ErrUnknownPosition)
	}
	if amount <= 0 || pos.AccruedYield < amount {
		return fmt.Errorf("debit %d from position %d holding %d: %w", amount, id, pos.AccruedYield, errs.ErrInternal)
	}
	pos.AccruedYield -= amount
	pos.Version++
	ya.totalAccrued -= amount
	return nil
}

// DebitDust removes exactly amount from the dust pool (replay of a sweep).
func (ya *YieldAccountant) DebitDust(amount int64) error {
	if amount <= 0 || ya.dustPool < amount {
		return fmt.Errorf("debit %d from dust pool %d: %w", amount, ya.dustPool, errs.ErrInternal)
	}
	ya.dustPool -= amount
	return nil
}

// --- Snapshot Restore ---

// RestoreTotals directly sets running totals (used for snapshot restore)
func (ya *YieldAccountant) RestoreTotals(totalAccrued, dustPool, nextEpochID int64) {
	ya.totalAccrued = totalAccrued
	ya.dustPool = dustPool
	ya.nextEpochID = nextEpochID
}
