package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced (L-01)
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateLocked verifies the locked account matches the engine total (L-03)
func (v *InvariantValidator) ValidateLocked(totalLocked int64) error {
	if got := v.tracker.Locked(); got != totalLocked {
		return fmt.Errorf("locked account %d != engine total locked %d", got, totalLocked)
	}
	return nil
}

// ValidatePositionYield verifies a position's yield account matches its
// accrued yield (L-04)
func (v *InvariantValidator) ValidatePositionYield(positionID uint64, accrued int64) error {
	if got := v.tracker.PositionYield(positionID); got != accrued {
		return fmt.Errorf("yield account of position %d is %d, engine has %d", positionID, got, accrued)
	}
	return nil
}

// ValidateDust verifies the dust account matches the engine dust pool (L-05)
func (v *InvariantValidator) ValidateDust(dustPool int64) error {
	if got := v.tracker.Dust(); got != dustPool {
		return fmt.Errorf("dust account %d != engine dust pool %d", got, dustPool)
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum (L-06)
func (v *InvariantValidator) ValidateGlobalBalance() error {
	if total := v.tracker.ComputeGlobalBalance(); total != 0 {
		return fmt.Errorf("global balance is non-zero: %d", total)
	}
	return nil
}

// ValidateInternalNonNegative checks every position and system account is
// >= 0 (L-07). External boundary accounts are allowed to go negative.
func (v *InvariantValidator) ValidateInternalNonNegative() error {
	for _, key := range v.tracker.SortedKeys() {
		if key.Scope == AccountScopeExternal {
			continue
		}
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}
