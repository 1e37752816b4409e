package ledger

import (
	"fmt"
	"sort"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SetBalance directly sets a balance (used for snapshot restore)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	if balance == 0 {
		delete(bt.balances, key)
		return
	}
	bt.balances[key] = balance
}

// === Vault Balance Queries ===

// Locked returns the value held against active positions
func (bt *BalanceTracker) Locked() int64 {
	return bt.GetBalance(LockedAccount)
}

// Dust returns the un-attributed rounding balance
func (bt *BalanceTracker) Dust() int64 {
	return bt.GetBalance(DustAccount)
}

// PositionYield returns the unclaimed yield journaled to a position
func (bt *BalanceTracker) PositionYield(positionID uint64) int64 {
	return bt.GetBalance(YieldAccount(positionID))
}

// === Invariant Checks ===

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() int64 {
	var total int64
	for _, balance := range bt.balances {
		total += balance
	}
	return total
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ValidateSufficient checks that key holds at least required
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required int64) error {
	balance := bt.GetBalance(key)
	if balance < required {
		return fmt.Errorf("insufficient balance in %s: have=%d, need=%d", key.AccountPath(), balance, required)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// SortedKeys returns account keys in a deterministic order
func (bt *BalanceTracker) SortedKeys() []AccountKey {
	keys := make([]AccountKey, 0, len(bt.balances))
	for k := range bt.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		return a.SubType < b.SubType
	})
	return keys
}
