package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeYieldAccrual
	JournalTypeYieldDust
	JournalTypeYieldClaim
	JournalTypeWithdrawalPrincipal
	JournalTypeWithdrawalYield
	JournalTypeReserveSweep
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeYieldAccrual:
		return "yield_accrual"
	case JournalTypeYieldDust:
		return "yield_dust"
	case JournalTypeYieldClaim:
		return "yield_claim"
	case JournalTypeWithdrawalPrincipal:
		return "withdrawal_principal"
	case JournalTypeWithdrawalYield:
		return "withdrawal_yield"
	case JournalTypeReserveSweep:
		return "reserve_sweep"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Deterministic: derived from batch id and leg index
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Operation reference
	Sequence      int64       // Global operation sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID  uuid.UUID
	EventRef string
	Sequence int64
	Journals []Journal
}

// Validate ensures the batch is well-formed.
// Each entry moves one positive amount from credit to debit, so every entry
// is balanced on its own and so is any batch of entries.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		// Validate amount is positive (L-02)
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		// Validate batch consistency
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		// Validate debit != credit (no self-transfers)
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}

// Total returns the sum of all leg amounts
func (b *Batch) Total() int64 {
	var total int64
	for _, j := range b.Journals {
		total += j.Amount
	}
	return total
}
