package ledger

import (
	fpmath "BondVault/internal/math"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// journalNamespace scopes deterministic batch and journal ids
var journalNamespace = uuid.MustParse("6f1c5a52-3b8e-4f0e-9d7a-2c4b8e1f0a93")

// JournalGenerator creates balanced journal batches for vault value movements.
// Batch and journal ids are derived from the operation sequence, so replaying
// the same operations yields the same journal.
type JournalGenerator struct {
	balanceTracker *BalanceTracker // pre-checks
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		balanceTracker: tracker,
	}
}

func batchID(sequence int64, ref string) uuid.UUID {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(sequence))
	return uuid.NewSHA1(journalNamespace, append(buf[:], ref...))
}

func journalID(batch uuid.UUID, leg int) uuid.UUID {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(leg))
	return uuid.NewSHA1(batch, buf[:])
}

func newBatch(sequence int64, ref string, legs int) *Batch {
	return &Batch{
		BatchID:  batchID(sequence, ref),
		EventRef: ref,
		Sequence: sequence,
		Journals: make([]Journal, 0, legs),
	}
}

func (b *Batch) addLeg(debit, credit AccountKey, amount int64, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     journalID(b.BatchID, len(b.Journals)),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount,
		JournalType:   jt,
	})
}

// GenerateDeposit journals the value locked by a new position.
// Moves value: external:deposits → system:locked
func (jg *JournalGenerator) GenerateDeposit(sequence int64, positionID uint64, value int64) (*Batch, error) {
	if value <= 0 {
		return nil, fmt.Errorf("deposit journal for position %d: non-positive value %d", positionID, value)
	}
	batch := newBatch(sequence, fmt.Sprintf("deposit:%d", positionID), 1)
	batch.addLeg(LockedAccount, DepositsAccount, value, JournalTypeDeposit)
	return batch, nil
}

// GenerateDistribution journals one yield epoch.
// Moves value: external:harvest → position:{id}:accrued_yield (per credit),
// external:harvest → system:dust (rounding residual)
func (jg *JournalGenerator) GenerateDistribution(
	sequence int64,
	epochID int64,
	credits []fpmath.ShareAllocation,
	dust int64,
) (*Batch, error) {
	batch := newBatch(sequence, fmt.Sprintf("epoch:%d", epochID), len(credits)+1)

	for _, c := range credits {
		if c.Amount == 0 {
			continue
		}
		if c.Amount < 0 {
			return nil, fmt.Errorf("epoch %d: negative credit %d for position %d", epochID, c.Amount, c.ID)
		}
		batch.addLeg(YieldAccount(c.ID), HarvestAccount, c.Amount, JournalTypeYieldAccrual)
	}
	if dust > 0 {
		batch.addLeg(DustAccount, HarvestAccount, dust, JournalTypeYieldDust)
	}
	if len(batch.Journals) == 0 {
		return nil, fmt.Errorf("epoch %d: nothing to journal", epochID)
	}
	return batch, nil
}

// ClaimLeg is one position's yield leaving the vault
type ClaimLeg struct {
	PositionID uint64
	Amount     int64
}

// GenerateClaims journals claimed yield for one or more positions.
// Pre-check: each yield account must cover its claim.
// Moves value: position:{id}:accrued_yield → external:payouts
func (jg *JournalGenerator) GenerateClaims(sequence int64, ref string, claims []ClaimLeg) (*Batch, error) {
	batch := newBatch(sequence, ref, len(claims))
	for _, c := range claims {
		if err := jg.balanceTracker.ValidateSufficient(YieldAccount(c.PositionID), c.Amount); err != nil {
			return nil, fmt.Errorf("claim pre-check failed: %w", err)
		}
		batch.addLeg(PayoutsAccount, YieldAccount(c.PositionID), c.Amount, JournalTypeYieldClaim)
	}
	return batch, nil
}

// GenerateWithdrawal journals principal and unclaimed yield paid on withdraw.
// Moves value: system:locked → external:payouts,
// position:{id}:accrued_yield → external:payouts
func (jg *JournalGenerator) GenerateWithdrawal(sequence int64, positionID uint64, principal, accrued int64) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficient(LockedAccount, principal); err != nil {
		return nil, fmt.Errorf("withdrawal pre-check failed: %w", err)
	}
	if err := jg.balanceTracker.ValidateSufficient(YieldAccount(positionID), accrued); err != nil {
		return nil, fmt.Errorf("withdrawal pre-check failed: %w", err)
	}

	batch := newBatch(sequence, fmt.Sprintf("withdraw:%d", positionID), 2)
	batch.addLeg(PayoutsAccount, LockedAccount, principal, JournalTypeWithdrawalPrincipal)
	if accrued > 0 {
		batch.addLeg(PayoutsAccount, YieldAccount(positionID), accrued, JournalTypeWithdrawalYield)
	}
	return batch, nil
}

// GenerateReserveSweep journals an emergency sweep of un-attributed value.
// Moves value: system:dust → external:reserve_sweeps
func (jg *JournalGenerator) GenerateReserveSweep(sequence int64, amount int64) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficient(DustAccount, amount); err != nil {
		return nil, fmt.Errorf("sweep pre-check failed: %w", err)
	}
	batch := newBatch(sequence, fmt.Sprintf("sweep:%d", sequence), 1)
	batch.addLeg(ReserveSweepsAccount, DustAccount, amount, JournalTypeReserveSweep)
	return batch, nil
}
