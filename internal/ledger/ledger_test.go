package ledger_test

import (
	"BondVault/internal/ledger"
	fpmath "BondVault/internal/math"
	"testing"

	"github.com/google/uuid"
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_PositionPath(t *testing.T) {
	path := ledger.YieldAccount(42).AccountPath()
	if path != "position:42:accrued_yield" {
		t.Errorf("got %q, want %q", path, "position:42:accrued_yield")
	}
}

func TestAccountKey_SystemPath(t *testing.T) {
	if got := ledger.LockedAccount.AccountPath(); got != "system:locked" {
		t.Errorf("got %q, want %q", got, "system:locked")
	}
	if got := ledger.DustAccount.AccountPath(); got != "system:dust" {
		t.Errorf("got %q, want %q", got, "system:dust")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	if got := ledger.PayoutsAccount.AccountPath(); got != "external:payouts" {
		t.Errorf("got %q, want %q", got, "external:payouts")
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	keys := []ledger.AccountKey{
		ledger.YieldAccount(7),
		ledger.LockedAccount,
		ledger.DustAccount,
		ledger.DepositsAccount,
		ledger.ReserveSweepsAccount,
	}
	for _, k := range keys {
		got, err := ledger.ParseAccountPath(k.AccountPath())
		if err != nil {
			t.Fatalf("parse %q: %v", k.AccountPath(), err)
		}
		if got != k {
			t.Errorf("got %+v, want %+v", got, k)
		}
	}

	for _, bad := range []string{"", "system:nope", "position:x:accrued_yield", "ledger:locked"} {
		if _, err := ledger.ParseAccountPath(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	if bt.Locked() != 0 || bt.PositionYield(1) != 0 {
		t.Error("initial balances should be 0")
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		DebitAccount:  ledger.LockedAccount,
		CreditAccount: ledger.DepositsAccount,
		Amount:        1_000_000,
	})

	if bt.Locked() != 1_000_000 {
		t.Errorf("locked: got %d, want 1000000", bt.Locked())
	}
	if got := bt.GetBalance(ledger.DepositsAccount); got != -1_000_000 {
		t.Errorf("deposits: got %d, want -1000000", got)
	}
	if bt.ComputeGlobalBalance() != 0 {
		t.Errorf("global balance: got %d, want 0", bt.ComputeGlobalBalance())
	}
}

func TestBalanceTracker_RejectsInvalidBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	id := uuid.New()
	batch := &ledger.Batch{
		BatchID: id,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       id,
			DebitAccount:  ledger.LockedAccount,
			CreditAccount: ledger.LockedAccount,
			Amount:        1,
		}},
	}
	if err := bt.ApplyBatch(batch); err == nil {
		t.Error("expected self-transfer to be rejected")
	}
	if err := bt.ApplyBatch(&ledger.Batch{BatchID: id}); err == nil {
		t.Error("expected empty batch to be rejected")
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestJournalGenerator_FullLifecycle(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(bt)
	v := ledger.NewInvariantValidator(bt)

	apply := func(b *ledger.Batch, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if err := bt.ApplyBatch(b); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	apply(gen.GenerateDeposit(1, 1, 2_000_000))
	apply(gen.GenerateDeposit(2, 2, 1_000_000))
	apply(gen.GenerateDistribution(3, 1, []fpmath.ShareAllocation{
		{ID: 1, Amount: 6},
		{ID: 2, Amount: 3},
	}, 1))

	if err := v.ValidateLocked(3_000_000); err != nil {
		t.Error(err)
	}
	if err := v.ValidatePositionYield(1, 6); err != nil {
		t.Error(err)
	}
	if err := v.ValidateDust(1); err != nil {
		t.Error(err)
	}

	apply(gen.GenerateClaims(4, "claim:1", []ledger.ClaimLeg{{PositionID: 1, Amount: 6}}))
	apply(gen.GenerateWithdrawal(5, 2, 1_000_000, 3))
	apply(gen.GenerateReserveSweep(6, 1))

	if err := v.ValidateLocked(2_000_000); err != nil {
		t.Error(err)
	}
	if err := v.ValidatePositionYield(2, 0); err != nil {
		t.Error(err)
	}
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Error(err)
	}
	if err := v.ValidateInternalNonNegative(); err != nil {
		t.Error(err)
	}
	if got := bt.GetBalance(ledger.PayoutsAccount); got != 1_000_009 {
		t.Errorf("payouts: got %d, want 1000009", got)
	}
}

func TestJournalGenerator_ClaimPreCheck(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(bt)

	if _, err := gen.GenerateClaims(1, "claim:7", []ledger.ClaimLeg{{PositionID: 7, Amount: 1}}); err == nil {
		t.Error("expected claim beyond yield balance to fail")
	}
}

func TestJournalGenerator_DeterministicIDs(t *testing.T) {
	gen := ledger.NewJournalGenerator(ledger.NewBalanceTracker())

	a, _ := gen.GenerateDeposit(10, 3, 500)
	b, _ := gen.GenerateDeposit(10, 3, 500)
	c, _ := gen.GenerateDeposit(11, 3, 500)

	if a.BatchID != b.BatchID || a.Journals[0].JournalID != b.Journals[0].JournalID {
		t.Error("same sequence and ref should give same ids")
	}
	if a.BatchID == c.BatchID {
		t.Error("different sequence should give different batch id")
	}
}

func TestJournalGenerator_DistributionSkipsZeroCredits(t *testing.T) {
	gen := ledger.NewJournalGenerator(ledger.NewBalanceTracker())

	batch, err := gen.GenerateDistribution(1, 1, []fpmath.ShareAllocation{
		{ID: 1, Amount: 0},
		{ID: 2, Amount: 5},
	}, 0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(batch.Journals) != 1 {
		t.Errorf("got %d legs, want 1", len(batch.Journals))
	}
	if batch.Total() != 5 {
		t.Errorf("total: got %d, want 5", batch.Total())
	}
}
