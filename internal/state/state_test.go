package state_test

import (
	"BondVault/internal/errs"
	"BondVault/internal/state"
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// stubRegistry mints sequential ids and answers OwnerOf from a map.
type stubRegistry struct {
	next    state.PositionID
	owners  map[state.PositionID]common.Address
	failErr error
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{next: 1, owners: make(map[state.PositionID]common.Address)}
}

func (r *stubRegistry) Mint(_ context.Context, to common.Address) (state.PositionID, error) {
	if r.failErr != nil {
		return 0, r.failErr
	}
	id := r.next
	r.next++
	r.owners[id] = to
	return id, nil
}

func (r *stubRegistry) OwnerOf(_ context.Context, id state.PositionID) (common.Address, error) {
	owner, ok := r.owners[id]
	if !ok {
		return common.Address{}, errors.New("nonexistent token")
	}
	return owner, nil
}

func mustCreate(t *testing.T, pl *state.PositionLedger, owner common.Address, count, value int64) *state.Position {
	t.Helper()
	pos, err := pl.CreatePosition(context.Background(), owner, pl.NextCurveIndex(), count, value)
	if err != nil {
		t.Fatalf("create position: %v", err)
	}
	return pos
}

// ============================================================================
// Test: PositionLedger
// ============================================================================

func TestPositionLedger_CreateAdvancesCounter(t *testing.T) {
	pl := state.NewPositionLedger(newStubRegistry())

	p1 := mustCreate(t, pl, alice, 2, 3_030_000)
	p2 := mustCreate(t, pl, bob, 1, 3_030_000)

	if !p1.IsMeta || p2.IsMeta {
		t.Errorf("meta flags: got %v/%v, want true/false", p1.IsMeta, p2.IsMeta)
	}
	if p2.CurveStart != 2 {
		t.Errorf("second curve start: got %d, want 2", p2.CurveStart)
	}
	if pl.NextCurveIndex() != 3 {
		t.Errorf("next curve index: got %d, want 3", pl.NextCurveIndex())
	}
	if pl.TotalLocked() != 6_060_000 {
		t.Errorf("total locked: got %d, want 6060000", pl.TotalLocked())
	}
	if err := pl.ValidateInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestPositionLedger_RejectsNonContiguousRange(t *testing.T) {
	pl := state.NewPositionLedger(newStubRegistry())
	mustCreate(t, pl, alice, 2, 100)

	_, err := pl.CreatePosition(context.Background(), alice, 5, 1, 100)
	if !errors.Is(err, errs.ErrCurveNotContiguous) {
		t.Fatalf("got %v, want ErrCurveNotContiguous", err)
	}
	if pl.ActiveCount() != 1 {
		t.Errorf("active count: got %d, want 1", pl.ActiveCount())
	}
}

func TestPositionLedger_MintFailureLeavesNoState(t *testing.T) {
	reg := newStubRegistry()
	reg.failErr = errors.New("registry down")
	pl := state.NewPositionLedger(reg)

	_, err := pl.CreatePosition(context.Background(), alice, 0, 1, 100)
	if !errors.Is(err, errs.ErrExternalCall) {
		t.Fatalf("got %v, want ErrExternalCall", err)
	}
	if pl.NextCurveIndex() != 0 || pl.TotalLocked() != 0 {
		t.Errorf("state changed after failed mint")
	}
}

func TestPositionLedger_RemoveRetiresRange(t *testing.T) {
	pl := state.NewPositionLedger(newStubRegistry())
	p1 := mustCreate(t, pl, alice, 2, 300)
	mustCreate(t, pl, alice, 1, 300)

	prev, err := pl.RemovePosition(p1.ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if prev.DepositValue != 300 {
		t.Errorf("removed value: got %d, want 300", prev.DepositValue)
	}
	if pl.TotalLocked() != 300 {
		t.Errorf("total locked: got %d, want 300", pl.TotalLocked())
	}
	if pl.NextCurveIndex() != 3 {
		t.Errorf("counter must never decrement: got %d", pl.NextCurveIndex())
	}
	if got := pl.IndexedPositions(alice); len(got) != 1 {
		t.Errorf("owner index: got %v, want one id", got)
	}
	if err := pl.ValidateInvariants(); err != nil {
		t.Errorf("invariants after remove: %v", err)
	}

	isMeta, count, start, err := pl.GetMetaInfo(p1.ID)
	if err != nil || !isMeta || count != 2 || start != 0 {
		t.Errorf("meta info of burned: got (%v,%d,%d,%v)", isMeta, count, start, err)
	}
}

func TestPositionLedger_DoubleRemove(t *testing.T) {
	pl := state.NewPositionLedger(newStubRegistry())
	p := mustCreate(t, pl, alice, 1, 100)

	if _, err := pl.RemovePosition(p.ID); err != nil {
		t.Fatalf("first remove: %v", err)
	}
	_, err := pl.RemovePosition(p.ID)
	if !errors.Is(err, errs.ErrAlreadyWithdrawn) {
		t.Errorf("got %v, want ErrAlreadyWithdrawn", err)
	}
}

func TestPositionLedger_RestoreAfterRemove(t *testing.T) {
	pl := state.NewPositionLedger(newStubRegistry())
	p := mustCreate(t, pl, alice, 3, 700)

	prev, _ := pl.RemovePosition(p.ID)
	pl.RestorePosition(prev, alice)

	restored, ok := pl.GetPosition(p.ID)
	if !ok || restored.DepositValue != 700 {
		t.Fatalf("restore: got %+v", restored)
	}
	if pl.IsBurned(p.ID) {
		t.Error("restored position still marked burned")
	}
	if err := pl.ValidateInvariants(); err != nil {
		t.Errorf("invariants after restore: %v", err)
	}
}

func TestPositionLedger_DiscardRewindsCounter(t *testing.T) {
	pl := state.NewPositionLedger(newStubRegistry())
	mustCreate(t, pl, alice, 1, 100)
	p := mustCreate(t, pl, bob, 4, 900)

	pl.DiscardPosition(p.ID)

	if pl.NextCurveIndex() != 1 {
		t.Errorf("counter: got %d, want 1", pl.NextCurveIndex())
	}
	if pl.TotalLocked() != 100 {
		t.Errorf("total locked: got %d, want 100", pl.TotalLocked())
	}
	if err := pl.ValidateInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestPositionLedger_Reindex(t *testing.T) {
	pl := state.NewPositionLedger(newStubRegistry())
	p := mustCreate(t, pl, alice, 1, 100)

	pl.Reindex(p.ID, bob)

	if got := pl.IndexedPositions(alice); len(got) != 0 {
		t.Errorf("alice index: got %v, want empty", got)
	}
	if got := pl.IndexedPositions(bob); len(got) != 1 || got[0] != p.ID {
		t.Errorf("bob index: got %v, want [%d]", got, p.ID)
	}
}

func TestPositionLedger_ActivePositionsSorted(t *testing.T) {
	pl := state.NewPositionLedger(newStubRegistry())
	for i := 0; i < 20; i++ {
		mustCreate(t, pl, alice, 1, 10)
	}
	active := pl.ActivePositions()
	for i := 1; i < len(active); i++ {
		if active[i-1].ID >= active[i].ID {
			t.Fatalf("not sorted at %d", i)
		}
	}
}

// ============================================================================
// Test: YieldAccountant
// ============================================================================

func TestYieldAccountant_TwoToOneSplit(t *testing.T) {
	reg := newStubRegistry()
	pl := state.NewPositionLedger(reg)
	ya := state.NewYieldAccountant(pl, reg)

	p1 := mustCreate(t, pl, alice, 1, 2_000_000)
	p2 := mustCreate(t, pl, bob, 1, 1_000_000)

	epoch, err := ya.Distribute(300_000)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if p1.AccruedYield != 200_000 || p2.AccruedYield != 100_000 {
		t.Errorf("got %d/%d, want 200000/100000", p1.AccruedYield, p2.AccruedYield)
	}
	if epoch.Dust != 0 || epoch.EpochID != 1 {
		t.Errorf("epoch: got %+v", epoch)
	}
}

func TestYieldAccountant_DustPool(t *testing.T) {
	reg := newStubRegistry()
	pl := state.NewPositionLedger(reg)
	ya := state.NewYieldAccountant(pl, reg)

	for i := 0; i < 3; i++ {
		mustCreate(t, pl, alice, 1, 1)
	}

	epoch, err := ya.Distribute(10)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if epoch.Dust != 1 {
		t.Errorf("dust: got %d, want 1", epoch.Dust)
	}
	if epoch.Distributed() != 9 || ya.TotalAccrued() != 9 {
		t.Errorf("distributed: got %d / %d, want 9", epoch.Distributed(), ya.TotalAccrued())
	}
	if ya.DustPool() != 1 {
		t.Errorf("dust pool: got %d, want 1", ya.DustPool())
	}

	// dust is never folded into a later epoch
	epoch2, _ := ya.Distribute(10)
	if epoch2.Distributed() != 9 {
		t.Errorf("second epoch distributed: got %d, want 9", epoch2.Distributed())
	}
	if ya.DustPool() != 2 {
		t.Errorf("dust pool: got %d, want 2", ya.DustPool())
	}
	if err := ya.ValidateInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestYieldAccountant_NothingLocked(t *testing.T) {
	reg := newStubRegistry()
	ya := state.NewYieldAccountant(state.NewPositionLedger(reg), reg)

	_, err := ya.Distribute(100)
	if !errors.Is(err, errs.ErrNothingLocked) {
		t.Errorf("got %v, want ErrNothingLocked", err)
	}
}

func TestYieldAccountant_InvalidAmount(t *testing.T) {
	reg := newStubRegistry()
	pl := state.NewPositionLedger(reg)
	ya := state.NewYieldAccountant(pl, reg)
	mustCreate(t, pl, alice, 1, 100)

	for _, amount := range []int64{0, -5} {
		if _, err := ya.Distribute(amount); !errors.Is(err, errs.ErrInvalidAmount) {
			t.Errorf("amount %d: got %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestYieldAccountant_ClaimTwice(t *testing.T) {
	reg := newStubRegistry()
	pl := state.NewPositionLedger(reg)
	ya := state.NewYieldAccountant(pl, reg)
	p := mustCreate(t, pl, alice, 1, 100)
	ya.Distribute(50)

	res, err := ya.Claim(context.Background(), p.ID, alice)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res.Amount != 50 || p.AccruedYield != 0 {
		t.Errorf("claim: got amount %d accrued %d", res.Amount, p.AccruedYield)
	}

	_, err = ya.Claim(context.Background(), p.ID, alice)
	if !errors.Is(err, errs.ErrNoYield) {
		t.Errorf("second claim: got %v, want ErrNoYield", err)
	}
}

func TestYieldAccountant_ClaimNotOwner(t *testing.T) {
	reg := newStubRegistry()
	pl := state.NewPositionLedger(reg)
	ya := state.NewYieldAccountant(pl, reg)
	p := mustCreate(t, pl, alice, 1, 100)
	ya.Distribute(50)

	_, err := ya.Claim(context.Background(), p.ID, bob)
	if !errors.Is(err, errs.ErrNotOwner) {
		t.Fatalf("got %v, want ErrNotOwner", err)
	}
	if errs.KindOf(err) != errs.KindAuthorization {
		t.Errorf("kind: got %v, want authorization", errs.KindOf(err))
	}
	if p.AccruedYield != 50 {
		t.Errorf("accrued changed: got %d, want 50", p.AccruedYield)
	}
}

func TestYieldAccountant_ClaimFollowsTransfer(t *testing.T) {
	reg := newStubRegistry()
	pl := state.NewPositionLedger(reg)
	ya := state.NewYieldAccountant(pl, reg)
	p := mustCreate(t, pl, alice, 1, 100)
	ya.Distribute(50)

	reg.owners[p.ID] = bob

	if _, err := ya.Claim(context.Background(), p.ID, bob); err != nil {
		t.Fatalf("claim by new owner: %v", err)
	}
	if got := pl.IndexedPositions(bob); len(got) != 1 {
		t.Errorf("index not resynced: %v", got)
	}
}

func TestYieldAccountant_ClaimBatchAllOrNothing(t *testing.T) {
	reg := newStubRegistry()
	pl := state.NewPositionLedger(reg)
	ya := state.NewYieldAccountant(pl, reg)
	p1 := mustCreate(t, pl, alice, 1, 100)
	p2 := mustCreate(t, pl, alice, 1, 100)
	p3 := mustCreate(t, pl, bob, 1, 100)
	ya.Distribute(300)

	tests := []struct {
		name string
		ids  []state.PositionID
		want error
	}{
		{"foreign id", []state.PositionID{p1.ID, p3.ID}, errs.ErrNotOwner},
		{"duplicate id", []state.PositionID{p1.ID, p2.ID, p1.ID}, errs.ErrDuplicatePosition},
		{"unknown id", []state.PositionID{p1.ID, 999}, errs.ErrUnknownPosition},
		{"empty", nil, errs.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ya.ClaimBatch(context.Background(), tt.ids, alice)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if p1.AccruedYield != 100 || p2.AccruedYield != 100 {
				t.Errorf("partial claim applied: %d/%d", p1.AccruedYield, p2.AccruedYield)
			}
		})
	}

	results, err := ya.ClaimBatch(context.Background(), []state.PositionID{p2.ID, p1.ID}, alice)
	if err != nil {
		t.Fatalf("valid batch: %v", err)
	}
	if len(results) != 2 || results[0].Amount+results[1].Amount != 200 {
		t.Errorf("results: got %+v", results)
	}
}

func TestYieldAccountant_RejectedBatchLeavesIndex(t *testing.T) {
	reg := newStubRegistry()
	pl := state.NewPositionLedger(reg)
	ya := state.NewYieldAccountant(pl, reg)
	p1 := mustCreate(t, pl, alice, 1, 100)
	p2 := mustCreate(t, pl, alice, 1, 100)
	ya.Distribute(200)

	// p1 moves to bob off-ledger; p2 stays with alice and fails the batch
	reg.owners[p1.ID] = bob
	if _, err := ya.ClaimBatch(context.Background(), []state.PositionID{p1.ID, p2.ID}, bob); !errors.Is(err, errs.ErrNotOwner) {
		t.Fatalf("got %v, want ErrNotOwner", err)
	}
	if owner, _ := pl.IndexedOwner(p1.ID); owner != alice {
		t.Errorf("index changed by rejected batch: got %s, want %s", owner.Hex(), alice.Hex())
	}
	if got := pl.IndexedPositions(bob); len(got) != 0 {
		t.Errorf("bob indexed: got %v, want none", got)
	}

	if _, err := ya.ClaimBatch(context.Background(), []state.PositionID{p1.ID}, bob); err != nil {
		t.Fatalf("valid batch: %v", err)
	}
	if owner, _ := pl.IndexedOwner(p1.ID); owner != bob {
		t.Errorf("index after claim: got %s, want %s", owner.Hex(), bob.Hex())
	}
}

func TestPosition_BurnedIsTerminal(t *testing.T) {
	tests := []struct {
		from, to state.PositionState
		want     bool
	}{
		{state.PositionStateActive, state.PositionStateBurned, true},
		{state.PositionStateActive, state.PositionStateActive, true},
		{state.PositionStateBurned, state.PositionStateActive, false},
		{state.PositionStateBurned, state.PositionStateBurned, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestYieldAccountant_RevertEpoch(t *testing.T) {
	reg := newStubRegistry()
	pl := state.NewPositionLedger(reg)
	ya := state.NewYieldAccountant(pl, reg)
	mustCreate(t, pl, alice, 1, 1)
	mustCreate(t, pl, alice, 1, 1)
	mustCreate(t, pl, alice, 1, 1)

	epoch, _ := ya.Distribute(10)
	ya.RevertEpoch(epoch)

	if ya.TotalAccrued() != 0 || ya.DustPool() != 0 || ya.NextEpochID() != 1 {
		t.Errorf("revert: accrued=%d dust=%d next=%d", ya.TotalAccrued(), ya.DustPool(), ya.NextEpochID())
	}
}

// ============================================================================
// Test: CurveParamsManager
// ============================================================================

func TestCurveParams_UpdateRateBounds(t *testing.T) {
	cpm, err := state.NewCurveParamsManager(state.DefaultCurveParams)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := cpm.UpdateRate(state.DefaultCurveParams.MaxRate+1, 1); !errors.Is(err, errs.ErrInvalidRate) {
		t.Errorf("above max: got %v, want ErrInvalidRate", err)
	}
	if err := cpm.UpdateRate(-1, 1); !errors.Is(err, errs.ErrInvalidRate) {
		t.Errorf("below min: got %v, want ErrInvalidRate", err)
	}
	if cpm.Params().FeeRate != state.DefaultCurveParams.FeeRate {
		t.Errorf("rejected update changed rate to %d", cpm.Params().FeeRate)
	}

	if err := cpm.UpdateRate(20_000, 7); err != nil {
		t.Fatalf("valid update: %v", err)
	}
	if got := cpm.Curve().Price(0); got != 1_020_000 {
		t.Errorf("price(0) after update: got %d, want 1020000", got)
	}
}
