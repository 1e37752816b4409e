package persistence_test

import (
	"BondVault/internal/persistence"
	"BondVault/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Test: Postgres round trip (INTEGRATION_TEST=1)
// ============================================================================

func TestIntegration_FlushSnapshotRecover(t *testing.T) {
	testutil.RequireIntegration(t)
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	ctrl, outputs := newVault(t)
	w := persistence.NewPersistenceWorker(db, nil, nil, 100, time.Second, nil, zerolog.Nop())
	if err := w.Flush(ctx, outputs); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	sm := persistence.NewSnapshotManager(db)
	latest, err := sm.GetLatestSequence(ctx)
	if err != nil {
		t.Fatalf("GetLatestSequence: %v", err)
	}
	if latest != int64(len(outputs)) {
		t.Fatalf("latest sequence: got %d, want %d", latest, len(outputs))
	}

	// Snapshot the first part, leaving the last event as a replay tail
	partial := freshController(t, nil, nil)
	for _, out := range outputs[:len(outputs)-1] {
		if err := partial.Replay(out.Envelope); err != nil {
			t.Fatalf("replay: %v", err)
		}
	}
	data := persistence.FromVaultSnapshot(partial.CreateSnapshotState(), time.Now().UTC())
	if _, err := sm.SaveSnapshot(ctx, data); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	ok, err := sm.VerifySnapshot(ctx, data.Sequence, data.StateHash)
	if err != nil || !ok {
		t.Fatalf("VerifySnapshot: got (%v, %v), want (true, nil)", ok, err)
	}

	fresh := freshController(t, nil, nil)
	res, err := persistence.Recover(ctx, sm, fresh, 100, zerolog.Nop())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if res.SnapshotSequence != data.Sequence || res.Replayed != 1 {
		t.Errorf("result: got %+v", res)
	}
	if fresh.StateHash() != ctrl.StateHash() {
		t.Errorf("state hash: got %x, want %x", fresh.StateHash(), ctrl.StateHash())
	}
	if res.WarmedKeys == 0 {
		t.Error("expected recent operation keys to warm the LRU")
	}
}
