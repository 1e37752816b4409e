package harvest_test

import (
	"BondVault/internal/adapter/memory"
	"BondVault/internal/harvest"
	"BondVault/internal/observability"
	"BondVault/internal/state"
	"BondVault/internal/vault"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var (
	admin = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

type harness struct {
	set     *memory.Set
	ctrl    *vault.Controller
	runner  *vault.Runner
	persist chan vault.Output
}

func newHarness(t *testing.T, deposit bool) *harness {
	t.Helper()
	set := memory.NewSet(map[string]int64{"USD": 1_000_000})
	set.Treasury.Fund(alice, "USD", 100_000_000)

	persist := make(chan vault.Output, 64)
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	ctrl, err := vault.NewController(
		vault.Config{Admin: admin, Curve: state.DefaultCurveParams},
		set.Ports(), persist, nil, nil, metrics, zerolog.Nop(),
	)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	if deposit {
		if _, err := ctrl.Deposit(context.Background(), vault.DepositRequest{Depositor: alice, Asset: "USD", Amount: 1_010_000}); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	runner := vault.NewRunner(ctrl, 8, metrics)
	go runner.Run(ctx)
	return &harness{set: set, ctrl: ctrl, runner: runner, persist: persist}
}

func (h *harness) scheduler(t *testing.T, src harvest.Source) *harvest.Scheduler {
	t.Helper()
	s, err := harvest.NewScheduler(h.runner, src, harvest.Config{}, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s
}

// ============================================================================
// Test: HarvestOnce
// ============================================================================

func TestHarvestOnce_Distributes(t *testing.T) {
	h := newHarness(t, true)
	s := h.scheduler(t, harvest.FixedSource(500_000))

	at := time.Date(2026, 5, 1, 12, 0, 0, 700, time.UTC)
	epoch, err := s.HarvestOnce(context.Background(), at)
	if err != nil {
		t.Fatalf("HarvestOnce: %v", err)
	}
	if epoch == nil || epoch.Amount != 500_000 || epoch.ActiveCount != 1 {
		t.Fatalf("epoch: got %+v", epoch)
	}

	view, err := vault.Call(context.Background(), h.runner, func(ctx context.Context, c *vault.Controller) (*vault.PositionView, error) {
		return c.Position(ctx, 1)
	})
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if view.AccruedYield != 500_000 {
		t.Errorf("accrued: got %d, want 500000", view.AccruedYield)
	}
}

func TestHarvestOnce_SameSecondDedups(t *testing.T) {
	h := newHarness(t, true)
	s := h.scheduler(t, harvest.FixedSource(100_000))

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	if _, err := s.HarvestOnce(context.Background(), at); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, err := s.HarvestOnce(context.Background(), at.Add(300*time.Millisecond))
	if err == nil {
		t.Fatal("expected duplicate rejection for the same second")
	}
	if _, err := s.HarvestOnce(context.Background(), at.Add(time.Second)); err != nil {
		t.Errorf("next second: %v", err)
	}
}

func TestHarvestOnce_NothingLocked(t *testing.T) {
	h := newHarness(t, false)
	s := h.scheduler(t, harvest.FixedSource(100_000))

	epoch, err := s.HarvestOnce(context.Background(), time.Now())
	if err != nil || epoch != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", epoch, err)
	}
}

func TestHarvestOnce_CarriesUndistributed(t *testing.T) {
	h := newHarness(t, false)
	s := h.scheduler(t, harvest.FixedSource(100_000))
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	if epoch, err := s.HarvestOnce(ctx, at); err != nil || epoch != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", epoch, err)
	}
	if got := s.Pending(); got != 100_000 {
		t.Fatalf("pending: got %d, want 100000", got)
	}

	err := h.runner.Do(ctx, func(ctx context.Context, c *vault.Controller) error {
		_, err := c.Deposit(ctx, vault.DepositRequest{Depositor: alice, Asset: "USD", Amount: 1_010_000})
		return err
	})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}

	epoch, err := s.HarvestOnce(ctx, at.Add(time.Minute))
	if err != nil {
		t.Fatalf("HarvestOnce: %v", err)
	}
	if epoch == nil || epoch.Amount != 200_000 {
		t.Fatalf("epoch: got %+v, want amount 200000", epoch)
	}
	if got := s.Pending(); got != 0 {
		t.Errorf("pending after distribution: got %d, want 0", got)
	}
}

func TestHarvestOnce_InDoubtSettledOnce(t *testing.T) {
	h := newHarness(t, true)
	s := h.scheduler(t, harvest.FixedSource(100_000))
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	// The request may or may not reach the core before the caller gives up
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.HarvestOnce(cancelled, at)
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want nil or context.Canceled", err)
	}

	if _, err := s.HarvestOnce(context.Background(), at.Add(time.Minute)); err != nil {
		t.Fatalf("HarvestOnce: %v", err)
	}
	if got := s.Pending(); got != 0 {
		t.Errorf("pending: got %d, want 0", got)
	}

	view, err := vault.Call(context.Background(), h.runner, func(ctx context.Context, c *vault.Controller) (*vault.PositionView, error) {
		return c.Position(ctx, 1)
	})
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if view.AccruedYield != 200_000 {
		t.Errorf("accrued: got %d, want 200000", view.AccruedYield)
	}
}

func TestHarvestOnce_EmptyAndSourceError(t *testing.T) {
	h := newHarness(t, true)

	empty := h.scheduler(t, harvest.FixedSource(0))
	if epoch, err := empty.HarvestOnce(context.Background(), time.Now()); err != nil || epoch != nil {
		t.Errorf("empty: got (%v, %v)", epoch, err)
	}

	boom := errors.New("strategy unreachable")
	failing := h.scheduler(t, harvest.SourceFunc(func(context.Context) (int64, error) { return 0, boom }))
	if _, err := failing.HarvestOnce(context.Background(), time.Now()); !errors.Is(err, boom) {
		t.Errorf("source error: got %v, want %v", err, boom)
	}
}

// ============================================================================
// Test: ResyncOnce
// ============================================================================

func TestResyncOnce_PicksUpTransfers(t *testing.T) {
	h := newHarness(t, true)
	s := h.scheduler(t, nil)

	if err := h.set.Registry.Transfer(context.Background(), alice, bob, 1); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	moved, err := s.ResyncOnce(context.Background())
	if err != nil {
		t.Fatalf("ResyncOnce: %v", err)
	}
	if moved != 1 {
		t.Errorf("moved: got %d, want 1", moved)
	}
	if moved, _ := s.ResyncOnce(context.Background()); moved != 0 {
		t.Errorf("second resync moved: got %d, want 0", moved)
	}
}

// ============================================================================
// Test: Scheduling
// ============================================================================

func TestNewScheduler(t *testing.T) {
	h := newHarness(t, false)
	tests := []struct {
		name    string
		src     harvest.Source
		cfg     harvest.Config
		wantErr bool
		jobs    int
	}{
		{"both", harvest.FixedSource(1), harvest.Config{Schedule: "@every 1h", ResyncSchedule: "*/10 * * * *"}, false, 2},
		{"resync only", nil, harvest.Config{ResyncSchedule: "@hourly"}, false, 1},
		{"none", nil, harvest.Config{}, false, 0},
		{"bad expression", harvest.FixedSource(1), harvest.Config{Schedule: "every hour"}, true, 0},
		{"schedule without source", nil, harvest.Config{Schedule: "@hourly"}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := harvest.NewScheduler(h.runner, tt.src, tt.cfg, nil, nil, zerolog.Nop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err: got %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && s.Jobs() != tt.jobs {
				t.Errorf("jobs: got %d, want %d", s.Jobs(), tt.jobs)
			}
		})
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, false)
	s, err := harvest.NewScheduler(h.runner, harvest.FixedSource(1), harvest.Config{Schedule: "@hourly"}, func() bool { return false }, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
