package server_test

import (
	"BondVault/internal/adapter/memory"
	"BondVault/internal/event"
	"BondVault/internal/observability"
	"BondVault/internal/projection"
	"BondVault/internal/query"
	"BondVault/internal/server"
	"BondVault/internal/state"
	"BondVault/internal/vault"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var (
	admin = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

type testServer struct {
	handler http.Handler
	srv     *server.Server
	mock    sqlmock.Sqlmock
	health  *observability.HealthChecker
}

func newTestServer(t *testing.T, withQuery bool) *testServer {
	t.Helper()
	set := memory.NewSet(map[string]int64{"USD": 1_000_000})
	set.Treasury.Fund(alice, "USD", 100_000_000)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsWith(reg)
	ctrl, err := vault.NewController(
		vault.Config{Admin: admin, Curve: state.DefaultCurveParams},
		set.Ports(), make(chan vault.Output, 64), nil, nil, metrics, zerolog.Nop(),
	)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	if _, err := ctrl.Deposit(context.Background(), vault.DepositRequest{Depositor: alice, Asset: "USD", Amount: 3_030_000}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	runner := vault.NewRunner(ctrl, 8, metrics)
	go runner.Run(ctx)

	claims := projection.NewClaimHistory(10)
	claims.Observe(&event.EventEnvelope{Sequence: 5}, &event.YieldClaimed{Position: 1, Claimant: alice, Amount: 42})

	ts := &testServer{health: observability.NewHealthChecker()}
	deps := &server.Deps{
		Runner:        runner,
		Claims:        claims,
		HealthChecker: ts.health,
		Metrics:       metrics,
		Gatherer:      reg,
	}
	if withQuery {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock new: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		deps.Query = query.NewQueryService(db)
		ts.mock = mock
	}

	ts.srv = server.NewServer("127.0.0.1:0", "127.0.0.1:0", deps, zerolog.Nop())
	h, err := ts.srv.Handler()
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	ts.handler = h
	return ts
}

func (ts *testServer) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
	}
	return rec.Code, body
}

// ============================================================================
// Test: Live reads
// ============================================================================

func TestServer_Vault(t *testing.T) {
	ts := newTestServer(t, false)

	code, body := ts.get(t, "/v1/vault")
	if code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", code)
	}
	if body["total_locked"] != float64(3_030_000) {
		t.Errorf("total_locked: got %v, want 3030000", body["total_locked"])
	}
	if body["next_curve_index"] != float64(2) {
		t.Errorf("next_curve_index: got %v, want 2", body["next_curve_index"])
	}
}

func TestServer_Position(t *testing.T) {
	ts := newTestServer(t, false)

	code, body := ts.get(t, "/v1/positions/1")
	if code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", code)
	}
	if body["is_meta"] != true || body["curve_count"] != float64(2) {
		t.Errorf("position: got %v", body)
	}
}

func TestServer_PositionErrors(t *testing.T) {
	ts := newTestServer(t, false)
	tests := []struct {
		path string
		want int
	}{
		{"/v1/positions/99", http.StatusNotFound},
		{"/v1/positions/abc", http.StatusBadRequest},
		{"/v1/positions/0", http.StatusBadRequest},
		{"/v1/owners/not-an-address/positions", http.StatusBadRequest},
		{"/v1/quote/-5", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, body := ts.get(t, tt.path)
			if code != tt.want {
				t.Errorf("status: got %d, want %d (%v)", code, tt.want, body)
			}
			if body["error"] == nil {
				t.Error("missing error body")
			}
		})
	}
}

func TestServer_OwnerPositions(t *testing.T) {
	ts := newTestServer(t, false)

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/owners/"+alice.Hex()+"/positions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var views []vault.PositionView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(views) != 1 || views[0].ID != 1 || views[0].Owner != alice {
		t.Errorf("views: got %+v", views)
	}
}

func TestServer_Quote(t *testing.T) {
	ts := newTestServer(t, false)

	code, body := ts.get(t, "/v1/quote/3030000")
	if code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", code)
	}
	// Next tile is index 2 at 3.03
	if body["count"] != float64(1) || body["remainder"] != float64(0) {
		t.Errorf("quote: got %v", body)
	}
}

// ============================================================================
// Test: Projection reads
// ============================================================================

func TestServer_Claims(t *testing.T) {
	ts := newTestServer(t, false)

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/positions/1/claims", nil))
	var entries []projection.ClaimEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(entries) != 1 || entries[0].Amount != 42 {
		t.Errorf("claims: got %+v", entries)
	}
}

func TestServer_ProjectionRoutesWithoutQuery(t *testing.T) {
	ts := newTestServer(t, false)
	for _, path := range []string{"/v1/epochs", "/v1/projection/positions/1", "/v1/admin/integrity", "/v1/accounts?path=system:locked"} {
		if code, _ := ts.get(t, path); code != http.StatusServiceUnavailable {
			t.Errorf("%s: got %d, want 503", path, code)
		}
	}
}

func TestServer_AccountBalance(t *testing.T) {
	ts := newTestServer(t, true)
	ts.mock.ExpectQuery("FROM vault.journal").
		WithArgs("system:locked").
		WillReturnRows(sqlmock.NewRows([]string{"balance", "max"}).AddRow(int64(3_030_000), int64(2)))

	code, body := ts.get(t, "/v1/accounts?path=system:locked")
	if code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%v)", code, body)
	}
	if body["balance"] != float64(3_030_000) {
		t.Errorf("balance: got %v", body["balance"])
	}

	if code, _ := ts.get(t, "/v1/accounts?path=user:1"); code != http.StatusBadRequest {
		t.Errorf("bad path: got %d, want 400", code)
	}
}

// ============================================================================
// Test: Probes and metrics
// ============================================================================

func TestServer_Readiness(t *testing.T) {
	ts := newTestServer(t, false)

	if code, _ := ts.get(t, "/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("readyz before ready: got %d, want 503", code)
	}
	ts.srv.SetServing(true)
	if code, _ := ts.get(t, "/readyz"); code != http.StatusOK {
		t.Errorf("readyz after ready: got %d, want 200", code)
	}
	if code, _ := ts.get(t, "/healthz"); code != http.StatusOK {
		t.Errorf("healthz: got %d, want 200", code)
	}

	_, status := ts.get(t, "/v1/admin/status")
	if status["ready"] != true {
		t.Errorf("status ready: got %v", status["ready"])
	}
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t, false)
	ts.get(t, "/v1/vault")

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `vault_query_requests_total{endpoint="vault",status="200"} 1`) {
		t.Error("query counter not exported")
	}
}
