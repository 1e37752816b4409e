package server

import (
	"BondVault/internal/errs"
	"BondVault/internal/ledger"
	"BondVault/internal/query"
	"BondVault/internal/state"
	"BondVault/internal/vault"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

const defaultListLimit = 50

var errUnavailable = errors.New("endpoint unavailable in this mode")

type route struct {
	pattern string
	name    string
	fn      func(r *http.Request, params map[string]string) (any, error)
}

func (s *Server) registerRoutes(mux *runtime.ServeMux) error {
	routes := []route{
		// Live reads through the core
		{"/v1/vault", "vault", s.getVault},
		{"/v1/quote/{budget}", "quote", s.getQuote},
		{"/v1/positions/{id}", "position", s.getPosition},
		{"/v1/owners/{address}/positions", "owner_positions", s.getOwnerPositions},

		// Projection reads
		{"/v1/positions/{id}/claims", "position_claims", s.getPositionClaims},
		{"/v1/projection/positions/{id}", "projected_position", s.getProjectedPosition},
		{"/v1/depositors/{address}/positions", "depositor_positions", s.getDepositorPositions},
		{"/v1/epochs", "epochs", s.getEpochs},
		{"/v1/accounts", "account", s.getAccount},
		{"/v1/journal", "journal", s.getJournal},

		// Admin
		{"/v1/admin/integrity", "integrity", s.getIntegrity},
		{"/v1/admin/status", "status", s.getStatus},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(http.MethodGet, rt.pattern, s.wrap(rt)); err != nil {
			return fmt.Errorf("register %s: %w", rt.pattern, err)
		}
	}
	return nil
}

// wrap turns a route into a gateway handler: JSON body on success, JSON
// error with a status derived from the error kind otherwise.
func (s *Server) wrap(rt route) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		result, err := rt.fn(r, params)

		status := http.StatusOK
		body := result
		if err != nil {
			status = statusFor(err)
			body = map[string]string{"error": err.Error(), "kind": errs.KindOf(err).String()}
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.QueryRequests.WithLabelValues(rt.name, strconv.Itoa(status)).Inc()
			s.deps.Metrics.QueryDuration.WithLabelValues(rt.name).Observe(time.Since(start).Seconds())
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnavailable), errors.Is(err, vault.ErrRunnerStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, query.ErrNotFound), errors.Is(err, errs.ErrUnknownPosition):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindAuthorization:
		return http.StatusForbidden
	case errs.KindStateConflict:
		return http.StatusConflict
	case errs.KindExternalCall:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// --- param parsing ---

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errs.ErrInvalidRequest)
}

func positionParam(params map[string]string) (state.PositionID, error) {
	id, err := strconv.ParseUint(params["id"], 10, 64)
	if err != nil || id == 0 {
		return 0, badRequest("invalid position id %q", params["id"])
	}
	return id, nil
}

func addressParam(params map[string]string) (common.Address, error) {
	s := params["address"]
	if !common.IsHexAddress(s) {
		return common.Address{}, badRequest("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func intQuery(r *http.Request, key string, def int64) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, badRequest("invalid %s %q", key, v)
	}
	return n, nil
}

// --- live reads ---

func (s *Server) getVault(r *http.Request, _ map[string]string) (any, error) {
	return vault.Call(r.Context(), s.deps.Runner, func(_ context.Context, c *vault.Controller) (vault.VaultState, error) {
		return c.State(), nil
	})
}

func (s *Server) getQuote(r *http.Request, params map[string]string) (any, error) {
	budget, err := strconv.ParseInt(params["budget"], 10, 64)
	if err != nil {
		return nil, badRequest("invalid budget %q", params["budget"])
	}
	return vault.Call(r.Context(), s.deps.Runner, func(_ context.Context, c *vault.Controller) (*vault.Quote, error) {
		return c.Quote(budget)
	})
}

func (s *Server) getPosition(r *http.Request, params map[string]string) (any, error) {
	id, err := positionParam(params)
	if err != nil {
		return nil, err
	}
	return vault.Call(r.Context(), s.deps.Runner, func(ctx context.Context, c *vault.Controller) (*vault.PositionView, error) {
		return c.Position(ctx, id)
	})
}

func (s *Server) getOwnerPositions(r *http.Request, params map[string]string) (any, error) {
	owner, err := addressParam(params)
	if err != nil {
		return nil, err
	}
	return vault.Call(r.Context(), s.deps.Runner, func(ctx context.Context, c *vault.Controller) ([]*vault.PositionView, error) {
		return c.PositionsOf(ctx, owner)
	})
}

// --- projection reads ---

func (s *Server) getPositionClaims(r *http.Request, params map[string]string) (any, error) {
	if s.deps.Claims == nil {
		return nil, errUnavailable
	}
	id, err := positionParam(params)
	if err != nil {
		return nil, err
	}
	limit, err := intQuery(r, "limit", defaultListLimit)
	if err != nil {
		return nil, err
	}
	return s.deps.Claims.QueryByPosition(id, int(limit)), nil
}

func (s *Server) getProjectedPosition(r *http.Request, params map[string]string) (any, error) {
	if s.deps.Query == nil {
		return nil, errUnavailable
	}
	id, err := positionParam(params)
	if err != nil {
		return nil, err
	}
	return s.deps.Query.GetPosition(r.Context(), id)
}

func (s *Server) getDepositorPositions(r *http.Request, params map[string]string) (any, error) {
	if s.deps.Query == nil {
		return nil, errUnavailable
	}
	depositor, err := addressParam(params)
	if err != nil {
		return nil, err
	}
	return s.deps.Query.GetPositionsByDepositor(r.Context(), depositor.Hex())
}

func (s *Server) getEpochs(r *http.Request, _ map[string]string) (any, error) {
	if s.deps.Query == nil {
		return nil, errUnavailable
	}
	limit, err := intQuery(r, "limit", defaultListLimit)
	if err != nil {
		return nil, err
	}
	var after *int64
	if r.URL.Query().Has("after") {
		a, err := intQuery(r, "after", 0)
		if err != nil {
			return nil, err
		}
		after = &a
	}
	return s.deps.Query.GetEpochs(r.Context(), int(limit), after)
}

// Account paths contain colons, so they travel as ?path= rather than as a
// path segment.
func (s *Server) getAccount(r *http.Request, _ map[string]string) (any, error) {
	if s.deps.Query == nil {
		return nil, errUnavailable
	}
	path := r.URL.Query().Get("path")
	if _, err := ledger.ParseAccountPath(path); err != nil {
		return nil, badRequest("%v", err)
	}
	return s.deps.Query.GetAccountBalance(r.Context(), path)
}

func (s *Server) getJournal(r *http.Request, _ map[string]string) (any, error) {
	if s.deps.Query == nil {
		return nil, errUnavailable
	}
	from, err := intQuery(r, "from", 1)
	if err != nil {
		return nil, err
	}
	to, err := intQuery(r, "to", from+defaultListLimit-1)
	if err != nil {
		return nil, err
	}
	if to < from || to-from >= 10_000 {
		return nil, badRequest("invalid range %d..%d", from, to)
	}
	return s.deps.Query.GetJournalHistory(r.Context(), from, to)
}

// --- admin ---

func (s *Server) getIntegrity(r *http.Request, _ map[string]string) (any, error) {
	if s.deps.Query == nil {
		return nil, errUnavailable
	}
	return s.deps.Query.VerifyIntegrity(r.Context())
}

type statusResponse struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
	Ready     bool   `json:"ready"`
	Uptime    string `json:"uptime"`
}

func (s *Server) getStatus(r *http.Request, _ map[string]string) (any, error) {
	st, err := vault.Call(r.Context(), s.deps.Runner, func(_ context.Context, c *vault.Controller) (vault.VaultState, error) {
		return c.State(), nil
	})
	if err != nil {
		return nil, err
	}
	ready := s.deps.HealthChecker != nil && s.deps.HealthChecker.IsReady()
	return statusResponse{
		Sequence:  st.Sequence,
		StateHash: st.StateHash,
		Ready:     ready,
		Uptime:    time.Since(s.deps.StartTime).Round(time.Second).String(),
	}, nil
}
