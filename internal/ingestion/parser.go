package ingestion

import (
	"BondVault/internal/state"
	"BondVault/internal/vault"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Command is a parsed vault command, ready to run on the core goroutine.
type Command interface {
	Op() string
	OperationID() string
	Execute(ctx context.Context, c *vault.Controller) (any, error)
}

// ParseCommand converts a raw message into a typed Command. The command kind
// is the last subject token (vault.cmd.deposit -> deposit). received stands
// in for the command timestamp when the producer did not set one.
func ParseCommand(subject string, data []byte, received time.Time) (Command, error) {
	kind := subject[strings.LastIndexByte(subject, '.')+1:]
	switch kind {
	case "deposit":
		return parseDeposit(data, received)
	case "withdraw":
		return parseWithdraw(data, received)
	case "claim":
		return parseClaim(data, received)
	case "claim_batch":
		return parseClaimBatch(data, received)
	case "distribute":
		return parseDistribute(data, received)
	case "execute":
		return parseExecute(data, received)
	case "admin":
		return parseAdmin(data, received)
	default:
		return nil, fmt.Errorf("unknown command subject: %s", subject)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts are
// fixed-point integers at value scale; addresses are 0x-prefixed hex.

type metaJSON struct {
	OperationID string `json:"operation_id"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (m metaJSON) meta(received time.Time) vault.Meta {
	ts := received
	if m.TimestampUs != 0 {
		ts = time.UnixMicro(m.TimestampUs).UTC()
	}
	return vault.Meta{OperationID: m.OperationID, Timestamp: ts}
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("parse %s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func decode(kind string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", kind, err)
	}
	return nil
}

// --- deposit ---

type depositJSON struct {
	metaJSON
	Depositor   string        `json:"depositor"`
	Asset       string        `json:"asset"`
	Amount      int64         `json:"amount"`
	RoutingData hexutil.Bytes `json:"routing_data,omitempty"`
}

type DepositCommand struct{ Req vault.DepositRequest }

func (c *DepositCommand) Op() string          { return vault.OpDeposit }
func (c *DepositCommand) OperationID() string { return c.Req.OperationID }
func (c *DepositCommand) Execute(ctx context.Context, v *vault.Controller) (any, error) {
	return v.Deposit(ctx, c.Req)
}

func parseDeposit(data []byte, received time.Time) (*DepositCommand, error) {
	var j depositJSON
	if err := decode("deposit", data, &j); err != nil {
		return nil, err
	}
	depositor, err := parseAddress("depositor", j.Depositor)
	if err != nil {
		return nil, err
	}
	if j.Asset == "" {
		return nil, fmt.Errorf("parse deposit: asset is required")
	}
	return &DepositCommand{Req: vault.DepositRequest{
		Meta:        j.meta(received),
		Depositor:   depositor,
		Asset:       j.Asset,
		Amount:      j.Amount,
		RoutingData: j.RoutingData,
	}}, nil
}

// --- withdraw / claim ---

type positionJSON struct {
	metaJSON
	PositionID uint64 `json:"position_id"`
	Caller     string `json:"caller"`
}

func parsePosition(kind string, data []byte) (positionJSON, common.Address, error) {
	var j positionJSON
	if err := decode(kind, data, &j); err != nil {
		return j, common.Address{}, err
	}
	if j.PositionID == 0 {
		return j, common.Address{}, fmt.Errorf("parse %s: position_id is required", kind)
	}
	caller, err := parseAddress("caller", j.Caller)
	return j, caller, err
}

type WithdrawCommand struct{ Req vault.WithdrawRequest }

func (c *WithdrawCommand) Op() string          { return vault.OpWithdraw }
func (c *WithdrawCommand) OperationID() string { return c.Req.OperationID }
func (c *WithdrawCommand) Execute(ctx context.Context, v *vault.Controller) (any, error) {
	return v.Withdraw(ctx, c.Req)
}

func parseWithdraw(data []byte, received time.Time) (*WithdrawCommand, error) {
	j, caller, err := parsePosition("withdraw", data)
	if err != nil {
		return nil, err
	}
	return &WithdrawCommand{Req: vault.WithdrawRequest{
		Meta:       j.meta(received),
		PositionID: j.PositionID,
		Caller:     caller,
	}}, nil
}

type ClaimCommand struct{ Req vault.ClaimRequest }

func (c *ClaimCommand) Op() string          { return vault.OpClaim }
func (c *ClaimCommand) OperationID() string { return c.Req.OperationID }
func (c *ClaimCommand) Execute(ctx context.Context, v *vault.Controller) (any, error) {
	return v.Claim(ctx, c.Req)
}

func parseClaim(data []byte, received time.Time) (*ClaimCommand, error) {
	j, caller, err := parsePosition("claim", data)
	if err != nil {
		return nil, err
	}
	return &ClaimCommand{Req: vault.ClaimRequest{
		Meta:       j.meta(received),
		PositionID: j.PositionID,
		Caller:     caller,
	}}, nil
}

// --- claim_batch ---

type claimBatchJSON struct {
	metaJSON
	PositionIDs []uint64 `json:"position_ids"`
	Caller      string   `json:"caller"`
}

type ClaimBatchCommand struct{ Req vault.ClaimBatchRequest }

func (c *ClaimBatchCommand) Op() string          { return vault.OpClaimBatch }
func (c *ClaimBatchCommand) OperationID() string { return c.Req.OperationID }
func (c *ClaimBatchCommand) Execute(ctx context.Context, v *vault.Controller) (any, error) {
	return v.ClaimBatch(ctx, c.Req)
}

func parseClaimBatch(data []byte, received time.Time) (*ClaimBatchCommand, error) {
	var j claimBatchJSON
	if err := decode("claim_batch", data, &j); err != nil {
		return nil, err
	}
	caller, err := parseAddress("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	ids := make([]state.PositionID, len(j.PositionIDs))
	copy(ids, j.PositionIDs)
	return &ClaimBatchCommand{Req: vault.ClaimBatchRequest{
		Meta:        j.meta(received),
		PositionIDs: ids,
		Caller:      caller,
	}}, nil
}

// --- distribute ---

type distributeJSON struct {
	metaJSON
	Amount int64 `json:"amount"`
}

type DistributeCommand struct{ Req vault.DistributeRequest }

func (c *DistributeCommand) Op() string          { return vault.OpDistribute }
func (c *DistributeCommand) OperationID() string { return c.Req.OperationID }
func (c *DistributeCommand) Execute(ctx context.Context, v *vault.Controller) (any, error) {
	return v.Distribute(ctx, c.Req)
}

func parseDistribute(data []byte, received time.Time) (*DistributeCommand, error) {
	var j distributeJSON
	if err := decode("distribute", data, &j); err != nil {
		return nil, err
	}
	return &DistributeCommand{Req: vault.DistributeRequest{
		Meta:   j.meta(received),
		Amount: j.Amount,
	}}, nil
}

// --- execute ---

type executeJSON struct {
	metaJSON
	PositionID uint64        `json:"position_id"`
	Caller     string        `json:"caller"`
	Target     string        `json:"target"`
	Value      int64         `json:"value"`
	Data       hexutil.Bytes `json:"data,omitempty"`
}

type ExecuteCommand struct{ Req vault.ExecuteRequest }

func (c *ExecuteCommand) Op() string          { return vault.OpExecute }
func (c *ExecuteCommand) OperationID() string { return c.Req.OperationID }
func (c *ExecuteCommand) Execute(ctx context.Context, v *vault.Controller) (any, error) {
	out, err := v.ExecuteFromSubAccount(ctx, c.Req)
	if err != nil {
		return nil, err
	}
	return hexutil.Bytes(out), nil
}

func parseExecute(data []byte, received time.Time) (*ExecuteCommand, error) {
	var j executeJSON
	if err := decode("execute", data, &j); err != nil {
		return nil, err
	}
	if j.PositionID == 0 {
		return nil, fmt.Errorf("parse execute: position_id is required")
	}
	caller, err := parseAddress("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	target, err := parseAddress("target", j.Target)
	if err != nil {
		return nil, err
	}
	return &ExecuteCommand{Req: vault.ExecuteRequest{
		Meta:       j.meta(received),
		PositionID: j.PositionID,
		Caller:     caller,
		Target:     target,
		Value:      j.Value,
		Data:       j.Data,
	}}, nil
}

// --- admin ---

// Admin actions share one subject; action selects the operation.
const (
	ActionPause        = "pause"
	ActionUnpause      = "unpause"
	ActionUpdateCurve  = "update_curve"
	ActionSweepReserve = "sweep_reserve"
)

type adminJSON struct {
	metaJSON
	Action string `json:"action"`
	Caller string `json:"caller"`
	Rate   *int64 `json:"rate,omitempty"`
	To     string `json:"to,omitempty"`
}

type AdminCommand struct {
	Action string
	Meta   vault.Meta
	Caller common.Address
	Rate   int64
	To     common.Address
}

func (c *AdminCommand) Op() string {
	switch c.Action {
	case ActionPause:
		return vault.OpPause
	case ActionUnpause:
		return vault.OpUnpause
	case ActionUpdateCurve:
		return vault.OpUpdateCurve
	default:
		return vault.OpSweepReserve
	}
}

func (c *AdminCommand) OperationID() string { return c.Meta.OperationID }

func (c *AdminCommand) Execute(ctx context.Context, v *vault.Controller) (any, error) {
	switch c.Action {
	case ActionPause:
		return nil, v.PauseDeposits(ctx, vault.AdminRequest{Meta: c.Meta, Caller: c.Caller})
	case ActionUnpause:
		return nil, v.UnpauseDeposits(ctx, vault.AdminRequest{Meta: c.Meta, Caller: c.Caller})
	case ActionUpdateCurve:
		return nil, v.UpdateCurveParams(ctx, vault.UpdateCurveRequest{Meta: c.Meta, Caller: c.Caller, Rate: c.Rate})
	default:
		return v.EmergencyWithdrawReserve(ctx, vault.SweepReserveRequest{Meta: c.Meta, Caller: c.Caller, To: c.To})
	}
}

func parseAdmin(data []byte, received time.Time) (*AdminCommand, error) {
	var j adminJSON
	if err := decode("admin", data, &j); err != nil {
		return nil, err
	}
	caller, err := parseAddress("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	cmd := &AdminCommand{Action: j.Action, Meta: j.meta(received), Caller: caller}

	switch j.Action {
	case ActionPause, ActionUnpause:
	case ActionUpdateCurve:
		if j.Rate == nil {
			return nil, fmt.Errorf("parse admin: update_curve requires rate")
		}
		cmd.Rate = *j.Rate
	case ActionSweepReserve:
		if cmd.To, err = parseAddress("to", j.To); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("parse admin: unknown action %q", j.Action)
	}
	return cmd, nil
}
