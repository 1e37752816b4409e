package vault

import (
	"BondVault/internal/state"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Op names used for dedup keys, metrics labels and logs
const (
	OpDeposit      = "deposit"
	OpWithdraw     = "withdraw"
	OpClaim        = "claim"
	OpClaimBatch   = "claim_batch"
	OpDistribute   = "distribute"
	OpExecute      = "execute"
	OpPause        = "pause"
	OpUnpause      = "unpause"
	OpUpdateCurve  = "update_curve"
	OpSweepReserve = "sweep_reserve"
)

// Meta identifies one command. OperationID is the dedup key; an empty id
// disables dedup. Timestamp is a versioned input: the core never reads the
// wall clock.
type Meta struct {
	OperationID string
	Timestamp   time.Time
}

type DepositRequest struct {
	Meta
	Depositor   common.Address
	Asset       string
	Amount      int64
	RoutingData []byte
}

type DepositResult struct {
	PositionID    state.PositionID
	UnitValue     int64
	CurveStart    int64
	CurveCount    int64
	DepositValue  int64
	Refund        int64
	SubAccount    common.Address
	ReserveAmount int64
}

type WithdrawRequest struct {
	Meta
	PositionID state.PositionID
	Caller     common.Address
}

type WithdrawResult struct {
	PositionID   state.PositionID
	Principal    int64
	AccruedYield int64
	Payout       int64
	Swept        []AssetAmount
}

type ClaimRequest struct {
	Meta
	PositionID state.PositionID
	Caller     common.Address
}

type ClaimBatchRequest struct {
	Meta
	PositionIDs []state.PositionID
	Caller      common.Address
}

type ClaimResult struct {
	Claims []*state.ClaimResult
	Total  int64
}

type DistributeRequest struct {
	Meta
	Amount int64
}

type ExecuteRequest struct {
	Meta
	PositionID state.PositionID
	Caller     common.Address
	Target     common.Address
	Value      int64
	Data       []byte
}

type AdminRequest struct {
	Meta
	Caller common.Address
}

type UpdateCurveRequest struct {
	Meta
	Caller common.Address
	Rate   int64
}

type SweepReserveRequest struct {
	Meta
	Caller common.Address
	To     common.Address
}
