// internal/event/vault.go
package event

import (
	"github.com/ethereum/go-ethereum/common"
)

func idPtr(id uint64) *uint64 { return &id }

type Deposited struct {
	Depositor  common.Address `json:"depositor"`
	Asset      string         `json:"asset"`
	AmountIn   int64          `json:"amount_in"`
	Position   uint64         `json:"position_id"`
	UnitValue  int64          `json:"unit_value"` // converted value before purchase
	CurveStart int64          `json:"curve_start"`
	CurveCount int64          `json:"curve_count"`
	Deposit    int64          `json:"deposit_value"` // total curve cost
	Refund     int64          `json:"refund"`
	SubAccount common.Address `json:"sub_account"`
	ReserveOut int64          `json:"reserve_amount"`
}

func (e *Deposited) EventType() EventType { return EventTypeDeposited }
func (e *Deposited) PositionID() *uint64  { return idPtr(e.Position) }

type MetaPositionMinted struct {
	Depositor  common.Address `json:"depositor"`
	Position   uint64         `json:"position_id"`
	CurveCount int64          `json:"curve_count"`
	CurveStart int64          `json:"curve_start"`
}

func (e *MetaPositionMinted) EventType() EventType { return EventTypeMetaPositionMinted }
func (e *MetaPositionMinted) PositionID() *uint64  { return idPtr(e.Position) }

// YieldCredit is one position's share of an epoch
type YieldCredit struct {
	Position uint64 `json:"position_id"`
	Amount   int64  `json:"amount"`
}

type YieldDistributed struct {
	TotalAmount int64         `json:"total_amount"`
	EpochID     int64         `json:"epoch_id"`
	TotalLocked int64         `json:"total_locked"`
	Dust        int64         `json:"dust"`
	Credits     []YieldCredit `json:"credits"`
}

func (e *YieldDistributed) EventType() EventType { return EventTypeYieldDistributed }
func (e *YieldDistributed) PositionID() *uint64  { return nil }

type YieldClaimed struct {
	Position uint64         `json:"position_id"`
	Claimant common.Address `json:"claimant"`
	Amount   int64          `json:"amount"`
}

func (e *YieldClaimed) EventType() EventType { return EventTypeYieldClaimed }
func (e *YieldClaimed) PositionID() *uint64  { return idPtr(e.Position) }

// SweptAsset is one asset moved out of a sub-account on withdraw
type SweptAsset struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

type Withdrawn struct {
	Owner        common.Address `json:"owner"`
	Position     uint64         `json:"position_id"`
	Payout       int64          `json:"payout"` // principal + unclaimed yield
	Principal    int64          `json:"principal"`
	AccruedYield int64          `json:"accrued_yield"`
	Swept        []SweptAsset   `json:"swept"`
}

func (e *Withdrawn) EventType() EventType { return EventTypeWithdrawn }
func (e *Withdrawn) PositionID() *uint64  { return idPtr(e.Position) }

type CurveParamsUpdated struct {
	NewRate  int64 `json:"new_rate"`
	UnitTick int64 `json:"unit_tick"`
}

func (e *CurveParamsUpdated) EventType() EventType { return EventTypeCurveParamsUpdated }
func (e *CurveParamsUpdated) PositionID() *uint64  { return nil }

type DepositsPaused struct {
	By common.Address `json:"by"`
}

func (e *DepositsPaused) EventType() EventType { return EventTypeDepositsPaused }
func (e *DepositsPaused) PositionID() *uint64  { return nil }

type DepositsUnpaused struct {
	By common.Address `json:"by"`
}

func (e *DepositsUnpaused) EventType() EventType { return EventTypeDepositsUnpaused }
func (e *DepositsUnpaused) PositionID() *uint64  { return nil }

type ReserveWithdrawn struct {
	To     common.Address `json:"to"`
	Amount int64          `json:"amount"`
}

func (e *ReserveWithdrawn) EventType() EventType { return EventTypeReserveWithdrawn }
func (e *ReserveWithdrawn) PositionID() *uint64  { return nil }

// SubAccountExecuted records a call forwarded through a sub-account. It moves
// no engine value; the payload is kept only as a hash.
type SubAccountExecuted struct {
	Caller   common.Address `json:"caller"`
	Position uint64         `json:"position_id"`
	Target   common.Address `json:"target"`
	Value    int64          `json:"value"`
	DataHash common.Hash    `json:"data_hash"`
}

func (e *SubAccountExecuted) EventType() EventType { return EventTypeSubAccountExecuted }
func (e *SubAccountExecuted) PositionID() *uint64  { return idPtr(e.Position) }
