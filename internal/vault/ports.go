package vault

import (
	"BondVault/internal/state"
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// AssetAmount is a quantity of one asset in its native units.
type AssetAmount struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

// Converter prices deposited assets in the unit of account and routes them
// into the yield-bearing reserve.
type Converter interface {
	ToUnitOfAccount(ctx context.Context, asset string, amount int64) (int64, error)
	SwapToReserve(ctx context.Context, asset string, amount int64, routing []byte) (int64, error)
}

// OwnershipRegistry tracks non-fungible position ownership. Transfers happen
// outside the vault and never call back into it.
type OwnershipRegistry interface {
	Mint(ctx context.Context, to common.Address) (state.PositionID, error)
	Burn(ctx context.Context, id state.PositionID) error
	// Reissue reverses Burn for an operation that is being rolled back.
	Reissue(ctx context.Context, id state.PositionID, to common.Address) error
	OwnerOf(ctx context.Context, id state.PositionID) (common.Address, error)
	Transfer(ctx context.Context, from, to common.Address, id state.PositionID) error
}

// SubAccountBinder manages the programmable account bound to each position.
// AddressFor is deterministic and idempotent.
type SubAccountBinder interface {
	AddressFor(ctx context.Context, id state.PositionID) (common.Address, error)
	SweepAll(ctx context.Context, id state.PositionID, to common.Address) ([]AssetAmount, error)
	Execute(ctx context.Context, id state.PositionID, target common.Address, value int64, data []byte) ([]byte, error)
}

// Treasury moves assets between callers and the vault. Release undoes
// Collect and Recover undoes Pay; both are only used to roll back an
// operation that failed part way.
type Treasury interface {
	Collect(ctx context.Context, from common.Address, asset string, amount int64) error
	Release(ctx context.Context, to common.Address, asset string, amount int64) error
	Pay(ctx context.Context, to common.Address, value int64) error
	Recover(ctx context.Context, from common.Address, value int64) error
}

// Ports bundles the collaborators the controller drives.
type Ports struct {
	Converter Converter
	Registry  OwnershipRegistry
	Binder    SubAccountBinder
	Treasury  Treasury
}
