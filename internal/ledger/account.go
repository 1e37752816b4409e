package ledger

import (
	"fmt"
	"strconv"
	"strings"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopePosition AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Position sub-types
	SubTypeAccruedYield AccountSubType = iota

	// System sub-types
	SubTypeSystemLocked
	SubTypeSystemDust

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalHarvest
	SubTypeExternalPayouts
	SubTypeExternalReserveSweeps
)

// AccountKey is the in-memory key for balance tracking. All balances are in
// the vault's unit of account, so there is no asset dimension.
type AccountKey struct {
	Scope    AccountScope
	EntityID uint64 // position id for position accounts, zero otherwise
	SubType  AccountSubType
}

// NewPositionAccountKey creates a key for a position-owned account
func NewPositionAccountKey(positionID uint64, subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:    AccountScopePosition,
		EntityID: positionID,
		SubType:  subType,
	}
}

// NewSystemAccountKey creates a key for vault-owned accounts
func NewSystemAccountKey(subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
	}
}

var (
	LockedAccount        = NewSystemAccountKey(SubTypeSystemLocked)
	DustAccount          = NewSystemAccountKey(SubTypeSystemDust)
	DepositsAccount      = NewExternalAccountKey(SubTypeExternalDeposits)
	HarvestAccount       = NewExternalAccountKey(SubTypeExternalHarvest)
	PayoutsAccount       = NewExternalAccountKey(SubTypeExternalPayouts)
	ReserveSweepsAccount = NewExternalAccountKey(SubTypeExternalReserveSweeps)
)

// YieldAccount returns the accrued-yield account of a position
func YieldAccount(positionID uint64) AccountKey {
	return NewPositionAccountKey(positionID, SubTypeAccruedYield)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopePosition:
		return fmt.Sprintf("position:%d:%s", k.EntityID, k.subTypeName())
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s", k.subTypeName())
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s", k.subTypeName())
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeAccruedYield:
		return "accrued_yield"
	case SubTypeSystemLocked:
		return "locked"
	case SubTypeSystemDust:
		return "dust"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalHarvest:
		return "harvest"
	case SubTypeExternalPayouts:
		return "payouts"
	case SubTypeExternalReserveSweeps:
		return "reserve_sweeps"
	default:
		return "unknown"
	}
}

var subTypesByName = map[string]AccountSubType{
	"accrued_yield":  SubTypeAccruedYield,
	"locked":         SubTypeSystemLocked,
	"dust":           SubTypeSystemDust,
	"deposits":       SubTypeExternalDeposits,
	"harvest":        SubTypeExternalHarvest,
	"payouts":        SubTypeExternalPayouts,
	"reserve_sweeps": SubTypeExternalReserveSweeps,
}

// ParseAccountPath is the inverse of AccountPath
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	subType, ok := subTypesByName[parts[len(parts)-1]]
	if !ok {
		return AccountKey{}, fmt.Errorf("account path %q: unknown sub-type", path)
	}

	switch {
	case len(parts) == 3 && parts[0] == "position":
		id, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		return NewPositionAccountKey(id, subType), nil
	case len(parts) == 2 && parts[0] == "system":
		return NewSystemAccountKey(subType), nil
	case len(parts) == 2 && parts[0] == "external":
		return NewExternalAccountKey(subType), nil
	}
	return AccountKey{}, fmt.Errorf("account path %q: unknown scope", path)
}
