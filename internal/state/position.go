// internal/state/position.go
package state

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// PositionID is the non-fungible token id minted for a position.
type PositionID = uint64

// PositionState tracks the position lifecycle
type PositionState int32

const (
	PositionStateActive PositionState = iota
	PositionStateBurned
)

// Position is one deposit's claim on the vault. Ownership is not stored here;
// it is always resolved live through the ownership registry.
type Position struct {
	ID           PositionID
	DepositValue int64 // Fixed-point: value scale
	IsMeta       bool
	CurveStart   int64
	CurveCount   int64 // >= 1
	AccruedYield int64 // Fixed-point: value scale
	SubAccount   common.Address
	State        PositionState
	Version      int64
}

func (s PositionState) String() string {
	switch s {
	case PositionStateActive:
		return "Active"
	case PositionStateBurned:
		return "Burned"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates lifecycle transitions. Burned is terminal.
func (s PositionState) CanTransitionTo(next PositionState) bool {
	switch s {
	case PositionStateActive:
		return next == PositionStateActive || next == PositionStateBurned
	default:
		return false
	}
}

// IsActive returns true if the position still holds locked value
func (p *Position) IsActive() bool {
	return p.State == PositionStateActive && p.DepositValue > 0
}

// CurveEnd returns the exclusive end of the position's curve range
func (p *Position) CurveEnd() int64 {
	return p.CurveStart + p.CurveCount
}

// Clone returns a detached copy
func (p *Position) Clone() *Position {
	c := *p
	return &c
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 80)

	buf = binary.LittleEndian.AppendUint64(buf, p.ID)
	buf = appendInt64LE(buf, p.DepositValue)

	if p.IsMeta {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	buf = appendInt64LE(buf, p.CurveStart)
	buf = appendInt64LE(buf, p.CurveCount)
	buf = appendInt64LE(buf, p.AccruedYield)
	buf = append(buf, p.SubAccount.Bytes()...)
	buf = append(buf, byte(p.State))

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(buf, uint64(v))
}
