package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDeposited
	EventTypeMetaPositionMinted
	EventTypeYieldDistributed
	EventTypeYieldClaimed
	EventTypeWithdrawn
	EventTypeCurveParamsUpdated
	EventTypeDepositsPaused
	EventTypeDepositsUnpaused
	EventTypeReserveWithdrawn
	EventTypeSubAccountExecuted
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by the vault core
	Sequence int64

	// Operation kind and stable key of the command that produced this event
	Op          string
	OperationID string

	// Event type discriminator
	EventType EventType

	// Position context (nil for vault-wide events)
	PositionID *uint64

	// Versioned input timestamp carried by the command (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// EventType returns the discriminator
	EventType() EventType

	// PositionID returns the position context (nil for vault-wide events)
	PositionID() *uint64
}

func (et EventType) String() string {
	switch et {
	case EventTypeDeposited:
		return "Deposited"
	case EventTypeMetaPositionMinted:
		return "MetaPositionMinted"
	case EventTypeYieldDistributed:
		return "YieldDistributed"
	case EventTypeYieldClaimed:
		return "YieldClaimed"
	case EventTypeWithdrawn:
		return "Withdrawn"
	case EventTypeCurveParamsUpdated:
		return "CurveParamsUpdated"
	case EventTypeDepositsPaused:
		return "DepositsPaused"
	case EventTypeDepositsUnpaused:
		return "DepositsUnpaused"
	case EventTypeReserveWithdrawn:
		return "ReserveWithdrawn"
	case EventTypeSubAccountExecuted:
		return "SubAccountExecuted"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of EventType.String
func ParseEventType(s string) EventType {
	for et := EventTypeDeposited; et <= EventTypeSubAccountExecuted; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}
