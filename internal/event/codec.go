package event

import (
	"encoding/json"
	"fmt"
)

// Encode serializes an event payload for the event log
func Encode(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", evt.EventType(), err)
	}
	return data, nil
}

// Decode rebuilds an event from its type and payload
func Decode(et EventType, payload []byte) (Event, error) {
	var evt Event
	switch et {
	case EventTypeDeposited:
		evt = &Deposited{}
	case EventTypeMetaPositionMinted:
		evt = &MetaPositionMinted{}
	case EventTypeYieldDistributed:
		evt = &YieldDistributed{}
	case EventTypeYieldClaimed:
		evt = &YieldClaimed{}
	case EventTypeWithdrawn:
		evt = &Withdrawn{}
	case EventTypeCurveParamsUpdated:
		evt = &CurveParamsUpdated{}
	case EventTypeDepositsPaused:
		evt = &DepositsPaused{}
	case EventTypeDepositsUnpaused:
		evt = &DepositsUnpaused{}
	case EventTypeReserveWithdrawn:
		evt = &ReserveWithdrawn{}
	case EventTypeSubAccountExecuted:
		evt = &SubAccountExecuted{}
	default:
		return nil, fmt.Errorf("unknown event type: %d", et)
	}

	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}
