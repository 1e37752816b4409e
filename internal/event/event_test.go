package event_test

import (
	"BondVault/internal/event"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

// ============================================================================
// Test: Codec
// ============================================================================

func TestDecode_RebuildsTypedEvent(t *testing.T) {
	in := &event.Deposited{
		Depositor:  common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Asset:      "USD",
		AmountIn:   3_030_000,
		Position:   4,
		CurveStart: 0,
		CurveCount: 2,
		Deposit:    3_030_000,
	}
	payload, err := event.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	out, err := event.Decode(event.EventTypeDeposited, payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := out.(*event.Deposited)
	if !ok {
		t.Fatalf("got %T, want *event.Deposited", out)
	}
	if *got != *in {
		t.Errorf("got %+v, want %+v", got, in)
	}
	if id := got.PositionID(); id == nil || *id != 4 {
		t.Errorf("position id: got %v, want 4", id)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	if _, err := event.Decode(event.EventTypeUnknown, []byte(`{}`)); err == nil {
		t.Error("expected error for unknown event type")
	}
}

func TestDecode_MalformedPayload(t *testing.T) {
	if _, err := event.Decode(event.EventTypeYieldClaimed, []byte(`{"amount":`)); err == nil {
		t.Error("expected error for truncated payload")
	}
}

func TestParseEventType_InvertsString(t *testing.T) {
	for et := event.EventTypeDeposited; et <= event.EventTypeSubAccountExecuted; et++ {
		if got := event.ParseEventType(et.String()); got != et {
			t.Errorf("%s: got %v, want %v", et, got, et)
		}
	}
	if got := event.ParseEventType("Rebalanced"); got != event.EventTypeUnknown {
		t.Errorf("got %v, want Unknown", got)
	}
}
