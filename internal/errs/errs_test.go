package errs_test

import (
	"BondVault/internal/errs"
	"errors"
	"fmt"
	"testing"
)

// ============================================================================
// Test: KindOf
// ============================================================================

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errs.Kind
	}{
		{"sentinel", errs.ErrNotOwner, errs.KindAuthorization},
		{"wrapped", fmt.Errorf("withdraw 7: %w", errs.ErrUnknownPosition), errs.KindStateConflict},
		{"external", errs.External("treasury.pay", errors.New("rpc timeout")), errs.KindExternalCall},
		{"plain", errors.New("boom"), errs.KindUnknown},
		{"nil", nil, errs.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errs.KindOf(tt.err); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExternal_KeepsCause(t *testing.T) {
	cause := errors.New("swap reverted")
	err := errs.External("converter.swap", cause)

	if !errors.Is(err, errs.ErrExternalCall) {
		t.Error("expected ErrExternalCall in chain")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause in chain")
	}
	if got, want := err.Error(), "converter.swap: external_call_failed: swap reverted"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestKind_String(t *testing.T) {
	if got := errs.KindValidation.String(); got != "validation" {
		t.Errorf("got %q, want validation", got)
	}
	if got := errs.Kind(99).String(); got != "unknown" {
		t.Errorf("got %q, want unknown", got)
	}
}
