// Package errs defines the stable rejection kinds surfaced by the vault engine.
// Every rejection wraps one of the sentinel errors below so callers can assert
// on cause with errors.Is, and on category with KindOf.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a rejection.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindStateConflict
	KindExternalCall
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindStateConflict:
		return "state_conflict"
	case KindExternalCall:
		return "external_call"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a sentinel with a stable code and kind.
type Error struct {
	Code string
	Kind Kind
}

func (e *Error) Error() string {
	return e.Code
}

func newErr(code string, kind Kind) *Error {
	return &Error{Code: code, Kind: kind}
}

var (
	// Validation
	ErrInvalidAmount      = newErr("invalid_amount", KindValidation)
	ErrInvalidRate        = newErr("invalid_rate", KindValidation)
	ErrDepositTooSmall    = newErr("deposit_too_small", KindValidation)
	ErrDuplicatePosition  = newErr("duplicate_position", KindValidation)
	ErrCurveNotContiguous = newErr("curve_not_contiguous", KindValidation)
	ErrInvalidRequest     = newErr("invalid_request", KindValidation)

	// Authorization
	ErrNotOwner = newErr("not_owner", KindAuthorization)
	ErrNotAdmin = newErr("not_admin", KindAuthorization)

	// State conflict
	ErrAlreadyWithdrawn = newErr("already_withdrawn", KindStateConflict)
	ErrUnknownPosition  = newErr("unknown_position", KindStateConflict)
	ErrNoYield          = newErr("no_yield", KindStateConflict)
	ErrNothingLocked    = newErr("nothing_locked", KindStateConflict)
	ErrDepositsPaused   = newErr("deposits_paused", KindStateConflict)
	ErrReentrantCall    = newErr("reentrant_call", KindStateConflict)
	ErrNothingToSweep   = newErr("nothing_to_sweep", KindStateConflict)
	ErrDuplicateOp      = newErr("duplicate_operation", KindStateConflict)

	// External
	ErrExternalCall = newErr("external_call_failed", KindExternalCall)

	// Internal: a collaborator or restored snapshot broke an engine invariant
	ErrInternal = newErr("internal", KindInternal)
)

// KindOf returns the kind of the first *Error found in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// External wraps a collaborator failure so that it matches ErrExternalCall
// while keeping the underlying cause reachable.
func External(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrExternalCall, cause)
}
