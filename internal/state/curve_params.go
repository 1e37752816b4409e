package state

import (
	"BondVault/internal/errs"
	fpmath "BondVault/internal/math"
	"fmt"
)

// CurveParams defines the pricing inputs for future purchases
type CurveParams struct {
	UnitTick     int64 // Fixed-point: value scale
	FeeRate      int64 // Fixed-point: rate scale (ppm; 10_000 = 1%)
	MinRate      int64
	MaxRate      int64
	EffectiveSeq int64 // Sequence at which params take effect
}

var (
	// DefaultCurveParams prices slot i at (i+1) * 1.01
	DefaultCurveParams = CurveParams{
		UnitTick:     1_000_000,
		FeeRate:      10_000,  // 1%
		MinRate:      0,
		MaxRate:      100_000, // 10%
		EffectiveSeq: 0,
	}
)

// CurveParamsManager holds the governance-adjustable curve parameters and the
// bonding curve derived from them. Existing positions are never repriced.
type CurveParamsManager struct {
	params CurveParams
	curve  *fpmath.BondingCurve
}

func NewCurveParamsManager(params CurveParams) (*CurveParamsManager, error) {
	if err := ValidateCurveParams(params); err != nil {
		return nil, err
	}
	curve, err := fpmath.NewBondingCurve(params.UnitTick, params.FeeRate)
	if err != nil {
		return nil, err
	}
	return &CurveParamsManager{params: params, curve: curve}, nil
}

// ValidateCurveParams checks: unit_tick > 0, 0 <= min_rate <= max_rate,
// fee_rate within [min_rate, max_rate].
func ValidateCurveParams(params CurveParams) error {
	if params.UnitTick <= 0 {
		return fmt.Errorf("unit_tick must be > 0, got %d: %w", params.UnitTick, errs.ErrInvalidAmount)
	}
	if params.MinRate < 0 || params.MaxRate < params.MinRate {
		return fmt.Errorf("rate bounds [%d, %d] invalid: %w", params.MinRate, params.MaxRate, errs.ErrInvalidRate)
	}
	if params.FeeRate < params.MinRate || params.FeeRate > params.MaxRate {
		return fmt.Errorf("fee_rate %d outside [%d, %d]: %w", params.FeeRate, params.MinRate, params.MaxRate, errs.ErrInvalidRate)
	}
	return nil
}

func (cpm *CurveParamsManager) Params() CurveParams {
	return cpm.params
}

func (cpm *CurveParamsManager) Curve() *fpmath.BondingCurve {
	return cpm.curve
}

// UpdateRate replaces the fee rate for future purchases. Rejects rates
// outside the configured bounds with ErrInvalidRate and leaves state unchanged.
func (cpm *CurveParamsManager) UpdateRate(rate int64, effectiveSeq int64) error {
	next := cpm.params
	next.FeeRate = rate
	next.EffectiveSeq = effectiveSeq
	if err := ValidateCurveParams(next); err != nil {
		return err
	}
	curve, err := fpmath.NewBondingCurve(next.UnitTick, next.FeeRate)
	if err != nil {
		return fmt.Errorf("rate %d: %w", rate, errs.ErrInvalidRate)
	}
	cpm.params = next
	cpm.curve = curve
	return nil
}

// UpdateUnitTick replaces the unit tick for future purchases.
func (cpm *CurveParamsManager) UpdateUnitTick(tick int64, effectiveSeq int64) error {
	next := cpm.params
	next.UnitTick = tick
	next.EffectiveSeq = effectiveSeq
	if err := ValidateCurveParams(next); err != nil {
		return err
	}
	curve, err := fpmath.NewBondingCurve(next.UnitTick, next.FeeRate)
	if err != nil {
		return fmt.Errorf("unit tick %d: %w", tick, errs.ErrInvalidAmount)
	}
	cpm.params = next
	cpm.curve = curve
	return nil
}
