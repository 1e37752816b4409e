package math

import (
	"fmt"
	"math/big"
)

// BondingCurve prices consecutive slots on a linear curve:
//
//	price(i) = (i+1) * unitPrice,   unitPrice = ceil(unitTick * (1 + feeRate))
//
// All values are in ValueConfig scale; feeRate is in RateConfig scale.
// A BondingCurve is immutable; parameter changes produce a new curve, so
// existing positions are never repriced.
type BondingCurve struct {
	unitTick  int64
	feeRate   int64
	unitPrice int64
}

// Purchase is the result of inverting the curve for a budget.
type Purchase struct {
	Count     int64
	TotalCost int64
	Remainder int64
}

// NewBondingCurve validates parameters and precomputes the unit price.
// Rounding the fee up keeps every slot priced at or above its nominal cost.
func NewBondingCurve(unitTick, feeRate int64) (*BondingCurve, error) {
	if unitTick <= 0 {
		return nil, fmt.Errorf("unit tick must be > 0, got %d", unitTick)
	}
	if feeRate < 0 {
		return nil, fmt.Errorf("fee rate must be >= 0, got %d", feeRate)
	}
	unitPrice := ApplyRate(unitTick, feeRate, RoundUp)
	if unitPrice <= 0 {
		return nil, fmt.Errorf("unit price overflow for tick=%d rate=%d", unitTick, feeRate)
	}
	return &BondingCurve{
		unitTick:  unitTick,
		feeRate:   feeRate,
		unitPrice: unitPrice,
	}, nil
}

func (c *BondingCurve) UnitTick() int64  { return c.unitTick }
func (c *BondingCurve) FeeRate() int64   { return c.feeRate }
func (c *BondingCurve) UnitPrice() int64 { return c.unitPrice }

// Price returns the cost of slot index. Returns -1 on overflow.
func (c *BondingCurve) Price(index int64) int64 {
	p := getInt128()
	defer putInt128(p)
	p.SetInt64(index + 1)
	p.Mul(p, big.NewInt(c.unitPrice))
	if !p.IsInt64() {
		return -1
	}
	return p.Int64()
}

// seriesCost writes sum_{i=start}^{start+count-1} price(i) into dst.
// count*(2*start+count+1) is always even, so the halving is exact.
func (c *BondingCurve) seriesCost(dst *big.Int, start, count int64) *big.Int {
	tmp := getInt128()
	defer putInt128(tmp)

	dst.SetInt64(start)
	dst.Lsh(dst, 1)
	tmp.SetInt64(count + 1)
	dst.Add(dst, tmp)
	tmp.SetInt64(count)
	dst.Mul(dst, tmp)
	dst.Rsh(dst, 1)
	tmp.SetInt64(c.unitPrice)
	dst.Mul(dst, tmp)
	return dst
}

// SeriesCost returns the total cost of count consecutive slots starting at start.
// ok is false when the cost does not fit int64.
func (c *BondingCurve) SeriesCost(start, count int64) (cost int64, ok bool) {
	if count <= 0 {
		return 0, true
	}
	v := getInt128()
	defer putInt128(v)
	c.seriesCost(v, start, count)
	if !v.IsInt64() {
		return 0, false
	}
	return v.Int64(), true
}

// Purchase returns the maximal count of consecutive slots from startIndex whose
// summed price fits in budget. The search space is bounded in closed form by
// count^2 * unitPrice <= 2 * budget, then narrowed by binary search, so cost is
// O(log count) regardless of deposit size.
func (c *BondingCurve) Purchase(budget, startIndex int64) Purchase {
	if budget <= 0 || startIndex < 0 {
		return Purchase{Remainder: max(budget, 0)}
	}

	bound := getInt128()
	defer putInt128(bound)
	bound.SetInt64(budget)
	bound.Lsh(bound, 1)
	bound.Quo(bound, big.NewInt(c.unitPrice))
	bound.Sqrt(bound)
	hi := bound.Int64() + 1

	budgetBig := big.NewInt(budget)
	cost := getInt128()
	defer putInt128(cost)

	// Invariant: seriesCost(lo) <= budget < seriesCost(hi+1)
	lo := int64(0)
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if c.seriesCost(cost, startIndex, mid).Cmp(budgetBig) <= 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	if lo == 0 {
		return Purchase{Remainder: budget}
	}

	total := c.seriesCost(cost, startIndex, lo).Int64()
	return Purchase{
		Count:     lo,
		TotalCost: total,
		Remainder: budget - total,
	}
}
