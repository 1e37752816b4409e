// internal/math/distribution.go
package math

import (
	"math/big"
	"sort"
)

// WeightedShare is one participant in a proportional split.
type WeightedShare struct {
	ID     uint64
	Weight int64
}

// ShareAllocation is the amount credited to one participant.
type ShareAllocation struct {
	ID     uint64
	Amount int64
}

// ProportionalSplit is the result of dividing an amount by weight.
type ProportionalSplit struct {
	Amount      int64
	TotalWeight int64
	Allocations []ShareAllocation // ascending by ID, zero amounts included
	Dust        int64             // Amount - sum(Allocations), 0 <= Dust <= len-1
}

// ComputeProportionalSplit floors amount * weight / totalWeight for every
// share. Shares are sorted by ID for deterministic ordering. totalWeight must
// equal the sum of weights; the rounding residual is reported as Dust, never
// assigned to a participant.
func ComputeProportionalSplit(amount int64, totalWeight int64, shares []WeightedShare) *ProportionalSplit {
	sorted := make([]WeightedShare, len(shares))
	copy(sorted, shares)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	allocations := make([]ShareAllocation, 0, len(sorted))
	var distributed int64

	num := getInt128()
	defer putInt128(num)
	amt := big.NewInt(amount)

	for _, s := range sorted {
		// amount * weight / totalWeight, floor
		num.SetInt64(s.Weight)
		num.Mul(num, amt)
		share := DivideInt128(num, totalWeight, RoundDown)

		allocations = append(allocations, ShareAllocation{ID: s.ID, Amount: share})
		distributed += share
	}

	return &ProportionalSplit{
		Amount:      amount,
		TotalWeight: totalWeight,
		Allocations: allocations,
		Dust:        amount - distributed,
	}
}
