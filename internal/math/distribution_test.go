package math_test

import (
	fpmath "BondVault/internal/math"
	"testing"
)

func TestProportionalSplit_TwoToOne(t *testing.T) {
	// 0.3 over weights 2:1
	split := fpmath.ComputeProportionalSplit(300_000, 3_000_000, []fpmath.WeightedShare{
		{ID: 2, Weight: 1_000_000},
		{ID: 1, Weight: 2_000_000},
	})

	if len(split.Allocations) != 2 {
		t.Fatalf("got %d allocations, want 2", len(split.Allocations))
	}
	if split.Allocations[0].ID != 1 || split.Allocations[0].Amount != 200_000 {
		t.Errorf("first allocation: got %+v, want {1 200000}", split.Allocations[0])
	}
	if split.Allocations[1].ID != 2 || split.Allocations[1].Amount != 100_000 {
		t.Errorf("second allocation: got %+v, want {2 100000}", split.Allocations[1])
	}
	if split.Dust != 0 {
		t.Errorf("dust: got %d, want 0", split.Dust)
	}
}

func TestProportionalSplit_DustBound(t *testing.T) {
	tests := []struct {
		name    string
		amount  int64
		weights []int64
	}{
		{"three equal", 10, []int64{1, 1, 1}},
		{"primes", 1_000_003, []int64{7, 11, 13, 17, 19}},
		{"one dominant", 999, []int64{1_000_000, 1, 1}},
		{"single", 12_345, []int64{42}},
		{"amount smaller than count", 2, []int64{5, 5, 5, 5, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shares := make([]fpmath.WeightedShare, len(tt.weights))
			var total int64
			for i, w := range tt.weights {
				shares[i] = fpmath.WeightedShare{ID: uint64(i + 1), Weight: w}
				total += w
			}

			split := fpmath.ComputeProportionalSplit(tt.amount, total, shares)

			var sum int64
			for _, a := range split.Allocations {
				if a.Amount < 0 {
					t.Fatalf("negative allocation %+v", a)
				}
				sum += a.Amount
			}
			if sum+split.Dust != tt.amount {
				t.Errorf("sum %d + dust %d != amount %d", sum, split.Dust, tt.amount)
			}
			if split.Dust < 0 || split.Dust > int64(len(tt.weights)-1) {
				t.Errorf("dust %d outside [0, %d]", split.Dust, len(tt.weights)-1)
			}
		})
	}
}

func TestProportionalSplit_NoOverflowOnLargeValues(t *testing.T) {
	big := int64(4_000_000_000_000_000) // weight * amount exceeds int64
	split := fpmath.ComputeProportionalSplit(big, 2*big, []fpmath.WeightedShare{
		{ID: 1, Weight: big},
		{ID: 2, Weight: big},
	})
	if split.Allocations[0].Amount != big/2 || split.Allocations[1].Amount != big/2 {
		t.Errorf("got %+v", split.Allocations)
	}
}

func TestMulDiv_Rounding(t *testing.T) {
	if got := fpmath.MulDiv(10, 1, 3, fpmath.RoundDown); got != 3 {
		t.Errorf("round down: got %d, want 3", got)
	}
	if got := fpmath.MulDiv(10, 1, 3, fpmath.RoundUp); got != 4 {
		t.Errorf("round up: got %d, want 4", got)
	}
	if got := fpmath.MulDiv(5, 1, 2, fpmath.RoundHalfEven); got != 2 {
		t.Errorf("half even: got %d, want 2", got)
	}
	if got := fpmath.MulDiv(9, 3, 3, fpmath.RoundUp); got != 9 {
		t.Errorf("exact round up: got %d, want 9", got)
	}
}
