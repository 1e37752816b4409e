package math_test

import (
	fpmath "BondVault/internal/math"
	"testing"
)

const (
	one        = int64(1_000_000) // 1.000000 in value scale
	onePercent = int64(10_000)    // 1% in rate scale
)

func mustCurve(t *testing.T, tick, rate int64) *fpmath.BondingCurve {
	t.Helper()
	c, err := fpmath.NewBondingCurve(tick, rate)
	if err != nil {
		t.Fatalf("new curve: %v", err)
	}
	return c
}

// naiveSeries sums slot prices one by one; used as the reference for the
// closed-form evaluation.
func naiveSeries(c *fpmath.BondingCurve, start, count int64) int64 {
	var total int64
	for i := int64(0); i < count; i++ {
		total += c.Price(start + i)
	}
	return total
}

func TestBondingCurve_PriceScenario(t *testing.T) {
	c := mustCurve(t, one, onePercent)

	want := []int64{1_010_000, 2_020_000, 3_030_000}
	for i, w := range want {
		if got := c.Price(int64(i)); got != w {
			t.Errorf("price(%d): got %d, want %d", i, got, w)
		}
	}
}

func TestBondingCurve_PriceStrictlyIncreasing(t *testing.T) {
	c := mustCurve(t, 333, 12_345)
	prev := c.Price(0)
	for i := int64(1); i < 1000; i++ {
		p := c.Price(i)
		if p <= prev {
			t.Fatalf("price(%d)=%d not > price(%d)=%d", i, p, i-1, prev)
		}
		prev = p
	}
}

func TestBondingCurve_UnitPriceRoundsUp(t *testing.T) {
	// 3 * 1.01 = 3.03 -> ceil = 4 at integer scale
	c := mustCurve(t, 3, onePercent)
	if c.UnitPrice() != 4 {
		t.Errorf("got %d, want 4", c.UnitPrice())
	}
}

func TestBondingCurve_SeriesCostMatchesNaive(t *testing.T) {
	c := mustCurve(t, one, onePercent)
	for _, start := range []int64{0, 1, 7, 100, 12_345} {
		for _, count := range []int64{0, 1, 2, 3, 10, 101} {
			got, ok := c.SeriesCost(start, count)
			if !ok {
				t.Fatalf("overflow at start=%d count=%d", start, count)
			}
			if want := naiveSeries(c, start, count); got != want {
				t.Errorf("series(%d,%d): got %d, want %d", start, count, got, want)
			}
		}
	}
}

func TestBondingCurve_SeriesCostOverflow(t *testing.T) {
	c := mustCurve(t, one, onePercent)
	if _, ok := c.SeriesCost(1<<40, 1<<30); ok {
		t.Error("expected overflow to be reported")
	}
}

func TestBondingCurve_PurchaseExactMeta(t *testing.T) {
	c := mustCurve(t, one, onePercent)

	p := c.Purchase(3_030_000, 0)
	if p.Count != 2 || p.TotalCost != 3_030_000 || p.Remainder != 0 {
		t.Errorf("got %+v, want count=2 cost=3030000 remainder=0", p)
	}
}

func TestBondingCurve_PurchaseBelowFirstPrice(t *testing.T) {
	c := mustCurve(t, one, onePercent)

	p := c.Purchase(2_019_999, 1) // price(1) = 2.02
	if p.Count != 0 || p.TotalCost != 0 || p.Remainder != 2_019_999 {
		t.Errorf("got %+v, want zero purchase with full remainder", p)
	}
}

func TestBondingCurve_PurchaseZeroBudget(t *testing.T) {
	c := mustCurve(t, one, onePercent)
	p := c.Purchase(0, 0)
	if p.Count != 0 || p.Remainder != 0 {
		t.Errorf("got %+v", p)
	}
}

func TestBondingCurve_PurchaseIsMaximal(t *testing.T) {
	c := mustCurve(t, 7_919, 25_000)

	for _, start := range []int64{0, 3, 50, 9_999} {
		for _, budget := range []int64{1, 8_000, 100_000, 5_000_000, 987_654_321} {
			p := c.Purchase(budget, start)

			cost, _ := c.SeriesCost(start, p.Count)
			if cost != p.TotalCost {
				t.Fatalf("start=%d budget=%d: total cost %d != series %d", start, budget, p.TotalCost, cost)
			}
			if p.TotalCost > budget {
				t.Fatalf("start=%d budget=%d: cost %d exceeds budget", start, budget, p.TotalCost)
			}
			if p.TotalCost+p.Remainder != budget {
				t.Fatalf("start=%d budget=%d: cost+remainder != budget", start, budget)
			}
			next, _ := c.SeriesCost(start, p.Count+1)
			if next <= budget {
				t.Fatalf("start=%d budget=%d: count %d not maximal", start, budget, p.Count)
			}
		}
	}
}

func TestBondingCurve_PurchaseLargeBudgetIsBounded(t *testing.T) {
	// A per-slot loop would need ~1.4e6 iterations here.
	c := mustCurve(t, 1, 0)
	budget := int64(1_000_000_000_000)

	p := c.Purchase(budget, 0)
	if p.Count < 1_000_000 {
		t.Fatalf("expected a very large count, got %d", p.Count)
	}
	next, _ := c.SeriesCost(0, p.Count+1)
	if next <= budget {
		t.Errorf("count %d not maximal", p.Count)
	}
}

func TestNewBondingCurve_RejectsInvalid(t *testing.T) {
	if _, err := fpmath.NewBondingCurve(0, onePercent); err == nil {
		t.Error("expected error for zero tick")
	}
	if _, err := fpmath.NewBondingCurve(one, -1); err == nil {
		t.Error("expected error for negative rate")
	}
}
