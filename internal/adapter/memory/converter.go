package memory

import (
	fpmath "BondVault/internal/math"
	"context"
	"fmt"
	"sync"
)

// Swap records one SwapToReserve call
type Swap struct {
	Asset   string
	Amount  int64
	Routing []byte
	Reserve int64
}

// Converter prices assets from a fixed table. A price is the value of one
// asset unit in the unit of account at value scale (1_000_000 = 1.0).
type Converter struct {
	injector

	mu     sync.Mutex
	prices map[string]int64
	swaps  []Swap
}

func NewConverter(prices map[string]int64) *Converter {
	cp := make(map[string]int64, len(prices))
	for asset, p := range prices {
		cp[asset] = p
	}
	return &Converter{prices: cp}
}

func (c *Converter) SetPrice(asset string, price int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[asset] = price
}

func (c *Converter) value(asset string, amount int64) (int64, error) {
	c.mu.Lock()
	price, ok := c.prices[asset]
	c.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("price %s: %w", asset, ErrUnknownAsset)
	}
	return fpmath.MulDiv(amount, price, fpmath.ValueConfig.Scale, fpmath.RoundDown), nil
}

func (c *Converter) ToUnitOfAccount(ctx context.Context, asset string, amount int64) (int64, error) {
	if err := c.intercept(ctx, "ToUnitOfAccount"); err != nil {
		return 0, err
	}
	return c.value(asset, amount)
}

// SwapToReserve converts at the table price with no slippage.
func (c *Converter) SwapToReserve(ctx context.Context, asset string, amount int64, routing []byte) (int64, error) {
	if err := c.intercept(ctx, "SwapToReserve"); err != nil {
		return 0, err
	}
	reserve, err := c.value(asset, amount)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.swaps = append(c.swaps, Swap{Asset: asset, Amount: amount, Routing: append([]byte(nil), routing...), Reserve: reserve})
	c.mu.Unlock()
	return reserve, nil
}

// Swaps returns the swap log.
func (c *Converter) Swaps() []Swap {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Swap, len(c.swaps))
	copy(out, c.swaps)
	return out
}
