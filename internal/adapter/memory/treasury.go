package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Payout records one unit-of-account payment
type Payout struct {
	To    common.Address
	Value int64
}

// Treasury holds per-address asset balances for collection and a running
// total of unit-of-account payouts per address.
type Treasury struct {
	injector

	mu       sync.Mutex
	balances map[common.Address]map[string]int64
	vault    map[string]int64
	paid     map[common.Address]int64
	payouts  []Payout
	faucet   int64
}

func NewTreasury() *Treasury {
	return &Treasury{
		balances: make(map[common.Address]map[string]int64),
		vault:    make(map[string]int64),
		paid:     make(map[common.Address]int64),
	}
}

// Fund gives addr amount of asset to deposit with.
func (t *Treasury) Fund(addr common.Address, asset string, amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(addr, asset, amount)
}

// EnableFaucet credits amount of an asset to any address collecting it for
// the first time.
func (t *Treasury) EnableFaucet(amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.faucet = amount
}

func (t *Treasury) credit(addr common.Address, asset string, amount int64) {
	if t.balances[addr] == nil {
		t.balances[addr] = make(map[string]int64)
	}
	t.balances[addr][asset] += amount
}

// Collect debits the caller and credits the vault.
func (t *Treasury) Collect(ctx context.Context, from common.Address, asset string, amount int64) error {
	if err := t.intercept(ctx, "Collect"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, seen := t.balances[from][asset]; !seen && t.faucet > 0 {
		t.credit(from, asset, t.faucet)
	}
	if t.balances[from][asset] < amount {
		return fmt.Errorf("collect %d %s from %s: %w", amount, asset, from.Hex(), ErrInsufficientFunds)
	}
	t.balances[from][asset] -= amount
	t.vault[asset] += amount
	return nil
}

func (t *Treasury) Release(ctx context.Context, to common.Address, asset string, amount int64) error {
	if err := t.intercept(ctx, "Release"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.vault[asset] < amount {
		return fmt.Errorf("release %d %s: %w", amount, asset, ErrInsufficientFunds)
	}
	t.vault[asset] -= amount
	t.credit(to, asset, amount)
	return nil
}

func (t *Treasury) Pay(ctx context.Context, to common.Address, value int64) error {
	if err := t.intercept(ctx, "Pay"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.paid[to] += value
	t.payouts = append(t.payouts, Payout{To: to, Value: value})
	return nil
}

func (t *Treasury) Recover(ctx context.Context, from common.Address, value int64) error {
	if err := t.intercept(ctx, "Recover"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.paid[from] < value {
		return fmt.Errorf("recover %d from %s: %w", value, from.Hex(), ErrInsufficientFunds)
	}
	t.paid[from] -= value
	t.payouts = append(t.payouts, Payout{To: from, Value: -value})
	return nil
}

// Balance returns addr's holding of asset.
func (t *Treasury) Balance(addr common.Address, asset string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[addr][asset]
}

// VaultBalance returns the vault's holding of asset.
func (t *Treasury) VaultBalance(asset string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vault[asset]
}

// Paid returns the net unit-of-account value paid to addr.
func (t *Treasury) Paid(addr common.Address) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paid[addr]
}

// Payouts returns the payment log, recoveries as negative entries.
func (t *Treasury) Payouts() []Payout {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Payout, len(t.payouts))
	copy(out, t.payouts)
	return out
}
