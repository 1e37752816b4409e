package memory

import (
	"BondVault/internal/state"
	"BondVault/internal/vault"
	"context"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ExecutedCall records one call forwarded through a sub-account
type ExecutedCall struct {
	PositionID state.PositionID
	Account    common.Address
	Target     common.Address
	Value      int64
	Data       []byte
}

// Binder keeps per-account multi-asset holdings. Account addresses are
// keccak256(salt || id) truncated to 20 bytes.
type Binder struct {
	injector

	mu       sync.Mutex
	salt     []byte
	holdings map[common.Address]map[string]int64
	received map[common.Address]map[string]int64
	calls    []ExecutedCall

	// Responder produces the return data of Execute (nil returns nil)
	Responder func(call ExecutedCall) ([]byte, error)
}

func NewBinder(salt string) *Binder {
	return &Binder{
		salt:     []byte(salt),
		holdings: make(map[common.Address]map[string]int64),
		received: make(map[common.Address]map[string]int64),
	}
}

func (b *Binder) derive(id state.PositionID) common.Address {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return common.BytesToAddress(crypto.Keccak256(b.salt, buf[:])[12:])
}

func (b *Binder) AddressFor(ctx context.Context, id state.PositionID) (common.Address, error) {
	if err := b.intercept(ctx, "AddressFor"); err != nil {
		return common.Address{}, err
	}
	return b.derive(id), nil
}

// Credit simulates a third-party transfer into account.
func (b *Binder) Credit(account common.Address, asset string, amount int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.holdings[account] == nil {
		b.holdings[account] = make(map[string]int64)
	}
	b.holdings[account][asset] += amount
}

// SweepAll moves every non-zero holding of the position's account to to,
// in asset name order.
func (b *Binder) SweepAll(ctx context.Context, id state.PositionID, to common.Address) ([]vault.AssetAmount, error) {
	if err := b.intercept(ctx, "SweepAll"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	account := b.derive(id)
	held := b.holdings[account]
	assets := make([]string, 0, len(held))
	for asset, amount := range held {
		if amount > 0 {
			assets = append(assets, asset)
		}
	}
	sort.Strings(assets)

	swept := make([]vault.AssetAmount, 0, len(assets))
	for _, asset := range assets {
		amount := held[asset]
		swept = append(swept, vault.AssetAmount{Asset: asset, Amount: amount})
		if b.received[to] == nil {
			b.received[to] = make(map[string]int64)
		}
		b.received[to][asset] += amount
		delete(held, asset)
	}
	return swept, nil
}

func (b *Binder) Execute(ctx context.Context, id state.PositionID, target common.Address, value int64, data []byte) ([]byte, error) {
	if err := b.intercept(ctx, "Execute"); err != nil {
		return nil, err
	}
	call := ExecutedCall{
		PositionID: id,
		Account:    b.derive(id),
		Target:     target,
		Value:      value,
		Data:       append([]byte(nil), data...),
	}
	b.mu.Lock()
	b.calls = append(b.calls, call)
	responder := b.Responder
	b.mu.Unlock()

	if responder == nil {
		return nil, nil
	}
	return responder(call)
}

// Holding returns what account holds of asset.
func (b *Binder) Holding(account common.Address, asset string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.holdings[account][asset]
}

// Received returns what to has been swept of asset.
func (b *Binder) Received(to common.Address, asset string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.received[to][asset]
}

// Calls returns the executed-call log.
func (b *Binder) Calls() []ExecutedCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ExecutedCall, len(b.calls))
	copy(out, b.calls)
	return out
}
