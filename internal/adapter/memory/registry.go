package memory

import (
	"BondVault/internal/state"
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry is an ERC-721 style ownership registry. Ids start at 1 and are
// never reused.
type Registry struct {
	injector

	mu       sync.Mutex
	nextID   state.PositionID
	owners   map[state.PositionID]common.Address
	burned   map[state.PositionID]common.Address
	balances map[common.Address]int
}

func NewRegistry() *Registry {
	return &Registry{
		nextID:   1,
		owners:   make(map[state.PositionID]common.Address),
		burned:   make(map[state.PositionID]common.Address),
		balances: make(map[common.Address]int),
	}
}

func (r *Registry) Mint(ctx context.Context, to common.Address) (state.PositionID, error) {
	if err := r.intercept(ctx, "Mint"); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.owners[id] = to
	r.balances[to]++
	return id, nil
}

func (r *Registry) Burn(ctx context.Context, id state.PositionID) error {
	if err := r.intercept(ctx, "Burn"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[id]
	if !ok {
		return fmt.Errorf("burn %d: %w", id, ErrTokenNotFound)
	}
	delete(r.owners, id)
	r.burned[id] = owner
	r.balances[owner]--
	return nil
}

// Reissue restores a burned token to to.
func (r *Registry) Reissue(ctx context.Context, id state.PositionID, to common.Address) error {
	if err := r.intercept(ctx, "Reissue"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.burned[id]; !ok {
		return fmt.Errorf("reissue %d: %w", id, ErrTokenNotFound)
	}
	delete(r.burned, id)
	r.owners[id] = to
	r.balances[to]++
	return nil
}

// Seed records id as held by owner, or as burned when live is false, and
// moves the id counter past it. Aligns a fresh registry with recovered state.
func (r *Registry) Seed(id state.PositionID, owner common.Address, live bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if live {
		r.owners[id] = owner
		r.balances[owner]++
	} else {
		r.burned[id] = owner
	}
	if id >= r.nextID {
		r.nextID = id + 1
	}
}

func (r *Registry) OwnerOf(ctx context.Context, id state.PositionID) (common.Address, error) {
	if err := r.intercept(ctx, "OwnerOf"); err != nil {
		return common.Address{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[id]
	if !ok {
		return common.Address{}, fmt.Errorf("owner of %d: %w", id, ErrTokenNotFound)
	}
	return owner, nil
}

// Transfer moves id from from to to. The vault is never notified.
func (r *Registry) Transfer(ctx context.Context, from, to common.Address, id state.PositionID) error {
	if err := r.intercept(ctx, "Transfer"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[id]
	if !ok {
		return fmt.Errorf("transfer %d: %w", id, ErrTokenNotFound)
	}
	if owner != from {
		return fmt.Errorf("transfer %d from %s: %w", id, from.Hex(), ErrNotTokenOwner)
	}
	r.owners[id] = to
	r.balances[from]--
	r.balances[to]++
	return nil
}

// BalanceOf returns the number of live tokens held by owner.
func (r *Registry) BalanceOf(owner common.Address) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[owner]
}

// Exists reports whether id is minted and not burned.
func (r *Registry) Exists(id state.PositionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.owners[id]
	return ok
}
