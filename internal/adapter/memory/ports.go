package memory

import (
	"BondVault/internal/state"
	"BondVault/internal/vault"
)

// Set is one of each adapter, wired as vault ports
type Set struct {
	Registry  *Registry
	Binder    *Binder
	Converter *Converter
	Treasury  *Treasury
}

// NewSet builds adapters with the given price table.
func NewSet(prices map[string]int64) *Set {
	return &Set{
		Registry:  NewRegistry(),
		Binder:    NewBinder("BondVault:subaccount:v1"),
		Converter: NewConverter(prices),
		Treasury:  NewTreasury(),
	}
}

// Seed aligns the registry with a recovered vault: indexed owners for active
// positions, burned ids for the rest.
func (s *Set) Seed(snap *vault.SnapshotState) {
	for _, pos := range snap.Positions {
		owner, live := snap.Owners[pos.ID]
		s.Registry.Seed(pos.ID, owner, live && pos.State == state.PositionStateActive)
	}
}

func (s *Set) Ports() vault.Ports {
	return vault.Ports{
		Converter: s.Converter,
		Registry:  s.Registry,
		Binder:    s.Binder,
		Treasury:  s.Treasury,
	}
}
