package vault

import (
	"BondVault/internal/errs"
	"BondVault/internal/ledger"
	"BondVault/internal/state"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// SnapshotState is the full in-memory state at a sequence boundary
type SnapshotState struct {
	Sequence        int64 // last committed sequence
	StateHash       [32]byte
	Paused          bool
	Curve           state.CurveParams
	NextCurveIndex  int64
	Positions       []*state.Position // active and burned, by id
	Owners          map[state.PositionID]common.Address
	Balances        map[ledger.AccountKey]int64
	TotalAccrued    int64
	DustPool        int64
	NextEpochID     int64
	IdempotencyKeys []string

	// Digest of the position records, checked on restore
	Checksum [32]byte
}

// CreateSnapshotState captures the current state for persistence.
func (c *Controller) CreateSnapshotState() *SnapshotState {
	active := c.positions.ActivePositions()
	burned := c.positions.BurnedPositions()

	positions := make([]*state.Position, 0, len(active)+len(burned))
	owners := make(map[state.PositionID]common.Address, len(active))
	for _, pos := range active {
		positions = append(positions, pos.Clone())
		if owner, ok := c.positions.IndexedOwner(pos.ID); ok {
			owners[pos.ID] = owner
		}
	}
	for _, pos := range burned {
		positions = append(positions, pos.Clone())
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].ID < positions[j].ID
	})

	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Paused:          c.paused,
		Curve:           c.curve.Params(),
		NextCurveIndex:  c.positions.NextCurveIndex(),
		Positions:       positions,
		Owners:          owners,
		Balances:        c.balances.Snapshot(),
		TotalAccrued:    c.yield.TotalAccrued(),
		DustPool:        c.yield.DustPool(),
		NextEpochID:     c.yield.NextEpochID(),
		IdempotencyKeys: c.idempotency.LRU().Keys(),
		Checksum:        positionsChecksum(positions),
	}
}

// RestoreFromSnapshot loads snap into a freshly constructed controller and
// verifies it before any operation runs.
func (c *Controller) RestoreFromSnapshot(snap *SnapshotState) error {
	if c.sequence != 1 || c.positions.ActiveCount() != 0 {
		return fmt.Errorf("restore into a used controller: %w", errs.ErrInternal)
	}
	if got := positionsChecksum(snap.Positions); got != snap.Checksum {
		return fmt.Errorf("snapshot %d: position checksum mismatch: %w", snap.Sequence, errs.ErrInternal)
	}

	curve, err := state.NewCurveParamsManager(snap.Curve)
	if err != nil {
		return fmt.Errorf("snapshot %d: %w", snap.Sequence, err)
	}
	c.curve = curve

	for _, pos := range snap.Positions {
		c.positions.SetPosition(pos.Clone(), snap.Owners[pos.ID])
	}
	c.positions.SetNextCurveIndex(snap.NextCurveIndex)
	c.yield.RestoreTotals(snap.TotalAccrued, snap.DustPool, snap.NextEpochID)
	for key, balance := range snap.Balances {
		c.balances.SetBalance(key, balance)
	}

	c.paused = snap.Paused
	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	c.idempotency.LRU().WarmFromKeys(snap.IdempotencyKeys)
	c.lastFullCheck = c.sequence

	if err := c.ValidateAll(); err != nil {
		return fmt.Errorf("snapshot %d: %w", snap.Sequence, err)
	}
	c.recordState()
	return nil
}

func positionsChecksum(positions []*state.Position) [32]byte {
	h := sha256.New()
	for _, pos := range positions {
		h.Write(pos.CanonicalBytes())
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
