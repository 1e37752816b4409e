package state

import (
	"BondVault/internal/errs"
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Minter issues ownership tokens for new positions.
type Minter interface {
	Mint(ctx context.Context, to common.Address) (PositionID, error)
}

// CurveRange is a half-open slot range [Start, Start+Count)
type CurveRange struct {
	Start int64
	Count int64
}

// PositionLedger is the source of truth for position records, the active set,
// the owner index, the running locked-value total and the curve counter.
// Not thread-safe; only accessed from the single-threaded vault core.
type PositionLedger struct {
	minter Minter

	positions map[PositionID]*Position // active
	burned    map[PositionID]*Position // terminal, kept for lookups and range retirement

	ownerIndex   map[common.Address][]PositionID
	indexedOwner map[PositionID]common.Address

	totalLocked    int64
	nextCurveIndex int64
}

func NewPositionLedger(minter Minter) *PositionLedger {
	return &PositionLedger{
		minter:       minter,
		positions:    make(map[PositionID]*Position),
		burned:       make(map[PositionID]*Position),
		ownerIndex:   make(map[common.Address][]PositionID),
		indexedOwner: make(map[PositionID]common.Address),
	}
}

// CreatePosition mints an ownership token for owner and records a position
// covering [curveStart, curveStart+curveCount). The range must start exactly at
// the curve counter so that ranges stay contiguous.
func (pl *PositionLedger) CreatePosition(
	ctx context.Context,
	owner common.Address,
	curveStart int64,
	curveCount int64,
	depositValue int64,
) (*Position, error) {
	if curveCount < 1 || depositValue <= 0 {
		return nil, fmt.Errorf("create position count=%d value=%d: %w", curveCount, depositValue, errs.ErrInvalidAmount)
	}
	if curveStart != pl.nextCurveIndex {
		return nil, fmt.Errorf("create position at %d, counter at %d: %w", curveStart, pl.nextCurveIndex, errs.ErrCurveNotContiguous)
	}

	id, err := pl.minter.Mint(ctx, owner)
	if err != nil {
		return nil, errs.External("mint position", err)
	}
	if _, exists := pl.positions[id]; exists {
		return nil, fmt.Errorf("registry returned live id %d: %w", id, errs.ErrInternal)
	}
	if _, exists := pl.burned[id]; exists {
		return nil, fmt.Errorf("registry reissued burned id %d: %w", id, errs.ErrInternal)
	}

	pos := &Position{
		ID:           id,
		DepositValue: depositValue,
		IsMeta:       curveCount > 1,
		CurveStart:   curveStart,
		CurveCount:   curveCount,
		State:        PositionStateActive,
		Version:      1,
	}

	pl.positions[id] = pos
	pl.addToIndex(owner, id)
	pl.totalLocked += depositValue
	pl.nextCurveIndex += curveCount

	return pos, nil
}

// DiscardPosition reverses CreatePosition within the same atomic operation.
// The curve counter is rewound only when pos is the most recent issuance.
func (pl *PositionLedger) DiscardPosition(id PositionID) {
	pos, ok := pl.positions[id]
	if !ok {
		return
	}
	delete(pl.positions, id)
	pl.removeFromIndex(id)
	pl.totalLocked -= pos.DepositValue
	if pos.CurveEnd() == pl.nextCurveIndex {
		pl.nextCurveIndex = pos.CurveStart
	}
}

// BindSubAccount records the position's programmable account
func (pl *PositionLedger) BindSubAccount(id PositionID, addr common.Address) error {
	pos, ok := pl.positions[id]
	if !ok {
		return fmt.Errorf("bind position %d: %w", id, errs.ErrUnknownPosition)
	}
	pos.SubAccount = addr
	pos.Version++
	return nil
}

// RemovePosition zeroes the position's value, removes it from the active set
// and the owner index, and retires its curve range. Returns the record as it
// was before removal.
func (pl *PositionLedger) RemovePosition(id PositionID) (*Position, error) {
	if _, gone := pl.burned[id]; gone {
		return nil, fmt.Errorf("remove position %d: %w", id, errs.ErrAlreadyWithdrawn)
	}
	pos, ok := pl.positions[id]
	if !ok {
		return nil, fmt.Errorf("remove position %d: %w", id, errs.ErrUnknownPosition)
	}
	if pos.DepositValue == 0 || !pos.State.CanTransitionTo(PositionStateBurned) {
		return nil, fmt.Errorf("remove position %d: %w", id, errs.ErrAlreadyWithdrawn)
	}

	prev := pos.Clone()

	pl.totalLocked -= pos.DepositValue
	pos.DepositValue = 0
	pos.AccruedYield = 0
	pos.State = PositionStateBurned
	pos.Version++

	delete(pl.positions, id)
	pl.removeFromIndex(id)
	pl.burned[id] = pos

	return prev, nil
}

// RestorePosition undoes RemovePosition within the same atomic operation.
func (pl *PositionLedger) RestorePosition(prev *Position, owner common.Address) {
	delete(pl.burned, prev.ID)
	pos := prev.Clone()
	pos.Version++
	pl.positions[pos.ID] = pos
	pl.addToIndex(owner, pos.ID)
	pl.totalLocked += pos.DepositValue
}

// GetPosition returns an active position
func (pl *PositionLedger) GetPosition(id PositionID) (*Position, bool) {
	pos, ok := pl.positions[id]
	return pos, ok
}

// Lookup returns a position in any lifecycle state
func (pl *PositionLedger) Lookup(id PositionID) (*Position, bool) {
	if pos, ok := pl.positions[id]; ok {
		return pos, true
	}
	pos, ok := pl.burned[id]
	return pos, ok
}

// IsBurned reports whether id was withdrawn
func (pl *PositionLedger) IsBurned(id PositionID) bool {
	_, ok := pl.burned[id]
	return ok
}

// GetMetaInfo returns the curve coverage of an active or burned position
func (pl *PositionLedger) GetMetaInfo(id PositionID) (isMeta bool, curveCount int64, curveStart int64, err error) {
	pos, ok := pl.Lookup(id)
	if !ok {
		return false, 0, 0, fmt.Errorf("meta info %d: %w", id, errs.ErrUnknownPosition)
	}
	return pos.IsMeta, pos.CurveCount, pos.CurveStart, nil
}

// ActivePositions returns active positions sorted by id
func (pl *PositionLedger) ActivePositions() []*Position {
	result := make([]*Position, 0, len(pl.positions))
	for _, pos := range pl.positions {
		result = append(result, pos)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// BurnedPositions returns withdrawn positions sorted by id
func (pl *PositionLedger) BurnedPositions() []*Position {
	result := make([]*Position, 0, len(pl.burned))
	for _, pos := range pl.burned {
		result = append(result, pos)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// IndexedPositions returns the ids indexed under owner. The index reflects the
// owner last observed by the engine; callers filter by the live owner.
func (pl *PositionLedger) IndexedPositions(owner common.Address) []PositionID {
	ids := pl.ownerIndex[owner]
	result := make([]PositionID, len(ids))
	copy(result, ids)
	return result
}

// IndexedOwner returns the owner an active position is indexed under
func (pl *PositionLedger) IndexedOwner(id PositionID) (common.Address, bool) {
	owner, ok := pl.indexedOwner[id]
	return owner, ok
}

// Reindex moves id under liveOwner if a transfer happened since it was indexed.
func (pl *PositionLedger) Reindex(id PositionID, liveOwner common.Address) {
	current, ok := pl.indexedOwner[id]
	if !ok || current == liveOwner {
		return
	}
	pl.removeFromIndex(id)
	pl.addToIndex(liveOwner, id)
}

// OwnerIndex returns a copy of the owner index (for snapshot creation)
func (pl *PositionLedger) OwnerIndex() map[common.Address][]PositionID {
	result := make(map[common.Address][]PositionID, len(pl.ownerIndex))
	for owner, ids := range pl.ownerIndex {
		cp := make([]PositionID, len(ids))
		copy(cp, ids)
		result[owner] = cp
	}
	return result
}

func (pl *PositionLedger) TotalLocked() int64    { return pl.totalLocked }
func (pl *PositionLedger) NextCurveIndex() int64 { return pl.nextCurveIndex }
func (pl *PositionLedger) ActiveCount() int      { return len(pl.positions) }

func (pl *PositionLedger) addToIndex(owner common.Address, id PositionID) {
	pl.ownerIndex[owner] = append(pl.ownerIndex[owner], id)
	pl.indexedOwner[id] = owner
}

func (pl *PositionLedger) removeFromIndex(id PositionID) {
	owner, ok := pl.indexedOwner[id]
	if !ok {
		return
	}
	delete(pl.indexedOwner, id)

	ids := pl.ownerIndex[owner]
	for i, candidate := range ids {
		if candidate == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(pl.ownerIndex, owner)
	} else {
		pl.ownerIndex[owner] = ids
	}
}

// === Invariant Checks ===

// ValidateLockedSum checks sum(active DepositValue) == totalLocked (PL-01)
func (pl *PositionLedger) ValidateLockedSum() error {
	var sum int64
	for _, pos := range pl.positions {
		if pos.DepositValue <= 0 {
			return fmt.Errorf("active position %d has non-positive value %d", pos.ID, pos.DepositValue)
		}
		sum += pos.DepositValue
	}
	if sum != pl.totalLocked {
		return fmt.Errorf("sum of active deposit values %d != total locked %d", sum, pl.totalLocked)
	}
	return nil
}

// ValidateCurveTiling checks that active and retired ranges exactly tile
// [0, nextCurveIndex) with no gaps or overlaps (PL-02)
func (pl *PositionLedger) ValidateCurveTiling() error {
	ranges := make([]CurveRange, 0, len(pl.positions)+len(pl.burned))
	for _, pos := range pl.positions {
		ranges = append(ranges, CurveRange{Start: pos.CurveStart, Count: pos.CurveCount})
	}
	for _, pos := range pl.burned {
		ranges = append(ranges, CurveRange{Start: pos.CurveStart, Count: pos.CurveCount})
	}
	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].Start < ranges[j].Start
	})

	cursor := int64(0)
	for _, r := range ranges {
		if r.Count < 1 {
			return fmt.Errorf("range at %d has count %d", r.Start, r.Count)
		}
		if r.Start != cursor {
			if r.Start < cursor {
				return fmt.Errorf("curve overlap at %d (expected start %d)", r.Start, cursor)
			}
			return fmt.Errorf("curve gap [%d, %d)", cursor, r.Start)
		}
		cursor += r.Count
	}
	if cursor != pl.nextCurveIndex {
		return fmt.Errorf("ranges end at %d, counter at %d", cursor, pl.nextCurveIndex)
	}
	return nil
}

// ValidateInvariants runs all ledger checks
func (pl *PositionLedger) ValidateInvariants() error {
	if err := pl.ValidateLockedSum(); err != nil {
		return fmt.Errorf("PL-01: %w", err)
	}
	if err := pl.ValidateCurveTiling(); err != nil {
		return fmt.Errorf("PL-02: %w", err)
	}
	return nil
}

// --- Snapshot Restore ---

// SetPosition directly sets a position (used for snapshot restore)
func (pl *PositionLedger) SetPosition(pos *Position, owner common.Address) {
	if pos.State == PositionStateBurned {
		pl.burned[pos.ID] = pos
		return
	}
	pl.positions[pos.ID] = pos
	pl.addToIndex(owner, pos.ID)
	pl.totalLocked += pos.DepositValue
}

// SetNextCurveIndex directly sets the curve counter (used for snapshot restore)
func (pl *PositionLedger) SetNextCurveIndex(next int64) {
	pl.nextCurveIndex = next
}
