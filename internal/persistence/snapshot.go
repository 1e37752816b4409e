package persistence

import (
	"BondVault/internal/ledger"
	"BondVault/internal/state"
	"BondVault/internal/vault"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// snapshotFormatV1 is JSON-encoded SnapshotData
const snapshotFormatV1 = 1

// SnapshotManager saves and loads vault snapshots and reads the event log
// for replay.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the stored form of vault.SnapshotState.
type SnapshotData struct {
	Sequence        int64              `json:"sequence"`
	StateHash       []byte             `json:"state_hash"`
	Paused          bool               `json:"paused"`
	Curve           CurveSnap          `json:"curve"`
	NextCurveIndex  int64              `json:"next_curve_index"`
	Positions       []PositionSnapshot `json:"positions"`
	Balances        map[string]int64   `json:"balances"` // AccountPath -> balance
	TotalAccrued    int64              `json:"total_accrued"`
	DustPool        int64              `json:"dust_pool"`
	NextEpochID     int64              `json:"next_epoch_id"`
	IdempotencyKeys []string           `json:"idempotency_keys"`
	Checksum        []byte             `json:"checksum"`
	CreatedAt       time.Time          `json:"created_at"`
}

type CurveSnap struct {
	UnitTick     int64 `json:"unit_tick"`
	FeeRate      int64 `json:"fee_rate"`
	MinRate      int64 `json:"min_rate"`
	MaxRate      int64 `json:"max_rate"`
	EffectiveSeq int64 `json:"effective_seq"`
}

// PositionSnapshot is a serializable position. Owner is the indexed owner of
// an active position, empty for burned ones.
type PositionSnapshot struct {
	ID           uint64 `json:"id"`
	Owner        string `json:"owner,omitempty"`
	DepositValue int64  `json:"deposit_value"`
	IsMeta       bool   `json:"is_meta"`
	CurveStart   int64  `json:"curve_start"`
	CurveCount   int64  `json:"curve_count"`
	AccruedYield int64  `json:"accrued_yield"`
	SubAccount   string `json:"sub_account"`
	State        int32  `json:"state"`
	Version      int64  `json:"version"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// FromVaultSnapshot converts controller state to its stored form.
func FromVaultSnapshot(s *vault.SnapshotState, createdAt time.Time) *SnapshotData {
	data := &SnapshotData{
		Sequence:  s.Sequence,
		StateHash: append([]byte(nil), s.StateHash[:]...),
		Paused:    s.Paused,
		Curve: CurveSnap{
			UnitTick:     s.Curve.UnitTick,
			FeeRate:      s.Curve.FeeRate,
			MinRate:      s.Curve.MinRate,
			MaxRate:      s.Curve.MaxRate,
			EffectiveSeq: s.Curve.EffectiveSeq,
		},
		NextCurveIndex:  s.NextCurveIndex,
		Positions:       make([]PositionSnapshot, 0, len(s.Positions)),
		Balances:        make(map[string]int64, len(s.Balances)),
		TotalAccrued:    s.TotalAccrued,
		DustPool:        s.DustPool,
		NextEpochID:     s.NextEpochID,
		IdempotencyKeys: s.IdempotencyKeys,
		Checksum:        append([]byte(nil), s.Checksum[:]...),
		CreatedAt:       createdAt,
	}
	for _, pos := range s.Positions {
		ps := PositionSnapshot{
			ID:           pos.ID,
			DepositValue: pos.DepositValue,
			IsMeta:       pos.IsMeta,
			CurveStart:   pos.CurveStart,
			CurveCount:   pos.CurveCount,
			AccruedYield: pos.AccruedYield,
			SubAccount:   pos.SubAccount.Hex(),
			State:        int32(pos.State),
			Version:      pos.Version,
		}
		if owner, ok := s.Owners[pos.ID]; ok {
			ps.Owner = owner.Hex()
		}
		data.Positions = append(data.Positions, ps)
	}
	for key, balance := range s.Balances {
		data.Balances[key.AccountPath()] = balance
	}
	return data
}

// ToVaultSnapshot converts the stored form back for RestoreFromSnapshot.
func (d *SnapshotData) ToVaultSnapshot() (*vault.SnapshotState, error) {
	if len(d.StateHash) != 32 || len(d.Checksum) != 32 {
		return nil, fmt.Errorf("snapshot %d: malformed hash fields", d.Sequence)
	}

	s := &vault.SnapshotState{
		Sequence: d.Sequence,
		Paused:   d.Paused,
		Curve: state.CurveParams{
			UnitTick:     d.Curve.UnitTick,
			FeeRate:      d.Curve.FeeRate,
			MinRate:      d.Curve.MinRate,
			MaxRate:      d.Curve.MaxRate,
			EffectiveSeq: d.Curve.EffectiveSeq,
		},
		NextCurveIndex:  d.NextCurveIndex,
		Positions:       make([]*state.Position, 0, len(d.Positions)),
		Owners:          make(map[state.PositionID]common.Address),
		Balances:        make(map[ledger.AccountKey]int64, len(d.Balances)),
		TotalAccrued:    d.TotalAccrued,
		DustPool:        d.DustPool,
		NextEpochID:     d.NextEpochID,
		IdempotencyKeys: d.IdempotencyKeys,
	}
	copy(s.StateHash[:], d.StateHash)
	copy(s.Checksum[:], d.Checksum)

	for _, ps := range d.Positions {
		if !common.IsHexAddress(ps.SubAccount) {
			return nil, fmt.Errorf("snapshot %d: position %d: bad sub-account %q", d.Sequence, ps.ID, ps.SubAccount)
		}
		s.Positions = append(s.Positions, &state.Position{
			ID:           ps.ID,
			DepositValue: ps.DepositValue,
			IsMeta:       ps.IsMeta,
			CurveStart:   ps.CurveStart,
			CurveCount:   ps.CurveCount,
			AccruedYield: ps.AccruedYield,
			SubAccount:   common.HexToAddress(ps.SubAccount),
			State:        state.PositionState(ps.State),
			Version:      ps.Version,
		})
		if ps.Owner != "" {
			if !common.IsHexAddress(ps.Owner) {
				return nil, fmt.Errorf("snapshot %d: position %d: bad owner %q", d.Sequence, ps.ID, ps.Owner)
			}
			s.Owners[ps.ID] = common.HexToAddress(ps.Owner)
		}
	}
	for path, balance := range d.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", d.Sequence, err)
		}
		s.Balances[key] = balance
	}
	return s, nil
}

// SaveSnapshot stores snap unverified; VerifySnapshot promotes it once the
// event log holds its sequence.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO vault.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, snap.StateHash, snapshotFormatV1, len(data), snap.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("save snapshot %d: %w", snap.Sequence, err)
	}
	return len(data), nil
}

// VerifySnapshot marks the snapshot at sequence verified if the logged event
// at that sequence carries the same state hash. Returns false when the event
// is not yet persisted.
func (sm *SnapshotManager) VerifySnapshot(ctx context.Context, sequence int64, stateHash []byte) (bool, error) {
	if sequence > 0 {
		var logged []byte
		err := sm.db.QueryRowContext(ctx,
			`SELECT state_hash FROM vault.events WHERE sequence = $1`, sequence,
		).Scan(&logged)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("verify snapshot %d: %w", sequence, err)
		}
		if !bytes.Equal(logged, stateHash) {
			return false, fmt.Errorf("verify snapshot %d: state hash differs from event log", sequence)
		}
	}

	if _, err := sm.db.ExecContext(ctx,
		`UPDATE vault.snapshots SET verified = TRUE WHERE sequence = $1`, sequence,
	); err != nil {
		return false, fmt.Errorf("mark snapshot %d verified: %w", sequence, err)
	}
	return true, nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var (
		data    []byte
		version int
	)
	err := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM vault.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatV1 {
		return nil, fmt.Errorf("load snapshot: unsupported format version %d", version)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// LoadEventsFrom loads up to limit events with sequence >= fromSequence, in
// order, for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, op, operation_id, event_type, position_id,
		       payload, state_hash, prev_hash, timestamp
		FROM vault.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var (
			e   EventRow
			pid sql.NullInt64
		)
		if err := rows.Scan(
			&e.Sequence, &e.Op, &e.OperationID, &e.EventType, &pid,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		if pid.Valid {
			id := pid.Int64
			e.PositionID = &id
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or 0.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM vault.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// RecentOperationKeys returns "op:operation_id" keys of the newest events,
// oldest first, for warming the dedup LRU.
func (sm *SnapshotManager) RecentOperationKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT op, operation_id FROM (
			SELECT DISTINCT ON (op, operation_id) op, operation_id, sequence
			FROM vault.events
			WHERE operation_id <> ''
			ORDER BY op, operation_id, sequence DESC
		) k
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var op, id string
		if err := rows.Scan(&op, &id); err != nil {
			return nil, err
		}
		keys = append(keys, op+":"+id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys, nil
}
