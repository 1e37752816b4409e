package persistence

import (
	"BondVault/internal/observability"
	"BondVault/internal/vault"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const replayPageSize = 1000

// RecoveryResult summarizes a startup recovery.
type RecoveryResult struct {
	SnapshotSequence int64 // 0 on a cold start
	Replayed         int64
	NextSequence     int64
	WarmedKeys       int
}

// Recover rebuilds ctrl from the latest verified snapshot plus the event log
// tail, validates the result, then warms the dedup LRU with up to warmKeys
// recent operation keys. ctrl must be freshly constructed and not yet driven
// by a runner.
func Recover(ctx context.Context, sm *SnapshotManager, ctrl *vault.Controller, warmKeys int, logger zerolog.Logger) (*RecoveryResult, error) {
	res := &RecoveryResult{}

	snap, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		vs, err := snap.ToVaultSnapshot()
		if err != nil {
			return nil, err
		}
		if err := ctrl.RestoreFromSnapshot(vs); err != nil {
			return nil, fmt.Errorf("restore snapshot: %w", err)
		}
		res.SnapshotSequence = snap.Sequence
		logger.Info().Int64("sequence", snap.Sequence).Int("positions", len(snap.Positions)).Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start")
	}

	from := ctrl.Sequence()
	for {
		rows, err := sm.LoadEventsFrom(ctx, from, replayPageSize)
		if err != nil {
			return nil, fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return nil, err
			}
			if err := ctrl.Replay(env); err != nil {
				return nil, err
			}
			res.Replayed++
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	if err := ctrl.FinishReplay(); err != nil {
		return nil, err
	}
	res.NextSequence = ctrl.Sequence()

	if warmKeys > 0 {
		keys, err := sm.RecentOperationKeys(ctx, warmKeys)
		if err != nil {
			// Tier-2 dedup still catches these on the DB path
			logger.Warn().Err(err).Msg("dedup LRU warm-up failed")
		} else {
			ctrl.WarmLRU(keys)
			res.WarmedKeys = len(keys)
		}
	}

	logger.Info().
		Int64("replayed", res.Replayed).
		Int64("next_sequence", res.NextSequence).
		Int("warmed_keys", res.WarmedKeys).
		Msg("recovery complete")
	return res, nil
}

// Snapshotter saves a snapshot every interval committed events. A saved
// snapshot stays unverified until the event at its sequence is durable;
// verification is retried on each check.
type Snapshotter struct {
	sm       *SnapshotManager
	runner   *vault.Runner
	interval int64
	check    time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger

	lastSeq int64
	pending *SnapshotData
}

func NewSnapshotter(sm *SnapshotManager, runner *vault.Runner, interval int64, check time.Duration, startSeq int64, metrics *observability.Metrics, logger zerolog.Logger) *Snapshotter {
	if interval <= 0 {
		interval = 100_000
	}
	if check <= 0 {
		check = 10 * time.Second
	}
	return &Snapshotter{
		sm:       sm,
		runner:   runner,
		interval: interval,
		check:    check,
		lastSeq:  startSeq,
		metrics:  metrics,
		logger:   logger,
	}
}

func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.check)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("periodic snapshot failed")
			}
		}
	}
}

// Tick verifies a pending snapshot, then takes a new one if enough events
// were committed since the last.
func (s *Snapshotter) Tick(ctx context.Context) error {
	if s.pending != nil {
		ok, err := s.sm.VerifySnapshot(ctx, s.pending.Sequence, s.pending.StateHash)
		if err != nil {
			s.pending = nil
			return err
		}
		if !ok {
			return nil
		}
		s.logger.Info().Int64("sequence", s.pending.Sequence).Msg("snapshot verified")
		s.pending = nil
	}

	snap, err := vault.Call(ctx, s.runner, func(_ context.Context, c *vault.Controller) (*vault.SnapshotState, error) {
		if c.Sequence()-1-s.lastSeq < s.interval {
			return nil, nil
		}
		return c.CreateSnapshotState(), nil
	})
	if err != nil || snap == nil {
		return err
	}

	data, err := s.Save(ctx, snap)
	if err != nil {
		return err
	}
	s.lastSeq = data.Sequence
	s.pending = data
	return nil
}

// Save stores snap unverified and records snapshot metrics.
func (s *Snapshotter) Save(ctx context.Context, snap *vault.SnapshotState) (*SnapshotData, error) {
	start := time.Now()
	data := FromVaultSnapshot(snap, start.UTC())
	size, err := s.sm.SaveSnapshot(ctx, data)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(data.Sequence))
	}
	s.logger.Info().Int64("sequence", data.Sequence).Int("bytes", size).Msg("snapshot saved")
	return data, nil
}

// Final saves and verifies a snapshot of a stopped controller. Called on
// shutdown after the persistence worker has drained.
func (s *Snapshotter) Final(ctx context.Context, ctrl *vault.Controller) error {
	snap := ctrl.CreateSnapshotState()
	if snap.Sequence <= s.lastSeq && s.pending == nil {
		return nil
	}
	data, err := s.Save(ctx, snap)
	if err != nil {
		return err
	}
	ok, err := s.sm.VerifySnapshot(ctx, data.Sequence, data.StateHash)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("final snapshot %d: event not durable", data.Sequence)
	}
	return nil
}
