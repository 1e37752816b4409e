package projection

import (
	"BondVault/internal/event"
	"BondVault/internal/observability"
	"BondVault/internal/vault"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const workerID = "main"

// ProjectionWorker updates the queryable position and epoch tables from
// committed events. The projection channel is non-blocking with drop on the
// core side; a worker that fell behind is brought back with Rebuild.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan vault.Output
	claims    *ClaimHistory
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan vault.Output, claims *ClaimHistory, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		claims:    claims,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if err := pw.Apply(ctx, out.Envelope, out.Event); err != nil {
				// Projections are eventually consistent and rebuilt from the log
				pw.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("projection update failed")
				if pw.metrics != nil {
					pw.metrics.ProjectionErrors.WithLabelValues("positions").Inc()
				}
			}
		}
	}
}

// LastSequence is the last sequence applied by this worker.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// Apply projects one event in its own transaction, then moves the watermark.
// Events at or below the watermark are skipped.
func (pw *ProjectionWorker) Apply(ctx context.Context, env *event.EventEnvelope, evt event.Event) error {
	if env.Sequence <= pw.lastSeq {
		return nil
	}
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := pw.project(ctx, tx, env, evt); err != nil {
		return fmt.Errorf("%s projection: %w", env.EventType, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vault.projection_watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, workerID, env.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	pw.lastSeq = env.Sequence
	pw.claims.Observe(env, evt)
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("positions").Observe(time.Since(start).Seconds())
	}
	return nil
}

func (pw *ProjectionWorker) project(ctx context.Context, tx *sql.Tx, env *event.EventEnvelope, evt event.Event) error {
	seq := env.Sequence
	switch e := evt.(type) {
	case *event.Deposited:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO vault.positions
				(position_id, depositor, state, deposit_value, is_meta, curve_start, curve_count, sub_account, last_sequence, updated_at)
			VALUES ($1, $2, 'Active', $3, FALSE, $4, $5, $6, $7, NOW())
			ON CONFLICT (position_id) DO UPDATE SET
				depositor = EXCLUDED.depositor, state = 'Active', deposit_value = EXCLUDED.deposit_value,
				is_meta = FALSE, curve_start = EXCLUDED.curve_start, curve_count = EXCLUDED.curve_count,
				accrued_yield = 0, claimed_yield = 0,
				sub_account = EXCLUDED.sub_account, last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
		`, int64(e.Position), e.Depositor.Hex(), e.Deposit, e.CurveStart, e.CurveCount, e.SubAccount.Hex(), seq)
		return err

	case *event.MetaPositionMinted:
		_, err := tx.ExecContext(ctx, `
			UPDATE vault.positions SET is_meta = TRUE, last_sequence = $2, updated_at = NOW()
			WHERE position_id = $1
		`, int64(e.Position), seq)
		return err

	case *event.YieldDistributed:
		var credited int64
		for _, c := range e.Credits {
			credited += c.Amount
			if _, err := tx.ExecContext(ctx, `
				UPDATE vault.positions SET accrued_yield = accrued_yield + $2, last_sequence = $3, updated_at = NOW()
				WHERE position_id = $1
			`, int64(c.Position), c.Amount, seq); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO vault.yield_epochs
				(epoch_id, sequence, total_amount, total_locked, credited, dust, credit_count, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (epoch_id) DO NOTHING
		`, e.EpochID, seq, e.TotalAmount, e.TotalLocked, credited, e.Dust, len(e.Credits), env.Timestamp)
		return err

	case *event.YieldClaimed:
		_, err := tx.ExecContext(ctx, `
			UPDATE vault.positions
			SET accrued_yield = accrued_yield - $2, claimed_yield = claimed_yield + $2, last_sequence = $3, updated_at = NOW()
			WHERE position_id = $1
		`, int64(e.Position), e.Amount, seq)
		return err

	case *event.Withdrawn:
		_, err := tx.ExecContext(ctx, `
			UPDATE vault.positions
			SET state = 'Burned', deposit_value = 0, accrued_yield = 0,
				claimed_yield = claimed_yield + $2, last_sequence = $3, updated_at = NOW()
			WHERE position_id = $1
		`, int64(e.Position), e.AccruedYield, seq)
		return err

	default:
		// Vault-wide admin events only move the watermark
		return nil
	}
}

// Rebuild truncates the projection tables and replays the event log through
// Apply. load returns up to limit envelopes with sequence >= from.
func (pw *ProjectionWorker) Rebuild(ctx context.Context, load func(ctx context.Context, from int64, limit int) ([]*event.EventEnvelope, error)) error {
	for _, stmt := range []string{
		`TRUNCATE vault.positions`,
		`TRUNCATE vault.yield_epochs`,
		`DELETE FROM vault.projection_watermark WHERE worker_id = 'main'`,
	} {
		if _, err := pw.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}
	pw.lastSeq = 0
	pw.claims.Reset()

	const page = 1000
	from := int64(1)
	applied := 0
	for {
		envs, err := load(ctx, from, page)
		if err != nil {
			return fmt.Errorf("load events from %d: %w", from, err)
		}
		for _, env := range envs {
			evt, err := event.Decode(env.EventType, env.Payload)
			if err != nil {
				return fmt.Errorf("decode seq %d: %w", env.Sequence, err)
			}
			if err := pw.Apply(ctx, env, evt); err != nil {
				return fmt.Errorf("apply seq %d: %w", env.Sequence, err)
			}
			from = env.Sequence + 1
			applied++
		}
		if len(envs) < page {
			break
		}
	}

	pw.logger.Info().Int("events", applied).Int64("last_sequence", pw.lastSeq).Msg("projection rebuild complete")
	return nil
}
