package persistence

import (
	"BondVault/internal/observability"
	"BondVault/internal/vault"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// It runs independently of the vault core. The core sends on the persist
// channel with a blocking send, so a stalled worker stalls the core and no
// event is lost.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan vault.Output
	publishChan  chan<- vault.Output // optional; fed only after a durable write
	batchSize    int
	flushTimeout time.Duration
	maxBackoff   time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan vault.Output,
	publishChan chan<- vault.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(),
		inputChan:    inputChan,
		publishChan:  publishChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		maxBackoff:   30 * time.Second,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. Returns when ctx is cancelled or the input channel
// is closed, after flushing what it holds.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := make([]vault.Output, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context, reason string) {
		if len(batch) == 0 {
			return
		}
		if err := pw.flushWithRetry(ctx, batch); err != nil {
			pw.logger.Error().Err(err).Str("reason", reason).Int("events", len(batch)).Msg("flush failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.Background(), "shutdown")
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				flush(context.Background(), "closed")
				return nil
			}
			batch = append(batch, out)
			if len(batch) >= pw.batchSize {
				flush(ctx, "full")
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			flush(ctx, "timeout")
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds.
// On cancellation it makes one last attempt with a background context.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch []vault.Output) error {
	backoff := 100 * time.Millisecond

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("events", len(batch)).Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := pw.Flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > pw.maxBackoff {
				backoff = pw.maxBackoff
			}
		}

		err := pw.Flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}
		pw.logger.Error().Err(err).Msg("persistence flush failed")
	}
}

// Flush writes one batch of outputs, events and journals in a single
// transaction, then hands them to the publish channel.
func (pw *PersistenceWorker) Flush(ctx context.Context, batch []vault.Output) error {
	if len(batch) == 0 {
		return nil
	}
	start := time.Now()

	events := make([]EventRow, 0, len(batch))
	var journals []JournalRow
	for _, out := range batch {
		row, js := RowsFromOutput(out)
		events = append(events, row)
		journals = append(journals, js...)
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, events); err != nil {
		pw.countError("write_events")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		pw.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
	}

	if pw.publishChan != nil {
		for _, out := range batch {
			select {
			case pw.publishChan <- out:
			default:
				if pw.metrics != nil {
					pw.metrics.PublishDrops.Inc()
				}
			}
		}
	}
	return nil
}

func (pw *PersistenceWorker) countError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
