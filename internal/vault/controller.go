package vault

import (
	"BondVault/internal/errs"
	"BondVault/internal/event"
	"BondVault/internal/ledger"
	fpmath "BondVault/internal/math"
	"BondVault/internal/observability"
	"BondVault/internal/state"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Config holds controller construction parameters
type Config struct {
	Admin common.Address
	Curve state.CurveParams

	// Capacity of the in-memory dedup cache
	LRUCapacity int

	// Run the full invariant sweep every N committed events (0 = 1000)
	FullCheckInterval int64
}

// Output is one committed event with its journal batch
type Output struct {
	Envelope *event.EventEnvelope
	Event    event.Event
	Batch    *ledger.Batch // nil for events that move no value
}

// Controller is the single-threaded vault core. Every public method must be
// called from the same goroutine (see Runner); collaborators may call back
// into it synchronously.
type Controller struct {
	admin    common.Address
	paused   bool
	sequence int64
	hasher   *StateHasher

	positions  *state.PositionLedger
	yield      *state.YieldAccountant
	curve      *state.CurveParamsManager
	balances   *ledger.BalanceTracker
	journalGen *ledger.JournalGenerator
	validator  *ledger.InvariantValidator

	idempotency *IdempotencyChecker
	guard       *inFlightGuard
	ports       Ports

	metrics *observability.Metrics
	logger  zerolog.Logger

	persistChan    chan<- Output
	projectionChan chan<- Output

	fullCheckInterval int64
	lastFullCheck     int64

	// Nesting depth of public operations on the call stack
	depth int
}

func NewController(
	cfg Config,
	ports Ports,
	persistChan, projectionChan chan<- Output,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*Controller, error) {
	if ports.Converter == nil || ports.Registry == nil || ports.Binder == nil || ports.Treasury == nil {
		return nil, errors.New("vault: all collaborator ports are required")
	}
	curve, err := state.NewCurveParamsManager(cfg.Curve)
	if err != nil {
		return nil, fmt.Errorf("vault: curve params: %w", err)
	}
	if cfg.LRUCapacity <= 0 {
		cfg.LRUCapacity = 1_000_000
	}
	if cfg.FullCheckInterval <= 0 {
		cfg.FullCheckInterval = 1000
	}

	balances := ledger.NewBalanceTracker()
	positions := state.NewPositionLedger(ports.Registry)

	return &Controller{
		admin:             cfg.Admin,
		sequence:          1,
		hasher:            NewStateHasher(),
		positions:         positions,
		yield:             state.NewYieldAccountant(positions, ports.Registry),
		curve:             curve,
		balances:          balances,
		journalGen:        ledger.NewJournalGenerator(balances),
		validator:         ledger.NewInvariantValidator(balances),
		idempotency:       NewIdempotencyChecker(cfg.LRUCapacity, dbChecker),
		guard:             newInFlightGuard(),
		ports:             ports,
		metrics:           metrics,
		logger:            logger,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
		fullCheckInterval: cfg.FullCheckInterval,
	}, nil
}

// enter/exit bracket every public operation
func (c *Controller) enter() time.Time {
	c.depth++
	return time.Now()
}

func (c *Controller) exit(op string, start time.Time, err error) {
	c.depth--
	if c.metrics == nil {
		return
	}
	if err != nil {
		c.metrics.CoreOpsRejected.WithLabelValues(op, errs.KindOf(err).String()).Inc()
		return
	}
	c.metrics.CoreOpsApplied.WithLabelValues(op).Inc()
	c.metrics.CoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// checkDuplicate rejects an operation id that already committed
func (c *Controller) checkDuplicate(ctx context.Context, op string, meta Meta) error {
	if meta.OperationID == "" {
		return nil
	}
	tier, err := c.idempotency.IsDuplicate(ctx, op, meta.OperationID)
	if err != nil {
		c.logger.Warn().Err(err).Str("op", op).Str("operation_id", meta.OperationID).
			Msg("event log dedup unavailable, checked LRU only")
		if c.metrics != nil {
			c.metrics.IdempotencyTier2Errors.Inc()
		}
	}
	if tier == "" {
		return nil
	}
	if c.metrics != nil {
		c.metrics.IdempotencyDuplicates.WithLabelValues(op, tier).Inc()
	}
	return fmt.Errorf("%s %q: %w", op, meta.OperationID, errs.ErrDuplicateOp)
}

func (c *Controller) markProcessed(op string, meta Meta) {
	if meta.OperationID == "" {
		return
	}
	c.idempotency.MarkProcessed(op, meta.OperationID)
}

func (c *Controller) requireAdmin(op string, caller common.Address) error {
	if caller != c.admin {
		return fmt.Errorf("%s by %s: %w", op, caller.Hex(), errs.ErrNotAdmin)
	}
	return nil
}

// abort rolls back an operation after a failed step and returns cause. A
// rollback that cannot complete leaves collaborators out of step with the
// engine, so it is reported as internal on top of cause.
func (c *Controller) abort(op string, undo *compensator, cause error) error {
	if len(undo.steps) == 0 {
		return cause
	}
	if c.metrics != nil {
		c.metrics.CoreCompensations.WithLabelValues(op).Inc()
	}
	if uerr := undo.rollback(); uerr != nil {
		c.logger.Error().Err(uerr).Str("op", op).Msg("rollback incomplete")
		return fmt.Errorf("%w (rollback incomplete: %w: %w)", cause, errs.ErrInternal, uerr)
	}
	return cause
}

// commit seals events into the log: assigns sequences, applies journals,
// chains hashes, runs post-checks and emits outputs. Any failure here means
// the engine and its ledger diverged, which is fatal.
func (c *Controller) commit(op string, meta Meta, evts ...event.Event) []Output {
	outputs := make([]Output, 0, len(evts))
	var touched []state.PositionID

	for _, evt := range evts {
		payload, err := event.Encode(evt)
		if err != nil {
			panic(fmt.Sprintf("FATAL: %s: %v", op, err))
		}
		seq := c.sequence
		batch, digest, err := c.applyJournal(seq, evt, payload)
		if err != nil {
			panic(fmt.Sprintf("FATAL: %s at sequence %d: %v", op, seq, err))
		}

		// Capture the tip before it advances
		prev := c.hasher.GetPrevHash()
		hash := c.hasher.ComputeHash(seq, digest)

		envelope := &event.EventEnvelope{
			Sequence:    seq,
			Op:          op,
			OperationID: meta.OperationID,
			EventType:   evt.EventType(),
			PositionID:  evt.PositionID(),
			Timestamp:   meta.Timestamp,
			Payload:     payload,
			StateHash:   hash,
			PrevHash:    prev,
		}
		outputs = append(outputs, Output{Envelope: envelope, Event: evt, Batch: batch})
		touched = append(touched, touchedBy(evt)...)
		c.sequence++
	}

	// Nested operations commit inside their parent; checks wait for the
	// outermost one so they never see a half-applied parent.
	if c.depth == 1 {
		if err := c.postCheck(touched); err != nil {
			panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
		}
	}

	c.emit(outputs)
	c.markProcessed(op, meta)
	c.recordState()
	return outputs
}

// applyJournal builds and applies the journal for evt and returns the digest
// fed into the hash chain.
func (c *Controller) applyJournal(seq int64, evt event.Event, payload []byte) (*ledger.Batch, []byte, error) {
	batch, err := c.journalFor(seq, evt)
	if err != nil {
		return nil, nil, err
	}
	if batch != nil {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			return nil, nil, fmt.Errorf("unbalanced batch: %w", err)
		}
		if err := c.balances.ApplyBatch(batch); err != nil {
			return nil, nil, fmt.Errorf("apply batch: %w", err)
		}
		if c.metrics != nil {
			for _, j := range batch.Journals {
				c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}
	return batch, eventDigest(evt.EventType(), payload, batch), nil
}

// journalFor derives the journal batch from event content alone, so replay
// regenerates the same ledger entries.
func (c *Controller) journalFor(seq int64, evt event.Event) (*ledger.Batch, error) {
	switch e := evt.(type) {
	case *event.Deposited:
		return c.journalGen.GenerateDeposit(seq, e.Position, e.Deposit)
	case *event.YieldDistributed:
		credits := make([]fpmath.ShareAllocation, len(e.Credits))
		for i, cr := range e.Credits {
			credits[i] = fpmath.ShareAllocation{ID: cr.Position, Amount: cr.Amount}
		}
		return c.journalGen.GenerateDistribution(seq, e.EpochID, credits, e.Dust)
	case *event.YieldClaimed:
		return c.journalGen.GenerateClaims(seq, fmt.Sprintf("claim:%d", e.Position),
			[]ledger.ClaimLeg{{PositionID: e.Position, Amount: e.Amount}})
	case *event.Withdrawn:
		return c.journalGen.GenerateWithdrawal(seq, e.Position, e.Principal, e.AccruedYield)
	case *event.ReserveWithdrawn:
		return c.journalGen.GenerateReserveSweep(seq, e.Amount)
	default:
		return nil, nil
	}
}

func touchedBy(evt event.Event) []state.PositionID {
	if e, ok := evt.(*event.YieldDistributed); ok {
		ids := make([]state.PositionID, len(e.Credits))
		for i, cr := range e.Credits {
			ids[i] = cr.Position
		}
		return ids
	}
	if id := evt.PositionID(); id != nil {
		return []state.PositionID{*id}
	}
	return nil
}

// eventDigest is the canonical byte form of one committed event: type,
// payload and journal legs.
func eventDigest(et event.EventType, payload []byte, batch *ledger.Batch) []byte {
	digest := make([]byte, 0, 16+len(payload)+64)
	digest = appendInt64LE(digest, int64(et))
	digest = appendInt64LE(digest, int64(len(payload)))
	digest = append(digest, payload...)

	if batch != nil {
		for _, j := range batch.Journals {
			debit := j.DebitAccount.AccountPath()
			digest = append(digest, byte(len(debit)))
			digest = append(digest, debit...)

			credit := j.CreditAccount.AccountPath()
			digest = append(digest, byte(len(credit)))
			digest = append(digest, credit...)

			digest = appendInt64LE(digest, j.Amount)
		}
	}
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheck validates the engine against its ledger after an operation
func (c *Controller) postCheck(touched []state.PositionID) error {
	if err := c.validator.ValidateLocked(c.positions.TotalLocked()); err != nil {
		return fmt.Errorf("L-03: %w", err)
	}
	if err := c.validator.ValidateDust(c.yield.DustPool()); err != nil {
		return fmt.Errorf("L-05: %w", err)
	}
	for _, id := range touched {
		var accrued int64
		if pos, ok := c.positions.GetPosition(id); ok {
			accrued = pos.AccruedYield
		}
		if err := c.validator.ValidatePositionYield(id, accrued); err != nil {
			return fmt.Errorf("L-04: %w", err)
		}
	}

	if c.sequence-c.lastFullCheck < c.fullCheckInterval {
		return nil
	}
	c.lastFullCheck = c.sequence
	return c.ValidateAll()
}

// ValidateAll runs every engine and ledger invariant
func (c *Controller) ValidateAll() error {
	if err := c.positions.ValidateInvariants(); err != nil {
		return err
	}
	if err := c.yield.ValidateInvariants(); err != nil {
		return err
	}
	if err := c.validator.ValidateLocked(c.positions.TotalLocked()); err != nil {
		return fmt.Errorf("L-03: %w", err)
	}
	if err := c.validator.ValidateDust(c.yield.DustPool()); err != nil {
		return fmt.Errorf("L-05: %w", err)
	}
	for _, pos := range c.positions.ActivePositions() {
		if err := c.validator.ValidatePositionYield(pos.ID, pos.AccruedYield); err != nil {
			return fmt.Errorf("L-04: %w", err)
		}
	}
	if err := c.validator.ValidateGlobalBalance(); err != nil {
		return fmt.Errorf("L-06: %w", err)
	}
	if err := c.validator.ValidateInternalNonNegative(); err != nil {
		return fmt.Errorf("L-07: %w", err)
	}
	return nil
}

// emit hands outputs to the persistence and projection workers. Persistence
// is a blocking send so no committed event is lost; projection drops on a
// full channel and catches up by rebuild.
func (c *Controller) emit(outputs []Output) {
	for _, out := range outputs {
		if c.persistChan != nil {
			c.persistChan <- out
		}
		if c.projectionChan != nil {
			select {
			case c.projectionChan <- out:
			default:
				if c.metrics != nil {
					c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
				}
			}
		}
	}
}

func (c *Controller) recordState() {
	if c.metrics == nil {
		return
	}
	c.metrics.CoreSequence.Set(float64(c.sequence))
	c.metrics.TotalLocked.Set(float64(c.positions.TotalLocked()))
	c.metrics.ActivePositions.Set(float64(c.positions.ActiveCount()))
	c.metrics.NextCurveIndex.Set(float64(c.positions.NextCurveIndex()))
	c.metrics.DustPool.Set(float64(c.yield.DustPool()))
	c.metrics.TotalAccrued.Set(float64(c.yield.TotalAccrued()))
	c.metrics.DedupLRUSize.Set(float64(c.idempotency.LRU().Size()))
	if c.paused {
		c.metrics.DepositsPaused.Set(1)
	} else {
		c.metrics.DepositsPaused.Set(0)
	}
}

// Sequence returns the next sequence to assign.
func (c *Controller) Sequence() int64 {
	return c.sequence
}

// StateHash returns the current chain tip.
func (c *Controller) StateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// WarmLRU loads recent dedup keys into the in-memory tier.
func (c *Controller) WarmLRU(keys []string) {
	c.idempotency.LRU().WarmFromKeys(keys)
}
