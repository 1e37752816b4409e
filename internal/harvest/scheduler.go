// Package harvest runs the periodic yield distribution and owner resync
// jobs against the vault core.
package harvest

import (
	"BondVault/internal/errs"
	"BondVault/internal/observability"
	"BondVault/internal/state"
	"BondVault/internal/vault"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Source reports how much yield was harvested since the last call. The
// amount is in unit of account at value scale. Once returned, an amount is
// owned by the Scheduler, which keeps it until a distribution commits it.
type Source interface {
	Harvest(ctx context.Context) (int64, error)
}

// FixedSource harvests the same amount every run.
type FixedSource int64

func (f FixedSource) Harvest(context.Context) (int64, error) { return int64(f), nil }

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (int64, error)

func (f SourceFunc) Harvest(ctx context.Context) (int64, error) { return f(ctx) }

type Config struct {
	Schedule       string // empty disables distribution
	ResyncSchedule string // empty disables owner resync
}

// Scheduler drives the harvest jobs through the runner, so they serialize
// with every other command. Jobs are skipped while gate reports false.
//
// Harvested value that fails to distribute is not dropped. An amount the
// core definitely rejected is carried into the next run. A request whose
// outcome is unknown (deadline or core shutdown after it was queued) is
// retried under its original operation id, so dedup settles it exactly once.
type Scheduler struct {
	cron    *cron.Cron
	runner  *vault.Runner
	source  Source
	gate    func() bool
	metrics *observability.Metrics
	logger  zerolog.Logger

	mu      sync.Mutex
	carry   int64
	inDoubt []vault.DistributeRequest
}

func NewScheduler(
	runner *vault.Runner,
	source Source,
	cfg Config,
	gate func() bool,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*Scheduler, error) {
	cl := cronLogger{logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:  runner,
		source:  source,
		gate:    gate,
		metrics: metrics,
		logger:  logger,
	}

	if cfg.Schedule != "" {
		if source == nil {
			return nil, errors.New("harvest: schedule set without a source")
		}
		if _, err := s.cron.AddFunc(cfg.Schedule, s.harvestJob); err != nil {
			return nil, fmt.Errorf("harvest schedule %q: %w", cfg.Schedule, err)
		}
	}
	if cfg.ResyncSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.ResyncSchedule, s.resyncJob); err != nil {
			return nil, fmt.Errorf("resync schedule %q: %w", cfg.ResyncSchedule, err)
		}
	}
	return s, nil
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

// Run starts the cron loop and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) harvestJob() {
	if s.gate != nil && !s.gate() {
		s.count("not_leader")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	_, _ = s.HarvestOnce(ctx, time.Now().UTC())
}

func (s *Scheduler) resyncJob() {
	if s.gate != nil && !s.gate() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	_, _ = s.ResyncOnce(ctx)
}

// HarvestOnce settles any in-doubt requests, then pulls the harvested amount
// and distributes it together with the carried balance. The operation id
// derives from the run time truncated to the second, so a retried run
// dedups. A zero harvest, or one with nothing locked, returns a nil epoch.
func (s *Scheduler) HarvestOnce(ctx context.Context, at time.Time) (*state.YieldEpoch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settleInDoubt(ctx)

	harvested, err := s.source.Harvest(ctx)
	if err != nil {
		s.count("source_error")
		s.logger.Error().Err(err).Msg("harvest source failed")
		return nil, err
	}
	amount := harvested + s.carry
	if amount <= 0 {
		s.count("empty")
		return nil, nil
	}
	s.carry = 0

	at = at.Truncate(time.Second)
	req := vault.DistributeRequest{
		Meta: vault.Meta{
			OperationID: fmt.Sprintf("harvest-%d", at.Unix()),
			Timestamp:   at,
		},
		Amount: amount,
	}
	epoch, err := s.distribute(ctx, req)
	switch {
	case err == nil:
	case inDoubt(err):
		s.inDoubt = append(s.inDoubt, req)
		s.count("in_doubt")
		s.logger.Warn().Err(err).Str("operation_id", req.OperationID).Int64("amount", amount).
			Msg("harvest outcome unknown, will retry")
		return nil, err
	case errors.Is(err, errs.ErrNothingLocked):
		s.carry = amount
		s.count("nothing_locked")
		s.logger.Warn().Int64("amount", amount).Msg("harvest skipped, nothing locked; carried over")
		return nil, nil
	default:
		s.carry = amount
		s.count("error")
		s.logger.Error().Err(err).Int64("amount", amount).Msg("harvest distribution failed; carried over")
		return nil, err
	}

	s.count("ok")
	s.logger.Info().
		Int64("epoch", epoch.EpochID).
		Int64("amount", amount).
		Int64("dust", epoch.Dust).
		Int("positions", epoch.ActiveCount).
		Msg("harvest distributed")
	return epoch, nil
}

// Pending returns harvested value not yet known to be distributed.
func (s *Scheduler) Pending() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.carry
	for _, req := range s.inDoubt {
		total += req.Amount
	}
	return total
}

// settleInDoubt retries each in-doubt request under its own id. A duplicate
// means the earlier attempt committed.
func (s *Scheduler) settleInDoubt(ctx context.Context) {
	kept := s.inDoubt[:0]
	for _, req := range s.inDoubt {
		_, err := s.distribute(ctx, req)
		switch {
		case err == nil:
			s.logger.Info().Str("operation_id", req.OperationID).Int64("amount", req.Amount).Msg("in-doubt harvest distributed")
		case errors.Is(err, errs.ErrDuplicateOp):
			s.logger.Info().Str("operation_id", req.OperationID).Msg("in-doubt harvest had committed")
		case inDoubt(err):
			kept = append(kept, req)
		default:
			s.carry += req.Amount
		}
	}
	s.inDoubt = kept
}

func (s *Scheduler) distribute(ctx context.Context, req vault.DistributeRequest) (*state.YieldEpoch, error) {
	return vault.Call(ctx, s.runner, func(ctx context.Context, c *vault.Controller) (*state.YieldEpoch, error) {
		return c.Distribute(ctx, req)
	})
}

// inDoubt reports errors raised outside the core, after which the request
// may or may not have run.
func inDoubt(err error) bool {
	return errors.Is(err, vault.ErrRunnerStopped) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// ResyncOnce reconciles the owner index with the registry.
func (s *Scheduler) ResyncOnce(ctx context.Context) (int, error) {
	moved, err := vault.Call(ctx, s.runner, func(ctx context.Context, c *vault.Controller) (int, error) {
		return c.ResyncOwners(ctx)
	})
	if err != nil {
		s.count("resync_error")
		s.logger.Warn().Err(err).Msg("owner resync failed")
		return moved, err
	}
	if moved > 0 {
		s.logger.Info().Int("moved", moved).Msg("owner index resynced")
	}
	return moved, nil
}

func (s *Scheduler) count(outcome string) {
	if s.metrics != nil {
		s.metrics.HarvestRuns.WithLabelValues(outcome).Inc()
	}
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
