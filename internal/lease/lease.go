// Package lease keeps a single writer per vault. The core is the only
// sequencer; a second instance applying commands against the same event log
// would fork the hash chain, so vaultd holds a TTL lease for as long as it
// runs and stops when the lease is lost.
package lease

import (
	"BondVault/internal/observability"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNotAcquired = errors.New("lease: held by another instance")
	ErrLost        = errors.New("lease: lost")
)

// Store is the lease backend. Extend and Release act only while key still
// carries token.
type Store interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

type Options struct {
	Key           string
	TTL           time.Duration
	RenewInterval time.Duration
	AcquireWait   time.Duration // 0 = single attempt
	RetryJitter   time.Duration
}

type Lease struct {
	store   Store
	opts    Options
	token   string
	held    atomic.Bool
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func New(store Store, opts Options, metrics *observability.Metrics, logger zerolog.Logger) *Lease {
	if opts.RenewInterval <= 0 {
		opts.RenewInterval = opts.TTL / 3
	}
	if opts.RetryJitter <= 0 {
		opts.RetryJitter = 500 * time.Millisecond
	}
	return &Lease{
		store:   store,
		opts:    opts,
		token:   uuid.New().String(),
		metrics: metrics,
		logger:  logger,
	}
}

func (l *Lease) Token() string { return l.token }
func (l *Lease) Held() bool    { return l.held.Load() }

// Acquire takes the lease, retrying until AcquireWait elapses. Returns
// ErrNotAcquired when another holder keeps it for the whole wait.
func (l *Lease) Acquire(ctx context.Context) error {
	deadline := time.Now().Add(l.opts.AcquireWait)
	for attempt := 1; ; attempt++ {
		ok, err := l.store.Acquire(ctx, l.opts.Key, l.token, l.opts.TTL)
		if err != nil {
			return err
		}
		if ok {
			l.setHeld(true)
			l.logger.Info().Str("key", l.opts.Key).Int("attempt", attempt).Msg("writer lease acquired")
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%s: %w", l.opts.Key, ErrNotAcquired)
		}
		l.logger.Info().Str("key", l.opts.Key).Int("attempt", attempt).Msg("writer lease held elsewhere, waiting")

		wait := l.opts.RenewInterval + rand.N(l.opts.RetryJitter)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Run renews the lease every RenewInterval until ctx is cancelled, then
// releases it. Returns ErrLost when the key no longer carries our token or
// when renewals keep failing past the TTL.
func (l *Lease) Run(ctx context.Context) error {
	if !l.Held() {
		return ErrLost
	}
	ticker := time.NewTicker(l.opts.RenewInterval)
	defer ticker.Stop()

	lastRenewed := time.Now()
	for {
		select {
		case <-ctx.Done():
			l.Release()
			return nil

		case <-ticker.C:
			ok, err := l.store.Extend(ctx, l.opts.Key, l.token, l.opts.TTL)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					l.Release()
					return nil
				}
				l.countRenewal("error")
				l.logger.Warn().Err(err).Msg("writer lease renewal failed")
				if time.Since(lastRenewed) >= l.opts.TTL {
					l.setHeld(false)
					return fmt.Errorf("renewals failing for %s: %w", time.Since(lastRenewed).Round(time.Millisecond), ErrLost)
				}
			case !ok:
				l.countRenewal("lost")
				l.setHeld(false)
				l.logger.Error().Str("key", l.opts.Key).Msg("writer lease taken over")
				return ErrLost
			default:
				l.countRenewal("ok")
				lastRenewed = time.Now()
			}
		}
	}
}

// Release drops the lease if held. Safe to call more than once.
func (l *Lease) Release() {
	if !l.held.Swap(false) {
		return
	}
	l.setHeld(false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.Release(ctx, l.opts.Key, l.token); err != nil {
		l.logger.Warn().Err(err).Msg("writer lease release failed, expires with TTL")
		return
	}
	l.logger.Info().Str("key", l.opts.Key).Msg("writer lease released")
}

func (l *Lease) setHeld(held bool) {
	l.held.Store(held)
	if l.metrics != nil {
		if held {
			l.metrics.LeaseHeld.Set(1)
		} else {
			l.metrics.LeaseHeld.Set(0)
		}
	}
}

func (l *Lease) countRenewal(outcome string) {
	if l.metrics != nil {
		l.metrics.LeaseRenewals.WithLabelValues(outcome).Inc()
	}
}
