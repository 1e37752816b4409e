package vault

import (
	"BondVault/internal/observability"
	"context"
	"errors"
)

// ErrRunnerStopped is returned for work submitted after the core loop exited
var ErrRunnerStopped = errors.New("vault: core loop stopped")

type task struct {
	ctx  context.Context
	fn   func(ctx context.Context, c *Controller) error
	done chan error
}

// Runner owns the core goroutine. All access to the Controller, reads
// included, goes through it.
type Runner struct {
	ctrl    *Controller
	tasks   chan task
	stopped chan struct{}
	metrics *observability.Metrics
}

func NewRunner(ctrl *Controller, queueSize int, metrics *observability.Metrics) *Runner {
	return &Runner{
		ctrl:    ctrl,
		tasks:   make(chan task, queueSize),
		stopped: make(chan struct{}),
		metrics: metrics,
	}
}

// Run processes tasks one at a time until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	defer close(r.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-r.tasks:
			if r.metrics != nil {
				r.metrics.ChannelSize.WithLabelValues("core_tasks").Set(float64(len(r.tasks)))
			}
			t.done <- t.fn(t.ctx, r.ctrl)
		}
	}
}

// Do runs fn on the core goroutine and waits for it. Once queued, fn runs to
// completion even if ctx is cancelled while waiting.
func (r *Runner) Do(ctx context.Context, fn func(ctx context.Context, c *Controller) error) error {
	t := task{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case r.tasks <- t:
	case <-r.stopped:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.done:
		return err
	case <-r.stopped:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, r *Runner, fn func(ctx context.Context, c *Controller) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context, c *Controller) error {
		var err error
		out, err = fn(ctx, c)
		return err
	})
	if err != nil {
		// out may still be written by the core when ctx expired first
		var zero T
		return zero, err
	}
	return out, nil
}

// Stopped is closed when the core loop exits.
func (r *Runner) Stopped() <-chan struct{} {
	return r.stopped
}
