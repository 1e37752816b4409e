// Package memory provides deterministic in-memory implementations of the
// vault's collaborator ports, for tests and standalone runs.
package memory

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrTokenNotFound     = errors.New("memory: token not found")
	ErrNotTokenOwner     = errors.New("memory: sender does not own token")
	ErrUnknownAsset      = errors.New("memory: unknown asset")
	ErrInsufficientFunds = errors.New("memory: insufficient funds")
)

// injector holds one-shot faults and callbacks keyed by method name. A
// callback runs at the start of the named call, on the caller's goroutine,
// which is how tests drive re-entry into the vault.
type injector struct {
	mu    sync.Mutex
	fails map[string]error
	hooks map[string]func(ctx context.Context)
}

// FailNext makes the next call to method return err.
func (in *injector) FailNext(method string, err error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.fails == nil {
		in.fails = make(map[string]error)
	}
	in.fails[method] = err
}

// OnNext runs fn at the start of the next call to method.
func (in *injector) OnNext(method string, fn func(ctx context.Context)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.hooks == nil {
		in.hooks = make(map[string]func(ctx context.Context))
	}
	in.hooks[method] = fn
}

// intercept consumes any hook and fault armed for method. The hook runs
// without the lock held so it may call back into the same adapter.
func (in *injector) intercept(ctx context.Context, method string) error {
	in.mu.Lock()
	hook := in.hooks[method]
	delete(in.hooks, method)
	err := in.fails[method]
	delete(in.fails, method)
	in.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	return err
}
