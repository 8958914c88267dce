package tx

import (
	"context"
	"sync"
)

type hooksKey struct{}

// Hooks collects callbacks that run once the outermost transaction commits.
type Hooks struct {
	mu  sync.Mutex
	fns []func(context.Context)
}

// WithHooks attaches a fresh collector to ctx. Managers call it when they
// start an outermost transaction.
func WithHooks(ctx context.Context) (context.Context, *Hooks) {
	h := &Hooks{}
	return context.WithValue(ctx, hooksKey{}, h), h
}

// InTransaction reports whether ctx carries a transaction started by a manager.
func InTransaction(ctx context.Context) bool {
	h, ok := ctx.Value(hooksKey{}).(*Hooks)
	return ok && h != nil
}

// AfterCommit registers fn to run after the transaction in ctx commits.
// Outside a transaction fn runs immediately. fn never runs on rollback.
func AfterCommit(ctx context.Context, fn func(context.Context)) {
	h, ok := ctx.Value(hooksKey{}).(*Hooks)
	if !ok || h == nil {
		fn(ctx)
		return
	}
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

// Run executes the collected callbacks in registration order.
func (h *Hooks) Run(ctx context.Context) {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ctx)
	}
}
