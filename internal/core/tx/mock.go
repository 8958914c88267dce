package tx

import (
	"context"
	"sync/atomic"
)

// MockManager runs fn directly. It counts calls so tests can assert
// which work went through an independent transaction.
type MockManager struct {
	Calls            atomic.Int64
	IndependentCalls atomic.Int64
}

var _ ReadOnlyManager = (*MockManager)(nil)

func (m *MockManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.Calls.Add(1)
	if _, nested := ctx.Value(hooksKey{}).(*Hooks); nested {
		return fn(ctx)
	}
	return runWithHooks(ctx, fn)
}

func (m *MockManager) RunIndependent(ctx context.Context, fn func(ctx context.Context) error) error {
	m.IndependentCalls.Add(1)
	return runWithHooks(ctx, fn)
}

func runWithHooks(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, hooks := WithHooks(ctx)
	if err := fn(txCtx); err != nil {
		return err
	}
	hooks.Run(ctx)
	return nil
}

func (m *MockManager) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
