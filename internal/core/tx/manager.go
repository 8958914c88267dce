// Package tx decouples domain services from the concrete transaction implementation.
package tx

import (
	"context"
)

// Manager runs work inside database transactions.
// The implementation lives in infrastructure/storage/postgres.
type Manager interface {
	// RunInTransaction executes fn within a transaction. Nested calls reuse
	// the transaction already carried by ctx. An error from fn rolls back.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// RunIndependent executes fn in a fresh transaction that commits on its own,
	// even when ctx already carries an outer transaction. Used for counters that
	// must never be rewound by a later rollback of the caller.
	RunIndependent(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReadOnlyManager extends Manager with read-only transactions.
type ReadOnlyManager interface {
	Manager
	ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error
}
