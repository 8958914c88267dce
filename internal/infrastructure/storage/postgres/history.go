package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"osiris/internal/domain/history"
)

var _ history.Repository = (*HistoryRepo)(nil)

var historyColumns = []string{"id", "entity_id", "previous_state", "new_state", "reason", "actor_id", "created_at"}

// HistoryRepo writes the per-kind state history tables. The table name
// always comes from history.Kind.Table, never from the caller.
type HistoryRepo struct {
	txManager *TxManager
}

func NewHistoryRepo(txManager *TxManager) *HistoryRepo {
	return &HistoryRepo{txManager: txManager}
}

func (r *HistoryRepo) Append(ctx context.Context, kind history.Kind, e *history.Entry) error {
	table, err := kind.Table()
	if err != nil {
		return err
	}
	q, err := r.txManager.MustQuerierInTx(ctx)
	if err != nil {
		return err
	}

	_, err = Exec(ctx, q, Builder().
		Insert(table).
		Columns(historyColumns...).
		Values(e.ID, e.EntityID, e.PreviousState, e.NewState, e.Reason, e.ActorID, e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// List returns rows oldest first; ties on created_at fall back to the
// time-ordered id.
func (r *HistoryRepo) List(ctx context.Context, kind history.Kind, f history.Filter) ([]history.Entry, error) {
	table, err := kind.Table()
	if err != nil {
		return nil, err
	}

	q := Builder().Select(historyColumns...).From(table)
	if f.EntityID != nil {
		q = q.Where(squirrel.Eq{"entity_id": *f.EntityID})
	}
	if f.ActorID != "" {
		q = q.Where(squirrel.Eq{"actor_id": f.ActorID})
	}
	if f.From != nil {
		q = q.Where(squirrel.GtOrEq{"created_at": *f.From})
	}
	if f.To != nil {
		q = q.Where(squirrel.LtOrEq{"created_at": *f.To})
	}
	q = q.OrderBy("created_at", "id")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	var out []history.Entry
	if err := SelectAll(ctx, r.txManager.GetQuerier(ctx), &out, q); err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	return out, nil
}
