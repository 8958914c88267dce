package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/domain/sriqueue"
)

var _ sriqueue.Repository = (*SRIQueueRepo)(nil)

var queueColumns = []string{
	"id", "entity_id", "document_type", "state", "attempts_made", "max_attempts",
	"next_attempt_at", "lease_until", "last_error", "payload", "created_at", "updated_at", "completed_at",
}

// SRIQueueRepo is the durable submission queue. Workers claim rows with
// FOR UPDATE SKIP LOCKED, so several workers can poll the same table.
type SRIQueueRepo struct {
	txManager *TxManager
}

func NewSRIQueueRepo(txManager *TxManager) *SRIQueueRepo {
	return &SRIQueueRepo{txManager: txManager}
}

// Insert writes a new item in the transaction that changed its document.
func (r *SRIQueueRepo) Insert(ctx context.Context, item *sriqueue.Item) error {
	q, err := r.txManager.MustQuerierInTx(ctx)
	if err != nil {
		return fmt.Errorf("enqueue requires transaction context: %w", err)
	}
	_, err = Exec(ctx, q, Builder().
		Insert("sri_queue_item").
		Columns(queueColumns...).
		Values(item.ID, item.EntityID, string(item.DocumentType), string(item.State), item.AttemptsMade, item.MaxAttempts,
			item.NextAttemptAt, item.LeaseUntil, item.LastError, item.Payload, item.CreatedAt, item.UpdatedAt, item.CompletedAt))
	if err != nil {
		if _, dup := IsUniqueViolation(err); dup {
			return apperror.NewDuplicate("queue item", "id", item.ID.String()).WithCause(err)
		}
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

func (r *SRIQueueRepo) GetByID(ctx context.Context, itemID id.ID) (*sriqueue.Item, error) {
	return r.get(ctx, itemID, "")
}

func (r *SRIQueueRepo) GetForUpdate(ctx context.Context, itemID id.ID) (*sriqueue.Item, error) {
	return r.get(ctx, itemID, "FOR UPDATE")
}

func (r *SRIQueueRepo) get(ctx context.Context, itemID id.ID, suffix string) (*sriqueue.Item, error) {
	q := Builder().Select(queueColumns...).From("sri_queue_item").Where(squirrel.Eq{"id": itemID})
	if suffix != "" {
		q = q.Suffix(suffix)
	}
	var item sriqueue.Item
	if err := GetOne(ctx, r.txManager.GetQuerier(ctx), &item, q); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("queue item", itemID)
		}
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return &item, nil
}

// ClaimDue leases up to limit due items in one statement. The inner SELECT
// skips rows another worker has locked; the UPDATE counts the attempt.
func (r *SRIQueueRepo) ClaimDue(ctx context.Context, now time.Time, limit int, leaseUntil time.Time) ([]*sriqueue.Item, error) {
	q, err := r.txManager.MustQuerierInTx(ctx)
	if err != nil {
		return nil, err
	}

	const sql = `
		UPDATE sri_queue_item AS q
		SET state = $1, attempts_made = q.attempts_made + 1, lease_until = $2, updated_at = $3
		FROM (
			SELECT id FROM sri_queue_item
			WHERE state IN ($4, $5) AND next_attempt_at <= $3
			ORDER BY next_attempt_at
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		) AS due
		WHERE q.id = due.id
		RETURNING q.id, q.entity_id, q.document_type, q.state, q.attempts_made, q.max_attempts,
		          q.next_attempt_at, q.lease_until, q.last_error, q.payload, q.created_at, q.updated_at, q.completed_at`

	var items []*sriqueue.Item
	err = pgxscan.Select(ctx, q, &items, sql,
		string(sriqueue.StateProcessing), leaseUntil, now,
		string(sriqueue.StatePending), string(sriqueue.StateRetry), limit)
	if err != nil {
		return nil, fmt.Errorf("claim due items: %w", err)
	}
	return items, nil
}

func (r *SRIQueueRepo) ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*sriqueue.Item, error) {
	q, err := r.txManager.MustQuerierInTx(ctx)
	if err != nil {
		return nil, err
	}

	var items []*sriqueue.Item
	err = SelectAll(ctx, q, &items, Builder().
		Select(queueColumns...).
		From("sri_queue_item").
		Where(squirrel.Eq{"state": string(sriqueue.StateProcessing)}).
		Where(squirrel.Lt{"lease_until": now}).
		OrderBy("lease_until").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED"))
	if err != nil {
		return nil, fmt.Errorf("expired leases: %w", err)
	}
	return items, nil
}

func (r *SRIQueueRepo) Update(ctx context.Context, item *sriqueue.Item) error {
	n, err := Exec(ctx, r.txManager.GetQuerier(ctx), Builder().
		Update("sri_queue_item").
		SetMap(map[string]any{
			"state":           string(item.State),
			"attempts_made":   item.AttemptsMade,
			"max_attempts":    item.MaxAttempts,
			"next_attempt_at": item.NextAttemptAt,
			"lease_until":     item.LeaseUntil,
			"last_error":      item.LastError,
			"updated_at":      item.UpdatedAt,
			"completed_at":    item.CompletedAt,
		}).
		Where(squirrel.Eq{"id": item.ID}))
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	if n == 0 {
		return apperror.NewNotFound("queue item", item.ID)
	}
	return nil
}

func (r *SRIQueueRepo) List(ctx context.Context, f sriqueue.Filter) ([]*sriqueue.Item, int, error) {
	where := squirrel.And{}
	if f.State != "" {
		where = append(where, squirrel.Eq{"state": string(f.State)})
	}
	if f.EntityID != nil {
		where = append(where, squirrel.Eq{"entity_id": *f.EntityID})
	}

	querier := r.txManager.GetQuerier(ctx)

	var total int
	countSQL, countArgs, err := Builder().Select("COUNT(*)").From("sri_queue_item").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count: %w", err)
	}
	if err := querier.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count queue items: %w", err)
	}

	q := Builder().Select(queueColumns...).From("sri_queue_item").Where(where).
		OrderBy("created_at DESC")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	items := []*sriqueue.Item{}
	if err := SelectAll(ctx, querier, &items, q); err != nil {
		return nil, 0, fmt.Errorf("list queue items: %w", err)
	}
	return items, total, nil
}

func (r *SRIQueueRepo) CountByState(ctx context.Context) (sriqueue.Stats, error) {
	var rows []struct {
		State sriqueue.State `db:"state"`
		Count int            `db:"count"`
	}
	err := SelectAll(ctx, r.txManager.GetQuerier(ctx), &rows,
		Builder().Select("state", "COUNT(*) AS count").From("sri_queue_item").GroupBy("state"))
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	stats := sriqueue.Stats{}
	for _, row := range rows {
		stats[row.State] = row.Count
	}
	return stats, nil
}
