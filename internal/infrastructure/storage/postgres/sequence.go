package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/domain/sequence"
)

var _ sequence.Repository = (*SequenceRepo)(nil)

var allocationColumns = []string{
	"entity_id", "emission_point_id", "document_type", "value", "formatted", "allocated_at", "consumed_at",
}

// SequenceRepo stores emission point counters and their allocations.
type SequenceRepo struct {
	txManager *TxManager
}

func NewSequenceRepo(txManager *TxManager) *SequenceRepo {
	return &SequenceRepo{txManager: txManager}
}

func (r *SequenceRepo) FindAllocation(ctx context.Context, entityID id.ID) (*sequence.Allocation, error) {
	var a sequence.Allocation
	err := GetOne(ctx, r.txManager.GetQuerier(ctx), &a,
		Builder().Select(allocationColumns...).From("sequence_allocation").Where(squirrel.Eq{"entity_id": entityID}))
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("sequence allocation", entityID)
		}
		return nil, fmt.Errorf("find allocation: %w", err)
	}
	return &a, nil
}

// Increment upserts the counter row; the row lock taken by the UPDATE branch
// serializes concurrent allocations on the same counter. The emission point
// is share-locked and must be active in the same statement, so a concurrent
// deactivation either waits for the allocation or makes it fail.
func (r *SequenceRepo) Increment(ctx context.Context, pointID id.ID, docType sequence.DocumentType) (int64, error) {
	const sql = `
		INSERT INTO emission_point_sequence (emission_point_id, document_type, current_value, updated_at)
		SELECT $1, $2, 1, NOW()
		WHERE EXISTS (SELECT 1 FROM emission_point WHERE id = $1 AND active FOR SHARE)
		ON CONFLICT (emission_point_id, document_type)
		DO UPDATE SET current_value = emission_point_sequence.current_value + 1, updated_at = NOW()
		RETURNING current_value`

	var value int64
	if err := r.txManager.GetQuerier(ctx).QueryRow(ctx, sql, pointID, string(docType)).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperror.NewPreconditionFailed("emission point", pointID, "is not active")
		}
		if IsCheckViolation(err) {
			return 0, apperror.NewConflict("sequence exhausted").
				WithDetail("emission_point_id", pointID).
				WithDetail("document_type", string(docType))
		}
		if IsForeignKeyViolation(err) {
			return 0, apperror.NewPreconditionFailed("emission point", pointID, "does not exist")
		}
		return 0, fmt.Errorf("increment sequence: %w", err)
	}
	return value, nil
}

func (r *SequenceRepo) SaveAllocation(ctx context.Context, a *sequence.Allocation) error {
	_, err := Exec(ctx, r.txManager.GetQuerier(ctx), Builder().
		Insert("sequence_allocation").
		Columns(allocationColumns...).
		Values(a.EntityID, a.EmissionPointID, string(a.DocumentType), a.Value, a.Formatted, a.AllocatedAt, a.ConsumedAt))
	if err != nil {
		if _, dup := IsUniqueViolation(err); dup {
			return apperror.NewDuplicate("allocation", "entity_id", a.EntityID.String()).WithCause(err)
		}
		return fmt.Errorf("save allocation: %w", err)
	}
	return nil
}

func (r *SequenceRepo) MarkConsumed(ctx context.Context, entityID id.ID, at time.Time) error {
	q := r.txManager.GetQuerier(ctx)
	n, err := Exec(ctx, q, Builder().
		Update("sequence_allocation").
		Set("consumed_at", squirrel.Expr("COALESCE(consumed_at, ?)", at)).
		Where(squirrel.Eq{"entity_id": entityID}))
	if err != nil {
		return fmt.Errorf("mark consumed: %w", err)
	}
	if n == 0 {
		return apperror.NewNotFound("allocation", entityID)
	}
	return nil
}

func (r *SequenceRepo) Current(ctx context.Context, pointID id.ID, docType sequence.DocumentType) (int64, error) {
	var value int64
	err := r.txManager.GetQuerier(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(current_value), 0) FROM emission_point_sequence
		 WHERE emission_point_id = $1 AND document_type = $2`,
		pointID, string(docType)).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("current sequence: %w", err)
	}
	return value, nil
}

// SetForward raises the counter to value and returns what it was before.
// Must run inside a transaction so the read and the write see the same lock.
func (r *SequenceRepo) SetForward(ctx context.Context, pointID id.ID, docType sequence.DocumentType, value int64) (int64, error) {
	q, err := r.txManager.MustQuerierInTx(ctx)
	if err != nil {
		return 0, err
	}

	if _, err := q.Exec(ctx,
		`INSERT INTO emission_point_sequence (emission_point_id, document_type, current_value)
		 VALUES ($1, $2, 0) ON CONFLICT DO NOTHING`, pointID, string(docType)); err != nil {
		return 0, fmt.Errorf("ensure sequence: %w", err)
	}

	var prev int64
	if err := q.QueryRow(ctx,
		`SELECT current_value FROM emission_point_sequence
		 WHERE emission_point_id = $1 AND document_type = $2 FOR UPDATE`,
		pointID, string(docType)).Scan(&prev); err != nil {
		return 0, fmt.Errorf("lock sequence: %w", err)
	}
	if value <= prev {
		return prev, nil
	}
	if _, err := q.Exec(ctx,
		`UPDATE emission_point_sequence SET current_value = $3, updated_at = NOW()
		 WHERE emission_point_id = $1 AND document_type = $2`,
		pointID, string(docType), value); err != nil {
		return 0, fmt.Errorf("adjust sequence: %w", err)
	}
	return prev, nil
}

func (r *SequenceRepo) Unconsumed(ctx context.Context, f sequence.GapFilter, before time.Time) ([]sequence.Allocation, error) {
	q := Builder().Select(allocationColumns...).From("sequence_allocation").
		Where(squirrel.Eq{"consumed_at": nil}).
		Where(squirrel.Lt{"allocated_at": before})
	if f.EmissionPointID != nil {
		q = q.Where(squirrel.Eq{"emission_point_id": *f.EmissionPointID})
	}
	if f.DocumentType != "" {
		q = q.Where(squirrel.Eq{"document_type": string(f.DocumentType)})
	}
	q = q.OrderBy("value")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	var out []sequence.Allocation
	if err := SelectAll(ctx, r.txManager.GetQuerier(ctx), &out, q); err != nil {
		return nil, fmt.Errorf("list unconsumed: %w", err)
	}
	return out, nil
}

// Missing finds runs of counter values that have no allocation row,
// which only happens after a manual forward adjustment.
func (r *SequenceRepo) Missing(ctx context.Context, f sequence.GapFilter) ([]sequence.MissingRange, error) {
	sql := `
		WITH used AS (
			SELECT s.emission_point_id, s.document_type, s.current_value, a.value
			FROM emission_point_sequence s
			LEFT JOIN sequence_allocation a
				ON a.emission_point_id = s.emission_point_id AND a.document_type = s.document_type
			WHERE ($1::uuid IS NULL OR s.emission_point_id = $1)
			  AND ($2 = '' OR s.document_type = $2)
		), bounds AS (
			SELECT emission_point_id, document_type, current_value, value,
			       LAG(value) OVER (PARTITION BY emission_point_id, document_type ORDER BY value) AS prev
			FROM used
		), inner_gaps AS (
			SELECT emission_point_id, document_type,
			       COALESCE(prev, 0) + 1 AS gap_from, value - 1 AS gap_to
			FROM bounds
			WHERE value IS NOT NULL AND value - COALESCE(prev, 0) > 1
		), tail_gaps AS (
			SELECT emission_point_id, document_type,
			       COALESCE(MAX(value), 0) + 1 AS gap_from, MAX(current_value) AS gap_to
			FROM used
			GROUP BY emission_point_id, document_type
			HAVING MAX(current_value) > COALESCE(MAX(value), 0)
		)
		SELECT emission_point_id, document_type, gap_from, gap_to FROM inner_gaps
		UNION ALL
		SELECT emission_point_id, document_type, gap_from, gap_to FROM tail_gaps
		ORDER BY emission_point_id, document_type, gap_from`

	var pointArg any
	if f.EmissionPointID != nil {
		pointArg = *f.EmissionPointID
	}

	var out []sequence.MissingRange
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &out, sql, pointArg, string(f.DocumentType)); err != nil {
		return nil, fmt.Errorf("list missing ranges: %w", err)
	}
	return out, nil
}
