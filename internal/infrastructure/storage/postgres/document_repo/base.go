// Package document_repo provides PostgreSQL implementations for fiscal document repositories.
package document_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/domain"
	"osiris/internal/infrastructure/storage/postgres"
)

// immutableColumns are written once by Create.
var immutableColumns = []string{"id", "created_at", "created_by"}

// BaseDocumentRepo provides header CRUD shared by every document table.
// Headers are mapped through their "db" tags; lines are handled by the
// concrete repositories because each table links them differently.
type BaseDocumentRepo[T any] struct {
	txManager  *postgres.TxManager
	tableName  string
	entityName string
	selectCols []string
	newFn      func() T
}

func NewBaseDocumentRepo[T any](
	txManager *postgres.TxManager,
	tableName, entityName string,
	selectCols []string,
	newFn func() T,
) *BaseDocumentRepo[T] {
	return &BaseDocumentRepo[T]{
		txManager:  txManager,
		tableName:  tableName,
		entityName: entityName,
		selectCols: selectCols,
		newFn:      newFn,
	}
}

func (r *BaseDocumentRepo[T]) querier(ctx context.Context) postgres.Querier {
	return r.txManager.GetQuerier(ctx)
}

// insertHeader writes a new header row.
func (r *BaseDocumentRepo[T]) insertHeader(ctx context.Context, entity T) error {
	values := postgres.ColumnValues(entity)
	if len(values) == 0 {
		return fmt.Errorf("%s: no db tags found in entity", r.tableName)
	}

	_, err := postgres.Exec(ctx, r.querier(ctx), postgres.Builder().
		Insert(r.tableName).
		SetMap(pick(values, r.selectCols)))
	if err != nil {
		if constraint, dup := postgres.IsUniqueViolation(err); dup {
			return apperror.NewDuplicate(r.entityName, constraint, fmt.Sprint(values["id"])).WithCause(err)
		}
		if postgres.IsForeignKeyViolation(err) {
			return apperror.NewPreconditionFailed(r.entityName, values["id"], "references a missing record").WithCause(err)
		}
		return fmt.Errorf("insert %s: %w", r.tableName, err)
	}
	return nil
}

// updateHeader persists entity if the stored version is one behind it.
// Services bump the version with Touch before saving.
func (r *BaseDocumentRepo[T]) updateHeader(ctx context.Context, entity T) error {
	values := postgres.ColumnValues(entity)
	entityID, ok := values["id"]
	if !ok {
		return fmt.Errorf("%s: entity has no id column", r.tableName)
	}
	version, ok := values["version"].(int)
	if !ok {
		return fmt.Errorf("%s: entity has no integer version column", r.tableName)
	}

	n, err := postgres.Exec(ctx, r.querier(ctx), postgres.Builder().
		Update(r.tableName).
		SetMap(pick(values, r.selectCols, immutableColumns...)).
		Where(squirrel.Eq{"id": entityID, "version": version - 1}))
	if err != nil {
		if constraint, dup := postgres.IsUniqueViolation(err); dup {
			return apperror.NewDuplicate(r.entityName, constraint, fmt.Sprint(entityID)).WithCause(err)
		}
		return fmt.Errorf("update %s: %w", r.tableName, err)
	}
	if n == 0 {
		exists, err := r.exists(ctx, entityID)
		if err != nil {
			return err
		}
		if !exists {
			return apperror.NewNotFound(r.entityName, entityID)
		}
		return apperror.NewConcurrentModification(r.entityName, entityID)
	}
	return nil
}

func (r *BaseDocumentRepo[T]) exists(ctx context.Context, entityID any) (bool, error) {
	var found bool
	err := r.querier(ctx).QueryRow(ctx,
		fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", r.tableName), entityID).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", r.tableName, err)
	}
	return found, nil
}

func (r *BaseDocumentRepo[T]) baseSelect() squirrel.SelectBuilder {
	return postgres.Builder().Select(r.selectCols...).From(r.tableName)
}

// getHeader loads one header; forUpdate locks the row for the rest of the transaction.
func (r *BaseDocumentRepo[T]) getHeader(ctx context.Context, entityID id.ID, forUpdate bool) (T, error) {
	entity := r.newFn()
	q := r.baseSelect().Where(squirrel.Eq{"id": entityID})
	if forUpdate {
		q = q.Suffix("FOR UPDATE")
	}
	if err := postgres.GetOne(ctx, r.querier(ctx), entity, q); err != nil {
		var zero T
		if pgxscan.NotFound(err) {
			return zero, apperror.NewNotFound(r.entityName, entityID)
		}
		return zero, fmt.Errorf("get %s: %w", r.tableName, err)
	}
	return entity, nil
}

// listHeaders applies the common filter on top of the document-specific where clause.
// dateColumn is the column DateFrom/DateTo apply to.
func (r *BaseDocumentRepo[T]) listHeaders(ctx context.Context, where squirrel.And, f domain.ListFilter, dateColumn string) (domain.ListResult[T], error) {
	result := domain.ListResult[T]{Limit: f.Limit, Offset: f.Offset, Items: []T{}}

	if !f.IncludeInactive {
		where = append(where, squirrel.Eq{"active": true})
	}
	if f.DateFrom != nil {
		where = append(where, squirrel.GtOrEq{dateColumn: *f.DateFrom})
	}
	if f.DateTo != nil {
		where = append(where, squirrel.LtOrEq{dateColumn: *f.DateTo})
	}

	querier := r.querier(ctx)

	countSQL, countArgs, err := postgres.Builder().Select("COUNT(*)").From(r.tableName).Where(where).ToSql()
	if err != nil {
		return result, fmt.Errorf("build count: %w", err)
	}
	if err := querier.QueryRow(ctx, countSQL, countArgs...).Scan(&result.TotalCount); err != nil {
		return result, fmt.Errorf("count %s: %w", r.tableName, err)
	}

	q := r.baseSelect().Where(where).OrderBy("created_at", "id")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	if err := postgres.SelectAll(ctx, querier, &result.Items, q); err != nil {
		return result, fmt.Errorf("list %s: %w", r.tableName, err)
	}
	return result, nil
}

// selectLines loads the lines of a document ordered by line number.
func selectLines[L any](ctx context.Context, q postgres.Querier, table, parentColumn string, columns []string, parentID id.ID) ([]L, error) {
	lines := []L{}
	err := postgres.SelectAll(ctx, q, &lines, postgres.Builder().
		Select(columns...).
		From(table).
		Where(squirrel.Eq{parentColumn: parentID}).
		OrderBy("line_no"))
	if err != nil {
		return nil, fmt.Errorf("lines of %s: %w", table, err)
	}
	return lines, nil
}

// pick keeps the values of cols, dropping skip.
func pick(values map[string]any, cols []string, skip ...string) map[string]any {
	skipped := make(map[string]struct{}, len(skip))
	for _, s := range skip {
		skipped[s] = struct{}{}
	}
	out := make(map[string]any, len(cols))
	for _, c := range cols {
		if _, ok := skipped[c]; ok {
			continue
		}
		if v, ok := values[c]; ok {
			out[c] = v
		}
	}
	return out
}
