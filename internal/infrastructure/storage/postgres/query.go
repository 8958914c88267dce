package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
)

// Builder returns a squirrel builder using $n placeholders.
func Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// SelectAll runs sb and scans every row into dst.
func SelectAll(ctx context.Context, q Querier, dst any, sb squirrel.Sqlizer) error {
	sql, args, err := sb.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return pgxscan.Select(ctx, q, dst, sql, args...)
}

// GetOne runs sb and scans exactly one row into dst. A missing row is
// reported through pgxscan.NotFound.
func GetOne(ctx context.Context, q Querier, dst any, sb squirrel.Sqlizer) error {
	sql, args, err := sb.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return pgxscan.Get(ctx, q, dst, sql, args...)
}

// Exec builds and executes sb, returning the affected row count.
func Exec(ctx context.Context, q Querier, sb squirrel.Sqlizer) (int64, error) {
	sql, args, err := sb.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build statement: %w", err)
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
