package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"osiris/pkg/logger"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate applies the embedded schema files in name order. Every statement
// is idempotent, so running it on an up-to-date database is a no-op.
func Migrate(ctx context.Context, pool *Pool) error {
	names, err := fs.Glob(schemaFS, "schema/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := schemaFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		logger.Debug(ctx, "schema applied", "file", name)
	}
	return nil
}
