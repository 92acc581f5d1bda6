// Package migrations holds the schema for the jobs and library tables.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/cuongbtq/tutor-be/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

//go:embed *.sql
var files embed.FS

// Apply runs every embedded migration in name order inside one transaction.
// Statements are idempotent (IF NOT EXISTS), so re-running is safe.
func Apply(ctx context.Context, client *postgresql.Client, logger *slog.Logger) error {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	return client.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, name := range names {
			body, err := files.ReadFile(name)
			if err != nil {
				return fmt.Errorf("failed to read migration %s: %w", name, err)
			}
			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return fmt.Errorf("failed to apply migration %s: %w", name, err)
			}
			logger.Info("Migration applied", slog.String("name", name))
		}
		return nil
	})
}
