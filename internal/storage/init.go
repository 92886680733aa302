// internal/storage/init.go
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationPath = "migrations"

// Migrate runs a goose command ("up", "down" or "status") against db using
// the embedded migration files.
func Migrate(ctx context.Context, db *sql.DB, command string) error {
	const op = "storage.Migrate"

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var err error
	switch command {
	case "up":
		err = goose.UpContext(ctx, db, migrationPath)
		if errors.Is(err, goose.ErrNoNextVersion) {
			slog.Info("no migrations to apply")
			return nil
		}
	case "down":
		err = goose.DownContext(ctx, db, migrationPath)
	case "status":
		err = goose.StatusContext(ctx, db, migrationPath)
	default:
		return fmt.Errorf("%s: unknown command %q", op, command)
	}
	if err != nil {
		return fmt.Errorf("%s: %s: %w", op, command, err)
	}
	slog.Info("database migrations done", "command", command)
	return nil
}
