package storage

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/docjob-queue/internal/storage/migrations"
)

// migrationLockKey serializes EnsureSchema across services starting together
const migrationLockKey int64 = 0x646f636a6f62 // "docjob"

// EnsureSchema applies any embedded migration that has not been recorded yet.
// All pending migrations run in one transaction holding an advisory lock, so
// concurrent callers apply each migration exactly once.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	files, err := migrationFiles(migrations.Files)
	if err != nil {
		return err
	}

	var applied []string
	err = s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`); err != nil {
			return fmt.Errorf("failed to create schema_migrations: %w", err)
		}

		for _, file := range files {
			var done bool
			if err := tx.GetContext(ctx, &done, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, file); err != nil {
				return fmt.Errorf("failed to check migration %s: %w", file, err)
			}
			if done {
				continue
			}
			if err := applyMigration(ctx, tx, file, s.now()); err != nil {
				return err
			}
			applied = append(applied, file)
		}
		return nil
	})
	if err != nil {
		return s.classify(err)
	}

	for _, file := range applied {
		s.logger.Info("Applied migration", slog.String("version", file))
	}
	return nil
}

func applyMigration(ctx context.Context, tx *sqlx.Tx, file string, now time.Time) error {
	body, err := migrations.Files.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("failed to apply migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING`, file, now); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", file, err)
	}
	return nil
}

func migrationFiles(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files, nil
}
