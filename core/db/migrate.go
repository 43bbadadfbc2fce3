package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"time"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies the embedded migrations for the open dialect in filename
// order. Applied files are recorded in schema_migrations.
func (db *DB) Migrate(ctx context.Context) error {
	q := db.Queries()

	_, err := q.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at BIGINT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	dir := "migrations/" + string(db.dialect)
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("reading migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile(dir + "/" + name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		err = db.WithTx(ctx, func(tx *Queries) error {
			if _, err := tx.db.ExecContext(ctx, string(data)); err != nil {
				return fmt.Errorf("applying migration %s: %w", name, err)
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)", name, time.Now().UnixMilli())
			return err
		})
		if err != nil {
			return err
		}

		slog.InfoContext(ctx, "applied migration", "file", name, "dialect", db.dialect)
	}

	return nil
}
