package infra

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded migrations in dir to db.
func Migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string, logger Logger) error {
	sub, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("migrate: open %s: %w", dir, err)
	}
	provider, err := goose.NewProvider(dialect, db, sub)
	if err != nil {
		return fmt.Errorf("migrate: new provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: up: %w", err)
	}
	for _, res := range results {
		logger.Info().
			Int64("version", res.Source.Version).
			Dur("took", res.Duration).
			Msg("migration applied")
	}
	return nil
}

// MigratePostgres runs the Postgres migrations through database/sql. The
// runtime index talks to Postgres through pgx; migrations only need a short
// lived connection.
func MigratePostgres(ctx context.Context, databaseURL string, logger Logger) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("migrate: open postgres: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("migrate: ping postgres: %w", err)
	}
	return Migrate(ctx, db, goose.DialectPostgres, "migrations/postgres", logger)
}

// OpenSQLite opens (creating when needed) the SQLite database at path and
// brings its schema up to date.
func OpenSQLite(ctx context.Context, path string, logger Logger) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: ensure directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	if err := Migrate(ctx, db, goose.DialectSQLite3, "migrations/sqlite", logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
