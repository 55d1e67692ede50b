package artifact

import (
	"context"
	"fmt"

	"photobooth/internal/infra"
)

// OpenIndex builds the index selected by cfg.IndexBackend. The returned close
// function releases its connections and is never nil.
func OpenIndex(ctx context.Context, cfg *infra.Config, logger infra.Logger) (Index, func(), error) {
	switch cfg.IndexBackend {
	case "", "memory":
		return NewMemoryIndex(), func() {}, nil
	case "sqlite":
		db, err := infra.OpenSQLite(ctx, cfg.IndexSQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return NewSQLiteIndex(db), func() { _ = db.Close() }, nil
	case "postgres":
		if err := infra.MigratePostgres(ctx, cfg.DatabaseURL, logger); err != nil {
			return nil, nil, err
		}
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return NewPostgresIndex(infra.NewSQLRunner(pool, logger)), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("artifact: unknown index backend %q", cfg.IndexBackend)
	}
}
