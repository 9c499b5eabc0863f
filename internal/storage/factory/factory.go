// Package factory opens the storage backend named by configuration.
package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"relgit/internal/config"
	"relgit/internal/hashing"
	"relgit/internal/logging"
	"relgit/internal/metrics"
	"relgit/internal/repo"
	"relgit/internal/storage"
	"relgit/internal/storage/badgerstore"
	"relgit/internal/storage/sqlstore"
)

func Open(ctx context.Context, cfg config.Database) (storage.Backend, error) {
	switch cfg.Driver {
	case "badger":
		if !cfg.InMemory {
			if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		return badgerstore.Open(cfg.Path, cfg.InMemory)
	case "sqlite":
		if !cfg.InMemory {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		return sqlstore.Open(ctx, cfg.Path, cfg.InMemory)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// OpenStore opens the configured backend and wraps it in a repo.Store using
// the configured hash provider and commit cache. The caller closes the
// returned backend.
func OpenStore(ctx context.Context, cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) (*repo.Store, storage.Backend, error) {
	h, err := hashing.ByName(cfg.Hash)
	if err != nil {
		return nil, nil, err
	}
	backend, err := Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	store, err := repo.NewStore(backend, repo.Options{
		Hasher:    h,
		CacheSize: cfg.Cache.Commits,
		Logger:    logger,
		Metrics:   m,
	})
	if err != nil {
		backend.Close()
		return nil, nil, err
	}
	return store, backend, nil
}
