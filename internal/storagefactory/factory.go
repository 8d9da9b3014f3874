// Package storagefactory selects and constructs a storage.Backend from
// config, kept separate from package storage itself so the backend
// subpackages (memory/postgres/qdrant) can depend on storage's shared types
// without an import cycle back through the factory.
package storagefactory

import (
	"context"
	"fmt"

	"mnemo/internal/config"
	"mnemo/internal/mnemoerr"
	"mnemo/internal/storage"
	"mnemo/internal/storage/memory"
	"mnemo/internal/storage/postgres"
	"mnemo/internal/storage/qdrant"
)

// NewBackend selects and constructs a storage.Backend from cfg, grounded on
// the teacher's NewManager switch-on-backend-string factory pattern.
func NewBackend(ctx context.Context, cfg config.StorageConfig, embeddingDim int) (storage.Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return memory.New(), nil

	case "postgres":
		pool, err := postgres.Open(ctx, cfg.ConnectionString)
		if err != nil {
			return nil, err
		}
		return postgres.New(pool), nil

	case "qdrant":
		pool, err := postgres.Open(ctx, cfg.ConnectionString)
		if err != nil {
			return nil, err
		}
		records := postgres.New(pool)
		index, err := qdrant.New(ctx, qdrant.Config{
			Addr:       cfg.QdrantAddr,
			Collection: cfg.QdrantCollection,
			Dimension:  uint64(embeddingDim),
		})
		if err != nil {
			return nil, err
		}
		return qdrant.NewBackend(records, index), nil

	default:
		return nil, fmt.Errorf("%w: unrecognized storage backend %q", mnemoerr.ErrValidation, cfg.Backend)
	}
}
