package catalog

import (
	"context"

	"kbetl/internal/config"
	"kbetl/internal/vectorstore"
)

// New selects the Catalog backend the same way vectorstore.NewStore and
// draft.New pick theirs: Postgres when a DSN is configured, otherwise the
// in-process store for single-binary runs and tests.
func New(ctx context.Context, cfg config.CatalogConfig) (Store, error) {
	if cfg.DSN == "" {
		return NewMemory(), nil
	}
	pool, err := vectorstore.OpenPool(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return NewPostgres(ctx, pool)
}
