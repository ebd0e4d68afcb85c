package objectstore

import (
	"context"

	"kbetl/internal/config"
)

// New selects the ObjectStore backend the same way vectorstore.NewStore,
// catalog.New, and draft.New pick theirs: S3 (or an S3-compatible
// endpoint, e.g. MinIO) when a bucket is configured, otherwise the
// in-process store for single-binary runs and tests.
func New(ctx context.Context, cfg config.S3Config) (ObjectStore, error) {
	if cfg.Bucket == "" {
		return NewMemoryStore(), nil
	}
	return NewS3Store(ctx, cfg)
}
