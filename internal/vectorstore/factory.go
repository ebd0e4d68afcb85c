package vectorstore

import (
	"context"
	"strings"

	"kbetl/internal/kberr"
)

// Config selects and tunes one Store backend. The embedding profile bound
// to a knowledge base fixes Dimension and Metric for that KB's lifetime;
// callers must not change them once a backend has data for a given kb_id.
type Config struct {
	Backend   string // "memory" (default), "postgres"/"pgvector", "qdrant"
	DSN       string
	Dimension int
	Metric    string // cosine (default) | l2 | ip
}

// NewStore constructs the Store implementation named by cfg.Backend.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemory(cfg.Dimension), nil
	case "postgres", "pgvector", "pg":
		if cfg.DSN == "" {
			return nil, kberr.Newf(kberr.InvalidArgument, "postgres vector backend requires a dsn")
		}
		pool, err := OpenPool(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return NewPostgres(ctx, pool, cfg.Dimension, cfg.Metric)
	case "qdrant":
		if cfg.DSN == "" {
			return nil, kberr.Newf(kberr.InvalidArgument, "qdrant vector backend requires a dsn")
		}
		return NewQdrant(cfg.DSN, cfg.Dimension, cfg.Metric)
	default:
		return nil, kberr.Newf(kberr.InvalidArgument, "unsupported vector store backend %q", cfg.Backend)
	}
}
