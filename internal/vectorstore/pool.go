package vectorstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"kbetl/internal/kberr"
)

// OpenPool opens a Postgres connection pool with conservative, fixed
// tuning suitable for the catalog/vector workloads in this pipeline.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, kberr.Wrap(kberr.InvalidArgument, err, "parse postgres dsn")
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, kberr.Wrap(kberr.Transient, err, "open postgres pool")
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, kberr.Wrap(kberr.Transient, err, "ping postgres pool")
	}
	return pool, nil
}
