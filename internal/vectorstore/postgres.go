package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"kbetl/internal/kberr"
)

// pgStore is the pgvector-backed Store. All knowledge bases share one table,
// partitioned by kb_id; every read path additionally requires workspace_id
// so a query can never cross tenant boundaries even within one KB.
type pgStore struct {
	pool      *pgxpool.Pool
	dimension int
	metric    string // cosine|l2|ip
}

// NewPostgres bootstraps the pgvector extension/table and returns a Store
// backed by pool. dimension fixes the column width for the lifetime of the
// table; it must match the embedding profile bound to every KB using it.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, dimension int, metric string) (Store, error) {
	if dimension <= 0 {
		return nil, kberr.Newf(kberr.InvalidArgument, "postgres vector store requires dimension > 0")
	}
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return nil, kberr.Wrap(kberr.Transient, err, "enable pgvector extension")
	}
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS vector_records (
  kb_id        TEXT NOT NULL,
  vector_id    TEXT NOT NULL,
  vec          vector(%d) NOT NULL,
  workspace_id TEXT NOT NULL,
  document_id  TEXT NOT NULL,
  chunk_id     TEXT NOT NULL,
  ordinal      INT NOT NULL DEFAULT 0,
  enabled      BOOLEAN NOT NULL DEFAULT true,
  PRIMARY KEY (kb_id, vector_id)
);
CREATE INDEX IF NOT EXISTS vector_records_kb_workspace_idx ON vector_records (kb_id, workspace_id);
`, dimension)
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, kberr.Wrap(kberr.Transient, err, "bootstrap vector_records table")
	}
	return &pgStore{pool: pool, dimension: dimension, metric: strings.ToLower(strings.TrimSpace(metric))}, nil
}

func (p *pgStore) Dimension() int { return p.dimension }
func (p *pgStore) Close() error   { p.pool.Close(); return nil }

func (p *pgStore) Upsert(ctx context.Context, kbID, workspaceID string, records []Record) error {
	if err := validateRecords(kbID, workspaceID, records); err != nil {
		return err
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return kberr.Wrap(kberr.Transient, err, "begin vector upsert transaction")
	}
	defer tx.Rollback(ctx)
	for _, r := range records {
		if len(r.Vector) != p.dimension {
			return kberr.Newf(kberr.DataError, "record %s has %d dimensions, store expects %d", r.VectorID, len(r.Vector), p.dimension)
		}
		_, err := tx.Exec(ctx, `
INSERT INTO vector_records (kb_id, vector_id, vec, workspace_id, document_id, chunk_id, ordinal, enabled)
VALUES ($1, $2, $3::vector, $4, $5, $6, $7, $8)
ON CONFLICT (kb_id, vector_id) DO UPDATE SET
  vec = EXCLUDED.vec, workspace_id = EXCLUDED.workspace_id, document_id = EXCLUDED.document_id,
  chunk_id = EXCLUDED.chunk_id, ordinal = EXCLUDED.ordinal, enabled = EXCLUDED.enabled
`, kbID, r.VectorID, toVectorLiteral(r.Vector), r.Payload.WorkspaceID, r.Payload.DocumentID, r.Payload.ChunkID, r.Payload.Ordinal, r.Payload.Enabled)
		if err != nil {
			return kberr.Wrap(kberr.Transient, err, "upsert vector record %s", r.VectorID)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return kberr.Wrap(kberr.Transient, err, "commit vector upsert transaction")
	}
	return nil
}

func (p *pgStore) Delete(ctx context.Context, kbID string, filter Filter) error {
	if err := ensureFilterBuilt(filter); err != nil {
		return err
	}
	where, args := p.whereClause(kbID, filter)
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM vector_records WHERE %s`, where), args...)
	if err != nil {
		return kberr.Wrap(kberr.Transient, err, "delete vector records")
	}
	return nil
}

func (p *pgStore) Search(ctx context.Context, kbID string, query []float32, k int, filter Filter) ([]Result, error) {
	if err := ensureFilterBuilt(filter); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}
	op, scoreExpr := p.distanceExprs()
	where, args := p.whereClause(kbID, filter)
	args = append(args, toVectorLiteral(query))
	vecArg := fmt.Sprintf("$%d::vector", len(args))
	limitArg := len(args) + 1
	args = append(args, k)
	sql := fmt.Sprintf(`
SELECT vector_id, %s AS score, workspace_id, document_id, chunk_id, ordinal, enabled
FROM vector_records
WHERE %s
ORDER BY vec %s %s
LIMIT $%d`, fmt.Sprintf(scoreExpr, vecArg), where, op, vecArg, limitArg)
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, kberr.Wrap(kberr.Transient, err, "search vector records")
	}
	defer rows.Close()
	out := make([]Result, 0, k)
	for rows.Next() {
		var r Result
		var pl Payload
		if err := rows.Scan(&r.VectorID, &r.Score, &pl.WorkspaceID, &pl.DocumentID, &pl.ChunkID, &pl.Ordinal, &pl.Enabled); err != nil {
			return nil, kberr.Wrap(kberr.DataError, err, "scan vector search row")
		}
		pl.KBID = kbID
		r.Payload = pl
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *pgStore) Count(ctx context.Context, kbID string, filter Filter) (int, error) {
	if err := ensureFilterBuilt(filter); err != nil {
		return 0, err
	}
	where, args := p.whereClause(kbID, filter)
	var n int
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM vector_records WHERE %s`, where), args...).Scan(&n)
	if err != nil {
		return 0, kberr.Wrap(kberr.Transient, err, "count vector records")
	}
	return n, nil
}

// distanceExprs returns the ORDER BY operator and a score expression
// template (with one %s hole for the bound vector placeholder) for the
// configured metric. Cosine/L2 distances are inverted so higher is always
// closer, matching the Store.Search contract.
func (p *pgStore) distanceExprs() (op, scoreExprTemplate string) {
	switch p.metric {
	case "l2", "euclidean":
		return "<->", "-(vec <-> %s)"
	case "ip", "dot":
		return "<#>", "-(vec <#> %s)"
	default:
		return "<=>", "1 - (vec <=> %s)"
	}
}

func (p *pgStore) whereClause(kbID string, filter Filter) (string, []any) {
	clauses := []string{"kb_id = $1", "workspace_id = $2"}
	args := []any{kbID, filter.WorkspaceID}
	if filter.DocumentID != "" {
		args = append(args, filter.DocumentID)
		clauses = append(clauses, fmt.Sprintf("document_id = $%d", len(args)))
	}
	if filter.EnabledOnly {
		clauses = append(clauses, "enabled = true")
	}
	if len(filter.ChunkIDs) > 0 {
		args = append(args, filter.ChunkIDs)
		clauses = append(clauses, fmt.Sprintf("vector_id = ANY($%d)", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}
