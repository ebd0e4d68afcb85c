package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

// pgStore is the Postgres-backed Store, used whenever
// config.CatalogConfig.DSN is set. Each entity keeps a handful of indexed
// columns for the predicates this package's queries actually filter on
// (workspace_id, kb_id, document_id, status) and carries the rest of its
// fields as a JSONB blob - the same blob-plus-index-columns shape
// internal/draft/redis.go uses for Draft, adapted here to a relational
// store instead of Redis keys.
type pgStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgres bootstraps the catalog schema against pool and returns a Store.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (Store, error) {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return nil, kberr.Wrap(kberr.Transient, err, "bootstrap catalog schema")
	}
	return &pgStore{pool: pool, now: time.Now}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS kb_knowledge_bases (
  id           TEXT PRIMARY KEY,
  workspace_id TEXT NOT NULL,
  status       TEXT NOT NULL,
  created_at   TIMESTAMPTZ NOT NULL,
  updated_at   TIMESTAMPTZ NOT NULL,
  data         JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS kb_knowledge_bases_workspace_idx ON kb_knowledge_bases (workspace_id);

CREATE TABLE IF NOT EXISTS kb_sources (
  id       TEXT PRIMARY KEY,
  kb_id    TEXT NOT NULL,
  enabled  BOOLEAN NOT NULL,
  data     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS kb_sources_kb_idx ON kb_sources (kb_id);

CREATE TABLE IF NOT EXISTS kb_documents (
  id         TEXT PRIMARY KEY,
  kb_id      TEXT NOT NULL,
  status     TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  data       JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS kb_documents_kb_idx ON kb_documents (kb_id);

CREATE TABLE IF NOT EXISTS kb_chunks (
  id          TEXT PRIMARY KEY,
  kb_id       TEXT NOT NULL,
  document_id TEXT NOT NULL,
  ordinal     INT NOT NULL,
  enabled     BOOLEAN NOT NULL,
  data        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS kb_chunks_document_idx ON kb_chunks (document_id, ordinal);
CREATE INDEX IF NOT EXISTS kb_chunks_kb_idx ON kb_chunks (kb_id);

CREATE TABLE IF NOT EXISTS kb_runs (
  run_id   TEXT PRIMARY KEY,
  kb_id    TEXT NOT NULL,
  state    TEXT NOT NULL,
  cancel   BOOLEAN NOT NULL DEFAULT false,
  data     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS kb_runs_kb_idx ON kb_runs (kb_id);
`

func (p *pgStore) Close() error { p.pool.Close(); return nil }

// --- Knowledge bases -------------------------------------------------

func (p *pgStore) CreateKnowledgeBase(ctx context.Context, kb model.KnowledgeBase) error {
	data, err := json.Marshal(kb)
	if err != nil {
		return kberr.Wrap(kberr.Internal, err, "marshal knowledge base %s", kb.ID)
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO kb_knowledge_bases (id, workspace_id, status, created_at, updated_at, data)
VALUES ($1, $2, $3, $4, $5, $6)`, kb.ID, kb.WorkspaceID, string(kb.Status), kb.CreatedAt, kb.UpdatedAt, data)
	if err != nil {
		return kberr.Wrap(kberr.Transient, err, "insert knowledge base %s", kb.ID)
	}
	return nil
}

func (p *pgStore) GetKnowledgeBase(ctx context.Context, kbID string) (model.KnowledgeBase, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM kb_knowledge_bases WHERE id = $1`, kbID).Scan(&data)
	if err == pgx.ErrNoRows {
		return model.KnowledgeBase{}, kberr.Newf(kberr.NotFound, "knowledge base %s not found", kbID)
	}
	if err != nil {
		return model.KnowledgeBase{}, kberr.Wrap(kberr.Transient, err, "load knowledge base %s", kbID)
	}
	var kb model.KnowledgeBase
	if err := json.Unmarshal(data, &kb); err != nil {
		return model.KnowledgeBase{}, kberr.Wrap(kberr.DataError, err, "unmarshal knowledge base %s", kbID)
	}
	return kb, nil
}

func (p *pgStore) ListKnowledgeBases(ctx context.Context, workspaceID string, page, limit int) (Page[model.KnowledgeBase], error) {
	rows, err := p.pool.Query(ctx, `SELECT data FROM kb_knowledge_bases WHERE workspace_id = $1 ORDER BY created_at`, workspaceID)
	if err != nil {
		return Page[model.KnowledgeBase]{}, kberr.Wrap(kberr.Transient, err, "list knowledge bases")
	}
	defer rows.Close()
	var all []model.KnowledgeBase
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return Page[model.KnowledgeBase]{}, kberr.Wrap(kberr.DataError, err, "scan knowledge base row")
		}
		var kb model.KnowledgeBase
		if err := json.Unmarshal(data, &kb); err != nil {
			return Page[model.KnowledgeBase]{}, kberr.Wrap(kberr.DataError, err, "unmarshal knowledge base row")
		}
		all = append(all, kb)
	}
	return paginate(all, page, limit), rows.Err()
}

func (p *pgStore) ListAllKnowledgeBases(ctx context.Context) ([]KBRef, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, workspace_id FROM kb_knowledge_bases ORDER BY id`)
	if err != nil {
		return nil, kberr.Wrap(kberr.Transient, err, "list all knowledge bases")
	}
	defer rows.Close()
	var out []KBRef
	for rows.Next() {
		var ref KBRef
		if err := rows.Scan(&ref.ID, &ref.WorkspaceID); err != nil {
			return nil, kberr.Wrap(kberr.DataError, err, "scan knowledge base ref")
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (p *pgStore) UpdateKnowledgeBaseStatus(ctx context.Context, kbID string, status model.KBStatus) error {
	kb, err := p.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return err
	}
	kb.Status = status
	kb.UpdatedAt = p.now()
	data, err := json.Marshal(kb)
	if err != nil {
		return kberr.Wrap(kberr.Internal, err, "marshal knowledge base %s", kbID)
	}
	_, err = p.pool.Exec(ctx, `UPDATE kb_knowledge_bases SET status = $2, updated_at = $3, data = $4 WHERE id = $1`,
		kbID, string(status), kb.UpdatedAt, data)
	if err != nil {
		return kberr.Wrap(kberr.Transient, err, "update knowledge base %s status", kbID)
	}
	return nil
}

func (p *pgStore) DeleteKnowledgeBase(ctx context.Context, workspaceID, kbID string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM kb_knowledge_bases WHERE id = $1 AND workspace_id = $2`, kbID, workspaceID)
	if err != nil {
		return kberr.Wrap(kberr.Transient, err, "delete knowledge base %s", kbID)
	}
	if tag.RowsAffected() == 0 {
		return kberr.Newf(kberr.NotFound, "knowledge base %s not found", kbID)
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM kb_chunks WHERE kb_id = $1`, kbID); err != nil {
		return kberr.Wrap(kberr.Transient, err, "cascade delete chunks for kb %s", kbID)
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM kb_documents WHERE kb_id = $1`, kbID); err != nil {
		return kberr.Wrap(kberr.Transient, err, "cascade delete documents for kb %s", kbID)
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM kb_sources WHERE kb_id = $1`, kbID); err != nil {
		return kberr.Wrap(kberr.Transient, err, "cascade delete sources for kb %s", kbID)
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM kb_runs WHERE kb_id = $1`, kbID); err != nil {
		return kberr.Wrap(kberr.Transient, err, "cascade delete runs for kb %s", kbID)
	}
	return nil
}

// --- Sources -----------------------------------------------------------

func (p *pgStore) CreateSources(ctx context.Context, kbID string, sources []model.Source) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return kberr.Wrap(kberr.Transient, err, "begin create sources transaction")
	}
	defer tx.Rollback(ctx)
	for _, src := range sources {
		src.KBID = kbID
		data, err := json.Marshal(src)
		if err != nil {
			return kberr.Wrap(kberr.Internal, err, "marshal source %s", src.ID)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO kb_sources (id, kb_id, enabled, data) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET kb_id = EXCLUDED.kb_id, enabled = EXCLUDED.enabled, data = EXCLUDED.data`,
			src.ID, kbID, src.Enabled, data)
		if err != nil {
			return kberr.Wrap(kberr.Transient, err, "insert source %s", src.ID)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return kberr.Wrap(kberr.Transient, err, "commit create sources transaction")
	}
	return nil
}

func (p *pgStore) ListEnabledSources(ctx context.Context, kbID string) ([]model.Source, error) {
	rows, err := p.pool.Query(ctx, `SELECT data FROM kb_sources WHERE kb_id = $1 AND enabled = true ORDER BY id`, kbID)
	if err != nil {
		return nil, kberr.Wrap(kberr.Transient, err, "list enabled sources for kb %s", kbID)
	}
	defer rows.Close()
	var out []model.Source
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, kberr.Wrap(kberr.DataError, err, "scan source row")
		}
		var src model.Source
		if err := json.Unmarshal(data, &src); err != nil {
			return nil, kberr.Wrap(kberr.DataError, err, "unmarshal source row")
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (p *pgStore) Source(ctx context.Context, id string) (model.Source, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM kb_sources WHERE id = $1`, id).Scan(&data)
	if err == pgx.ErrNoRows {
		return model.Source{}, kberr.Newf(kberr.NotFound, "source %s not found", id)
	}
	if err != nil {
		return model.Source{}, kberr.Wrap(kberr.Transient, err, "load source %s", id)
	}
	var src model.Source
	if err := json.Unmarshal(data, &src); err != nil {
		return model.Source{}, kberr.Wrap(kberr.DataError, err, "unmarshal source %s", id)
	}
	return src, nil
}

// --- Documents -----------------------------------------------------------

func (p *pgStore) UpsertDocument(ctx context.Context, doc model.Document) error {
	now := p.now()
	existing, err := p.loadDocument(ctx, doc.ID)
	if err == nil {
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = existing.CreatedAt
		}
	} else if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	data, err := json.Marshal(doc)
	if err != nil {
		return kberr.Wrap(kberr.Internal, err, "marshal document %s", doc.ID)
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO kb_documents (id, kb_id, status, created_at, updated_at, data)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET kb_id = EXCLUDED.kb_id, status = EXCLUDED.status,
  updated_at = EXCLUDED.updated_at, data = EXCLUDED.data`,
		doc.ID, doc.KBID, string(doc.Status), doc.CreatedAt, doc.UpdatedAt, data)
	if err != nil {
		return kberr.Wrap(kberr.Transient, err, "upsert document %s", doc.ID)
	}
	return nil
}

func (p *pgStore) loadDocument(ctx context.Context, docID string) (model.Document, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM kb_documents WHERE id = $1`, docID).Scan(&data)
	if err == pgx.ErrNoRows {
		return model.Document{}, kberr.Newf(kberr.NotFound, "document %s not found", docID)
	}
	if err != nil {
		return model.Document{}, kberr.Wrap(kberr.Transient, err, "load document %s", docID)
	}
	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.Document{}, kberr.Wrap(kberr.DataError, err, "unmarshal document %s", docID)
	}
	return doc, nil
}

func (p *pgStore) workspaceOwnsKB(ctx context.Context, workspaceID, kbID string) error {
	kb, err := p.GetKnowledgeBase(ctx, kbID)
	if err != nil || kb.WorkspaceID != workspaceID {
		return kberr.Newf(kberr.NotFound, "knowledge base %s not found", kbID)
	}
	return nil
}

func (p *pgStore) GetDocument(ctx context.Context, workspaceID, kbID, docID string) (model.Document, error) {
	if err := p.workspaceOwnsKB(ctx, workspaceID, kbID); err != nil {
		return model.Document{}, err
	}
	doc, err := p.loadDocument(ctx, docID)
	if err != nil {
		return model.Document{}, err
	}
	if doc.KBID != kbID {
		return model.Document{}, kberr.Newf(kberr.NotFound, "document %s not found", docID)
	}
	return doc, nil
}

func (p *pgStore) ListDocuments(ctx context.Context, workspaceID, kbID string, page, limit int) (Page[model.Document], error) {
	if err := p.workspaceOwnsKB(ctx, workspaceID, kbID); err != nil {
		return Page[model.Document]{}, err
	}
	rows, err := p.pool.Query(ctx, `SELECT data FROM kb_documents WHERE kb_id = $1 ORDER BY created_at`, kbID)
	if err != nil {
		return Page[model.Document]{}, kberr.Wrap(kberr.Transient, err, "list documents for kb %s", kbID)
	}
	defer rows.Close()
	var all []model.Document
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return Page[model.Document]{}, kberr.Wrap(kberr.DataError, err, "scan document row")
		}
		var doc model.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return Page[model.Document]{}, kberr.Wrap(kberr.DataError, err, "unmarshal document row")
		}
		all = append(all, doc)
	}
	return paginate(all, page, limit), rows.Err()
}

func (p *pgStore) UpdateDocumentConfig(ctx context.Context, workspaceID, kbID, docID string, patch DocumentPatch) error {
	doc, err := p.GetDocument(ctx, workspaceID, kbID, docID)
	if err != nil {
		return err
	}
	if patch.ChunkingOverride != nil {
		if err := patch.ChunkingOverride.Validate(); err != nil {
			return err
		}
		src, err := p.Source(ctx, doc.SourceID)
		if err == nil {
			cfg := *patch.ChunkingOverride
			src.Config.ChunkingOverride = &cfg
			if err := p.CreateSources(ctx, kbID, []model.Source{src}); err != nil {
				return err
			}
		}
	}
	doc.Status = model.DocumentPending
	return p.UpsertDocument(ctx, doc)
}

func (p *pgStore) DeleteDocument(ctx context.Context, workspaceID, kbID, docID string) error {
	if _, err := p.GetDocument(ctx, workspaceID, kbID, docID); err != nil {
		return err
	}
	if err := p.DeleteChunksForDocument(ctx, kbID, docID); err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM kb_documents WHERE id = $1`, docID); err != nil {
		return kberr.Wrap(kberr.Transient, err, "delete document %s", docID)
	}
	return nil
}

// --- Chunks -----------------------------------------------------------

func (p *pgStore) UpsertChunks(ctx context.Context, kbID string, chunks []model.Chunk) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return kberr.Wrap(kberr.Transient, err, "begin upsert chunks transaction")
	}
	defer tx.Rollback(ctx)
	byDoc := map[string]int{}
	for _, c := range chunks {
		c.KBID = kbID
		data, err := json.Marshal(c)
		if err != nil {
			return kberr.Wrap(kberr.Internal, err, "marshal chunk %s", c.ID)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO kb_chunks (id, kb_id, document_id, ordinal, enabled, data)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET kb_id = EXCLUDED.kb_id, document_id = EXCLUDED.document_id,
  ordinal = EXCLUDED.ordinal, enabled = EXCLUDED.enabled, data = EXCLUDED.data`,
			c.ID, kbID, c.DocumentID, c.Ordinal, c.Enabled, data)
		if err != nil {
			return kberr.Wrap(kberr.Transient, err, "upsert chunk %s", c.ID)
		}
		byDoc[c.DocumentID]++
	}
	if err := tx.Commit(ctx); err != nil {
		return kberr.Wrap(kberr.Transient, err, "commit upsert chunks transaction")
	}
	for docID, n := range byDoc {
		if _, err := p.pool.Exec(ctx, `
UPDATE kb_documents SET data = jsonb_set(data, '{chunk_count}', to_jsonb($2::int)) WHERE id = $1`, docID, n); err != nil {
			return kberr.Wrap(kberr.Transient, err, "update chunk_count for document %s", docID)
		}
	}
	return nil
}

func (p *pgStore) ListChunks(ctx context.Context, workspaceID, kbID string, documentID string, page, limit int) (Page[model.Chunk], error) {
	if err := p.workspaceOwnsKB(ctx, workspaceID, kbID); err != nil {
		return Page[model.Chunk]{}, err
	}
	var rows pgx.Rows
	var err error
	if documentID != "" {
		rows, err = p.pool.Query(ctx, `SELECT data FROM kb_chunks WHERE document_id = $1 ORDER BY ordinal`, documentID)
	} else {
		rows, err = p.pool.Query(ctx, `SELECT data FROM kb_chunks WHERE kb_id = $1 ORDER BY document_id, ordinal`, kbID)
	}
	if err != nil {
		return Page[model.Chunk]{}, kberr.Wrap(kberr.Transient, err, "list chunks")
	}
	defer rows.Close()
	var all []model.Chunk
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return Page[model.Chunk]{}, kberr.Wrap(kberr.DataError, err, "scan chunk row")
		}
		var c model.Chunk
		if err := json.Unmarshal(data, &c); err != nil {
			return Page[model.Chunk]{}, kberr.Wrap(kberr.DataError, err, "unmarshal chunk row")
		}
		all = append(all, c)
	}
	return paginate(all, page, limit), rows.Err()
}

func (p *pgStore) SetChunkEnabled(ctx context.Context, workspaceID, kbID, chunkID string, enabled bool) error {
	if err := p.workspaceOwnsKB(ctx, workspaceID, kbID); err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `
UPDATE kb_chunks SET enabled = $2, data = jsonb_set(data, '{enabled}', to_jsonb($2::bool))
WHERE id = $1 AND kb_id = $3`, chunkID, enabled, kbID)
	if err != nil {
		return kberr.Wrap(kberr.Transient, err, "set chunk %s enabled", chunkID)
	}
	if tag.RowsAffected() == 0 {
		return kberr.Newf(kberr.NotFound, "chunk %s not found", chunkID)
	}
	return nil
}

func (p *pgStore) DeleteChunksForDocument(ctx context.Context, kbID, documentID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM kb_chunks WHERE document_id = $1`, documentID); err != nil {
		return kberr.Wrap(kberr.Transient, err, "delete chunks for document %s", documentID)
	}
	return nil
}

// --- Stats -----------------------------------------------------------

func (p *pgStore) Stats(ctx context.Context, workspaceID, kbID string) (Stats, error) {
	if err := p.workspaceOwnsKB(ctx, workspaceID, kbID); err != nil {
		return Stats{}, err
	}
	var items []model.Document
	for pg := 1; ; pg++ {
		docs, err := p.ListDocuments(ctx, workspaceID, kbID, pg, maxPageLimit)
		if err != nil {
			return Stats{}, err
		}
		items = append(items, docs.Items...)
		if !docs.HasNext {
			break
		}
	}
	st := Stats{Documents: DocumentStats{ByStatus: map[model.DocumentStatus]int{}}}
	var lastIndexed *time.Time
	for _, doc := range items {
		if doc.Status == model.DocumentDisabled || doc.Status == "" {
			continue
		}
		st.Documents.ByStatus[doc.Status]++
		st.Documents.Total++
		if model.ActiveDocumentStatuses[doc.Status] {
			st.Documents.Active++
		}
		if doc.Status == model.DocumentIndexed {
			t := doc.UpdatedAt
			if lastIndexed == nil || t.After(*lastIndexed) {
				lastIndexed = &t
			}
		}
	}
	var total, enabled int
	err = p.pool.QueryRow(ctx, `SELECT count(*), count(*) FILTER (WHERE enabled) FROM kb_chunks WHERE kb_id = $1`, kbID).Scan(&total, &enabled)
	if err != nil {
		return Stats{}, kberr.Wrap(kberr.Transient, err, "count chunks for kb %s", kbID)
	}
	st.Chunks = ChunkStats{Total: total, Enabled: enabled}
	st.LastIndexedAt = lastIndexed
	return st, nil
}

// maxPageLimit caps the page size Stats uses internally to sweep every
// document; it mirrors the ceiling paginate() enforces for caller-facing pages.
const maxPageLimit = 500

// --- Pipeline runs / stage events --------------------------------------

func (p *pgStore) CreateRun(ctx context.Context, run model.PipelineRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return kberr.Wrap(kberr.Internal, err, "marshal run %s", run.RunID)
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO kb_runs (run_id, kb_id, state, data) VALUES ($1, $2, $3, $4)`,
		run.RunID, run.KBID, string(run.State), data)
	if err != nil {
		return kberr.Wrap(kberr.Transient, err, "insert run %s", run.RunID)
	}
	return nil
}

func (p *pgStore) loadRun(ctx context.Context, runID string) (model.PipelineRun, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM kb_runs WHERE run_id = $1`, runID).Scan(&data)
	if err == pgx.ErrNoRows {
		return model.PipelineRun{}, kberr.Newf(kberr.NotFound, "run %s not found", runID)
	}
	if err != nil {
		return model.PipelineRun{}, kberr.Wrap(kberr.Transient, err, "load run %s", runID)
	}
	var run model.PipelineRun
	if err := json.Unmarshal(data, &run); err != nil {
		return model.PipelineRun{}, kberr.Wrap(kberr.DataError, err, "unmarshal run %s", runID)
	}
	return run, nil
}

func (p *pgStore) GetRun(ctx context.Context, runID string) (model.PipelineRun, error) {
	return p.loadRun(ctx, runID)
}

func (p *pgStore) saveRun(ctx context.Context, run model.PipelineRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return kberr.Wrap(kberr.Internal, err, "marshal run %s", run.RunID)
	}
	_, err = p.pool.Exec(ctx, `UPDATE kb_runs SET state = $2, data = $3 WHERE run_id = $1`, run.RunID, string(run.State), data)
	if err != nil {
		return kberr.Wrap(kberr.Transient, err, "save run %s", run.RunID)
	}
	return nil
}

func (p *pgStore) HasActiveRun(ctx context.Context, kbID string) (bool, error) {
	states := make([]string, 0, len(model.ActiveRunStates))
	for s, active := range model.ActiveRunStates {
		if active {
			states = append(states, string(s))
		}
	}
	var n int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM kb_runs WHERE kb_id = $1 AND state = ANY($2)`, kbID, states).Scan(&n)
	if err != nil {
		return false, kberr.Wrap(kberr.Transient, err, "check active runs for kb %s", kbID)
	}
	return n > 0, nil
}

func (p *pgStore) CountActiveRuns(ctx context.Context, workspaceID string) (int, error) {
	states := make([]string, 0, len(model.ActiveRunStates))
	for s, active := range model.ActiveRunStates {
		if active {
			states = append(states, string(s))
		}
	}
	var n int
	err := p.pool.QueryRow(ctx, `
SELECT count(*) FROM kb_runs r
JOIN kb_knowledge_bases k ON k.id = r.kb_id
WHERE k.workspace_id = $1 AND r.state = ANY($2)`, workspaceID, states).Scan(&n)
	if err != nil {
		return 0, kberr.Wrap(kberr.Transient, err, "count active runs for workspace %s", workspaceID)
	}
	return n, nil
}

func (p *pgStore) UpdateRunState(ctx context.Context, runID string, state model.RunState, finishedAt *time.Time) error {
	run, err := p.loadRun(ctx, runID)
	if err != nil {
		return err
	}
	run.State = state
	if state == model.RunRunning && run.StartedAt.IsZero() {
		run.StartedAt = p.now()
	}
	if finishedAt != nil {
		run.FinishedAt = finishedAt
	}
	return p.saveRun(ctx, run)
}

func (p *pgStore) UpdateProgress(ctx context.Context, runID string, progress model.Progress, counters model.RunCounters) error {
	run, err := p.loadRun(ctx, runID)
	if err != nil {
		return err
	}
	run.Progress = progress
	run.Counters = counters
	return p.saveRun(ctx, run)
}

func (p *pgStore) AppendStageEvent(ctx context.Context, runID string, ev model.StageEvent) error {
	run, err := p.loadRun(ctx, runID)
	if err != nil {
		return err
	}
	run.StageLog = trimStageLog(append(run.StageLog, ev))
	return p.saveRun(ctx, run)
}

func (p *pgStore) ListStageEvents(ctx context.Context, runID string, since time.Time) ([]model.StageEvent, error) {
	run, err := p.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	var out []model.StageEvent
	for _, ev := range run.StageLog {
		if ev.Ts.After(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (p *pgStore) RequestCancel(ctx context.Context, runID string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE kb_runs SET cancel = true WHERE run_id = $1`, runID)
	if err != nil {
		return kberr.Wrap(kberr.Transient, err, "request cancel for run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return kberr.Newf(kberr.NotFound, "run %s not found", runID)
	}
	return nil
}

func (p *pgStore) CancelRequested(ctx context.Context, runID string) (bool, error) {
	var cancel bool
	err := p.pool.QueryRow(ctx, `SELECT cancel FROM kb_runs WHERE run_id = $1`, runID).Scan(&cancel)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, kberr.Wrap(kberr.Transient, err, "check cancel for run %s", runID)
	}
	return cancel, nil
}

func (p *pgStore) SetRunPaused(ctx context.Context, runID string, paused bool) error {
	run, err := p.loadRun(ctx, runID)
	if err != nil {
		return err
	}
	if paused {
		run.State = model.RunPaused
	} else if run.State == model.RunPaused {
		run.State = model.RunRunning
	}
	return p.saveRun(ctx, run)
}
