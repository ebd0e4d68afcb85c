// Package catalog implements the KB Catalog (C8): the durable,
// workspace-scoped record of knowledge bases, their documents, chunks,
// pipeline runs, and stage events. Every read takes workspace_id as an
// explicit argument and every implementation enforces it in the
// generated predicate, the same tenant-filter discipline
// internal/vectorstore's Filter enforces on the vector side.
//
// Store satisfies internal/orchestrator.Catalog and internal/draft's
// FinalizeHandler (via Handoff, handoff.go) structurally, so neither of
// those packages needs to import this one.
package catalog

import (
	"context"
	"time"

	"kbetl/internal/model"
)

// Page is one page of a listing, matching the "all listings support
// page, limit, total, total_pages, has_next, has_previous" requirement.
type Page[T any] struct {
	Items       []T  `json:"items"`
	Page        int  `json:"page"`
	Limit       int  `json:"limit"`
	Total       int  `json:"total"`
	TotalPages  int  `json:"total_pages"`
	HasNext     bool `json:"has_next"`
	HasPrevious bool `json:"has_previous"`
}

func paginate[T any](all []T, page, limit int) Page[T] {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	total := len(all)
	totalPages := (total + limit - 1) / limit
	if totalPages == 0 {
		totalPages = 1
	}
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	items := append([]T(nil), all[start:end]...)
	return Page[T]{
		Items:       items,
		Page:        page,
		Limit:       limit,
		Total:       total,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
	}
}

// DocumentStats is the per-KB document breakdown: total counts all
// non-archived documents, active counts the subset in
// model.ActiveDocumentStatuses. Both are always reported as distinct
// fields; downstream consumers key on active.
type DocumentStats struct {
	Total    int                          `json:"total"`
	Active   int                          `json:"active"`
	ByStatus map[model.DocumentStatus]int `json:"by_status"`
}

// ChunkStats is the per-KB chunk breakdown.
type ChunkStats struct {
	Total   int `json:"total"`
	Enabled int `json:"enabled"`
}

// Stats is the full per-KB stats bundle returned by GET /kbs/{kb_id}/stats.
type Stats struct {
	Documents     DocumentStats `json:"documents"`
	Chunks        ChunkStats    `json:"chunks"`
	LastIndexedAt *time.Time    `json:"last_indexed_at,omitempty"`
}

// KBRef is the lightweight (id, workspace_id) pair the Reconciler walks to
// sweep every KB in the system; unlike the rest of this interface it is not
// workspace-scoped, since the sweep itself is what establishes scope for
// each KB it visits.
type KBRef struct {
	ID          string
	WorkspaceID string
}

// DocumentPatch is a partial update applied by UpdateDocumentConfig;
// updating a document's source-scoped chunking config marks it pending
// and enqueues a reprocess scoped to that document only.
type DocumentPatch struct {
	ChunkingOverride *model.ChunkingConfig
}

// Store is the KB Catalog's (C8) full operation surface: the subset
// internal/orchestrator reads/writes through (declared below so Store
// satisfies orchestrator.Catalog without a type assertion) plus the KB/
// Document/Chunk CRUD and stats the HTTP surface needs.
type Store interface {
	// KB CRUD. Status transitions are constrained to the run state
	// machine by the orchestrator and Reconciler, never by callers directly.
	CreateKnowledgeBase(ctx context.Context, kb model.KnowledgeBase) error
	GetKnowledgeBase(ctx context.Context, kbID string) (model.KnowledgeBase, error)
	ListKnowledgeBases(ctx context.Context, workspaceID string, page, limit int) (Page[model.KnowledgeBase], error)
	// ListAllKnowledgeBases backs the Reconciler's sweep; it is the one
	// listing in this Store not scoped to a caller-supplied workspace_id.
	ListAllKnowledgeBases(ctx context.Context) ([]KBRef, error)
	UpdateKnowledgeBaseStatus(ctx context.Context, kbID string, status model.KBStatus) error
	DeleteKnowledgeBase(ctx context.Context, workspaceID, kbID string) error

	// Sources, scoped to a KB (distinct from draft.Source, which lives
	// only pre-finalize). ListEnabledSources/Source back the orchestrator.
	CreateSources(ctx context.Context, kbID string, sources []model.Source) error
	ListEnabledSources(ctx context.Context, kbID string) ([]model.Source, error)
	Source(ctx context.Context, id string) (model.Source, error)

	// Document CRUD. UpsertDocument backs the orchestrator's
	// per-stage status writes; UpdateDocumentConfig is the caller-facing
	// reprocess-one-document entry point.
	UpsertDocument(ctx context.Context, doc model.Document) error
	GetDocument(ctx context.Context, workspaceID, kbID, docID string) (model.Document, error)
	ListDocuments(ctx context.Context, workspaceID, kbID string, page, limit int) (Page[model.Document], error)
	UpdateDocumentConfig(ctx context.Context, workspaceID, kbID, docID string, patch DocumentPatch) error
	DeleteDocument(ctx context.Context, workspaceID, kbID, docID string) error

	// Chunk read/list/enable-disable. SetChunkEnabled flips the
	// catalog row only; the Vector Index is left to the caller (the HTTP
	// handler, which holds both Store and vectorstore.Store, deletes a
	// disabled chunk's vector and does not touch the index on re-enable).
	UpsertChunks(ctx context.Context, kbID string, chunks []model.Chunk) error
	ListChunks(ctx context.Context, workspaceID, kbID string, documentID string, page, limit int) (Page[model.Chunk], error)
	SetChunkEnabled(ctx context.Context, workspaceID, kbID, chunkID string, enabled bool) error
	DeleteChunksForDocument(ctx context.Context, kbID, documentID string) error

	// Stats.
	Stats(ctx context.Context, workspaceID, kbID string) (Stats, error)

	// PipelineRun / StageEvent. CreateRun and GetRun back
	// finalize/status handlers; the Update*/AppendStageEvent trio backs
	// the orchestrator.
	CreateRun(ctx context.Context, run model.PipelineRun) error
	GetRun(ctx context.Context, runID string) (model.PipelineRun, error)
	HasActiveRun(ctx context.Context, kbID string) (bool, error)
	// CountActiveRuns backs the per-workspace MaxConcurrentRunsPerWorkspace
	// quota: the number of runs in model.ActiveRunStates across
	// every KB owned by workspaceID.
	CountActiveRuns(ctx context.Context, workspaceID string) (int, error)
	UpdateRunState(ctx context.Context, runID string, state model.RunState, finishedAt *time.Time) error
	UpdateProgress(ctx context.Context, runID string, progress model.Progress, counters model.RunCounters) error
	AppendStageEvent(ctx context.Context, runID string, ev model.StageEvent) error
	ListStageEvents(ctx context.Context, runID string, since time.Time) ([]model.StageEvent, error)
	RequestCancel(ctx context.Context, runID string) error
	CancelRequested(ctx context.Context, runID string) (bool, error)
	SetRunPaused(ctx context.Context, runID string, paused bool) error

	Close() error
}
