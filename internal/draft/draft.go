// Package draft is the Draft Store: ephemeral, TTL-bounded
// authoring state for a knowledge base that has not yet been finalized.
// Every access keys by (workspace_id, draft_id); finalize is the one
// operation that must serialize across concurrent callers, so the Store
// pairs its state with a lock scoped to the draft.
package draft

import (
	"context"
	"time"

	"kbetl/internal/model"
)

// SourcePatch is a partial update to a Source within a draft; nil fields
// are left unchanged. update_source applies one of these.
type SourcePatch struct {
	Reference *string
	Config    *model.SourceConfig
	Enabled   *bool
}

// Previewer computes bounded preview artifacts for a set of sources. It is
// implemented by the component that wires the Adapter, Parser, and Chunker
// together; the Draft Store only stores and serves the result.
type Previewer interface {
	Preview(ctx context.Context, workspaceID string, sources []model.Source, overrides map[string]model.ChunkingConfig, maxPages, maxChunks int) (model.PreviewBundle, error)
}

// FinalizeHandler hands a finalized draft off to the Orchestrator,
// returning the new KB and PipelineRun ids on success.
type FinalizeHandler interface {
	Handoff(ctx context.Context, d model.Draft) (kbID, runID string, err error)
}

// Store is the Draft Store's operation surface.
type Store interface {
	CreateDraft(ctx context.Context, workspaceID, userID string, spec model.KBSpec, ttl time.Duration) (*model.Draft, error)
	GetDraft(ctx context.Context, workspaceID, draftID string) (*model.Draft, error)
	AddSource(ctx context.Context, workspaceID, draftID string, src model.Source) (string, error)
	UpdateSource(ctx context.Context, workspaceID, draftID, sourceID string, patch SourcePatch) error
	RemoveSource(ctx context.Context, workspaceID, draftID, sourceID string) error
	SetChunkingOverride(ctx context.Context, workspaceID, draftID, sourceID string, cfg model.ChunkingConfig) error
	Preview(ctx context.Context, workspaceID, draftID string, sourceID string, maxPages, maxChunks int) (model.PreviewBundle, error)
	ListPages(ctx context.Context, workspaceID, draftID, sourceID string) ([]model.Page, error)
	GetPage(ctx context.Context, workspaceID, draftID, sourceID string, index int) (model.Page, error)
	Finalize(ctx context.Context, workspaceID, draftID string, handler FinalizeHandler) (kbID, runID string, err error)
	DeleteDraft(ctx context.Context, workspaceID, draftID string) error
}

const (
	maxPreviewPages  = 10
	maxPreviewChunks = 50
)

func clampPreviewLimits(maxPages, maxChunks int) (int, int) {
	if maxPages <= 0 || maxPages > maxPreviewPages {
		maxPages = maxPreviewPages
	}
	if maxChunks <= 0 || maxChunks > maxPreviewChunks {
		maxChunks = maxPreviewChunks
	}
	return maxPages, maxChunks
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return model.DefaultDraftTTL
	}
	if ttl > model.MaxDraftTTL {
		return model.MaxDraftTTL
	}
	return ttl
}
