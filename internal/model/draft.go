package model

import "time"

// DefaultDraftTTL and MaxDraftTTL bound Draft.ExpiresAt - Draft.CreatedAt.
const (
	DefaultDraftTTL = 24 * time.Hour
	MaxDraftTTL     = 7 * 24 * time.Hour
)

// KBSpec is the declared shape of the knowledge base a draft will become
// on finalize: name/description plus optional profile/chunking overrides
// that, if absent, are resolved from workspace defaults at finalize time.
type KBSpec struct {
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	EmbeddingProfile *EmbeddingProfile `json:"embedding_profile,omitempty"`
	DefaultChunking  *ChunkingConfig   `json:"default_chunking,omitempty"`
}

// Page is the full content preserved for one fetched unit of a source at
// preview time - not a chunk view, so list_pages/get_page can always show
// exactly what the adapter saw.
type Page struct {
	URI             string        `json:"uri"`
	Title           string        `json:"title"`
	StructuralStats DocumentStats `json:"structural_stats"`
	Content         string        `json:"content"`
}

// SourcePreview is one source's slot within a PreviewBundle. Err is set
// when that source could not be fetched; the rest of the bundle remains
// usable (preview is best-effort per source).
type SourcePreview struct {
	SourceID     string        `json:"source_id"`
	Pages        []Page        `json:"pages,omitempty"`
	SampleChunks []Chunk       `json:"sample_chunks,omitempty"`
	Stats        DocumentStats `json:"stats"`
	Err          string        `json:"error,omitempty"`
}

// PreviewBundle is the result of Draft Store's preview operation.
type PreviewBundle struct {
	Sources []SourcePreview `json:"sources"`
}

// Draft is TTL-bounded authoring state for a knowledge base that has not
// yet been finalized. It lives only in the Draft Store (internal/draft),
// never in the Catalog.
type Draft struct {
	DraftID           string                    `json:"draft_id"`
	WorkspaceID       string                    `json:"workspace_id"`
	CreatedBy         string                    `json:"created_by"`
	CreatedAt         time.Time                 `json:"created_at"`
	ExpiresAt         time.Time                 `json:"expires_at"`
	Spec              KBSpec                    `json:"spec"`
	Sources           []Source                  `json:"sources,omitempty"`
	ChunkingOverrides map[string]ChunkingConfig `json:"chunking_overrides,omitempty"` // source_id -> override
	Preview           PreviewBundle             `json:"preview"`
	Finalized         bool                      `json:"finalized"`
}
