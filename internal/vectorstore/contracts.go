// Package vectorstore implements the tenant-filtered nearest-neighbor Vector
// Index (C1) from the pipeline's data model: one logical collection per
// knowledge base, payload carrying kb_id/workspace_id/document_id/chunk_id/
// ordinal/enabled, and a mandatory workspace filter on every query.
package vectorstore

import (
	"context"
	"errors"

	"kbetl/internal/kberr"
)

// Payload is the per-vector metadata stored alongside the embedding.
// WorkspaceID is the authoritative tenant filter.
type Payload struct {
	KBID        string
	WorkspaceID string
	DocumentID  string
	ChunkID     string
	Ordinal     int
	Enabled     bool
}

// Record is one vector plus its payload, keyed by VectorID (== chunk.id).
type Record struct {
	VectorID string
	Vector   []float32
	Payload  Payload
}

// Filter narrows a Search/Delete/Count call. WorkspaceID is required by the
// query builder (NewFilter) for every read path; Store implementations must
// never accept a filter that was not built through it.
type Filter struct {
	WorkspaceID string
	DocumentID  string
	ChunkIDs    []string
	EnabledOnly bool
	built       bool
}

// NewFilter is the only place allowed to construct a query filter. Every
// caller must supply workspace_id; an empty value is rejected so that no
// query can be issued without a tenant scope.
func NewFilter(workspaceID string) (Filter, error) {
	if workspaceID == "" {
		return Filter{}, kberr.Newf(kberr.InvalidArgument, "workspace_id is required to build a vector query filter")
	}
	return Filter{WorkspaceID: workspaceID, built: true}, nil
}

// WithDocument narrows the filter to one document.
func (f Filter) WithDocument(documentID string) Filter {
	f.DocumentID = documentID
	return f
}

// WithChunkIDs narrows the filter to an explicit set of vector ids.
func (f Filter) WithChunkIDs(ids []string) Filter {
	f.ChunkIDs = append([]string(nil), ids...)
	return f
}

// WithEnabledOnly restricts results to payload.enabled == true.
func (f Filter) WithEnabledOnly() Filter {
	f.EnabledOnly = true
	return f
}

// ErrProfileMismatch is returned when a record's payload disagrees with
// the kb_id/workspace_id the caller is upserting into.
var ErrProfileMismatch = errors.New("vectorstore: record payload does not match kb/workspace scope")

// Result is a single nearest-neighbor hit.
type Result struct {
	VectorID string
	Score    float64 // higher is closer
	Payload  Payload
}

// Store is the Vector Index contract (C1). Implementations must be safe for
// concurrent use and must reject any call whose Filter was not built via
// NewFilter.
type Store interface {
	// Upsert idempotently writes records, overwriting any prior vector for
	// the same VectorID. Every record's Payload.KBID must equal kbID and
	// Payload.WorkspaceID must equal workspaceID, or the whole batch fails
	// with ErrProfileMismatch.
	Upsert(ctx context.Context, kbID, workspaceID string, records []Record) error

	// Delete removes vectors by id list (if filter.ChunkIDs is set) or by
	// payload filter (e.g. DocumentID). Succeeds even if some ids are absent.
	Delete(ctx context.Context, kbID string, filter Filter) error

	// Search returns the top-k nearest neighbors to query, scoped to kbID
	// and filter.WorkspaceID.
	Search(ctx context.Context, kbID string, query []float32, k int, filter Filter) ([]Result, error)

	// Count returns the number of vectors matching filter within kbID.
	Count(ctx context.Context, kbID string, filter Filter) (int, error)

	// Dimension reports the configured vector width, 0 if variable.
	Dimension() int

	// Close releases any underlying connections.
	Close() error
}

func validateRecords(kbID, workspaceID string, records []Record) error {
	for _, r := range records {
		if r.Payload.KBID != kbID || r.Payload.WorkspaceID != workspaceID {
			return ErrProfileMismatch
		}
	}
	return nil
}

func ensureFilterBuilt(f Filter) error {
	if !f.built || f.WorkspaceID == "" {
		return kberr.Newf(kberr.InvalidArgument, "vector query issued without a workspace-scoped filter; use vectorstore.NewFilter")
	}
	return nil
}
