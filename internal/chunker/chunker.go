// Package chunker implements the Chunker (C5): it turns a parsed
// StructuredDocument plus a resolved ChunkingConfig into the ordered list
// of Chunk payloads the orchestrator hands to the Embedder.
//
// Each of the nine strategies is registered under its string tag in a
// small Registry so the orchestrator and Draft Store preview path select
// one at runtime without a type switch at every call site. The grouping
// logic (separator-hierarchy recursion, sentence/paragraph boundary
// packing, bag-of-words cosine similarity for semantic breaks) operates
// over StructuredDocument elements instead of raw strings so the
// preserve_structure invariant (never split a table, code block, list
// item, or paragraph) can be enforced at the block level.
package chunker

import (
	"fmt"

	"github.com/google/uuid"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

// Strategy turns one StructuredDocument into ordinal-ordered chunks under
// cfg. Implementations must be a pure function of (doc, cfg): the same
// input always produces the same ordinals and content.
type Strategy interface {
	Chunk(doc model.StructuredDocument, cfg model.ChunkingConfig) ([]model.Chunk, error)
}

// registry maps a ChunkingStrategy tag to its implementation. Populated by
// init() in each strategy's file; adding a strategy is one registration,
// never a new branch in Chunk below.
var registry = map[model.ChunkingStrategy]Strategy{}

func register(tag model.ChunkingStrategy, s Strategy) {
	registry[tag] = s
}

// Chunk is the package's single entry point: resolve cfg.Strategy from the
// registry and run it, then stamp every chunk's DocumentID/KBID and copy
// down the source's annotations into each chunk's metadata.
func Chunk(doc model.StructuredDocument, cfg model.ChunkingConfig, documentID, kbID string, annotations []string) ([]model.Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strat, ok := registry[cfg.Strategy]
	if !ok {
		return nil, kberr.Newf(kberr.InvalidArgument, "chunker: no strategy registered for %q", cfg.Strategy)
	}
	chunks, err := strat.Chunk(doc, cfg)
	if err != nil {
		return nil, fmt.Errorf("chunker: strategy %s: %w", cfg.Strategy, err)
	}
	for i := range chunks {
		chunks[i].ID = chunkID(documentID, chunks[i].Ordinal)
		chunks[i].VectorID = chunks[i].ID
		chunks[i].DocumentID = documentID
		chunks[i].KBID = kbID
		chunks[i].Enabled = true
		if len(annotations) > 0 {
			chunks[i].Metadata.Annotations = append(append([]string(nil), annotations...), chunks[i].Metadata.Annotations...)
		}
	}
	return chunks, nil
}

// chunkID derives a stable id from (documentID, ordinal): reprocessing
// unchanged content yields the same ordinals and therefore the same ids,
// which is what lets the vector index upsert instead of accumulate.
func chunkID(documentID string, ordinal int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d", documentID, ordinal))).String()
}
