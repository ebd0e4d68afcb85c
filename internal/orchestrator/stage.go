package orchestrator

import (
	"kbetl/internal/chunker"
	"kbetl/internal/model"
)

// chunkDocument applies the KB (or source-override) chunking config to a
// parsed document, a thin wrapper kept as its own function so tests can
// stub chunking independently of the full processDocument pipeline.
func chunkDocument(doc model.StructuredDocument, cfg model.ChunkingConfig, documentID, kbID string, annotations []string) ([]model.Chunk, error) {
	return chunker.Chunk(doc, cfg, documentID, kbID, annotations)
}
