package chunker

import (
	"strings"

	"kbetl/internal/model"
)

// group is one prospective chunk: the ordered blocks it covers plus the
// rendered text once joined. Building groups (one per strategy) and then
// finishing them through finishGroups keeps ordinal assignment, oversized
// detection, and metadata stamping identical across every strategy.
type group struct {
	blocks []block
	text   string // pre-rendered text when a strategy already packed blocks into a string (recursive/sentence/token)
}

// finishGroups assigns ordinals in reading order and builds model.Chunks,
// flagging a chunk oversized when it covers exactly one indivisible block
// whose own size already exceeds target (an indivisible unit bigger
// than target_size is emitted as one chunk with
// oversized=true rather than split).
func finishGroups(groups []group, cfg model.ChunkingConfig, tokenUnit bool) []model.Chunk {
	chunks := make([]model.Chunk, 0, len(groups))
	for ordinal, g := range groups {
		text := g.text
		if text == "" {
			parts := make([]string, 0, len(g.blocks))
			for _, b := range g.blocks {
				parts = append(parts, b.text)
			}
			text = strings.Join(parts, "\n")
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		var path []int
		var trail []string
		var tableID *string
		oversized := false
		if len(g.blocks) > 0 {
			path = g.blocks[0].path
			trail = g.blocks[0].headingTrail
			if len(g.blocks) == 1 {
				if g.blocks[0].tableID != "" {
					id := g.blocks[0].tableID
					tableID = &id
				}
				if g.blocks[0].indivisible && countUnits(text, tokenUnit) > cfg.TargetSize {
					oversized = true
				}
			}
		}
		chunks = append(chunks, model.Chunk{
			Ordinal:     ordinal,
			Content:     text,
			ElementPath: path,
			TokenCount:  len(splitWords(text)),
			CharCount:   charLen(text),
			Metadata: model.ChunkMetadata{
				HeadingTrail: trail,
				TableID:      tableID,
				Oversized:    oversized,
			},
		})
	}
	return chunks
}

// blocksToUnits renders each block to its text, honoring
// preserve_structure: when true (the default) an indivisible block is
// never handed to a sub-splitter, only packed whole.
func blocksToUnits(blocks []block) []string {
	units := make([]string, len(blocks))
	for i, b := range blocks {
		units[i] = b.text
	}
	return units
}
