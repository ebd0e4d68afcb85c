package chunker

import "kbetl/internal/model"

// paragraphStrategy implements the `paragraph` strategy: one chunk
// per paragraph (and other indivisible blocks), packing adjacent small
// ones together up to target_size. PreserveStructure is implicitly true
// here regardless of cfg, since splitting a paragraph is the one thing
// this strategy exists to avoid.
type paragraphStrategy struct{}

func init() { register(model.StrategyParagraph, paragraphStrategy{}) }

func (paragraphStrategy) Chunk(doc model.StructuredDocument, cfg model.ChunkingConfig) ([]model.Chunk, error) {
	blocks := flatten(doc)
	groups := packBlocksGreedy(blocks, cfg.TargetSize, cfg.Overlap, false, true)
	return finishGroups(groups, cfg, false), nil
}
