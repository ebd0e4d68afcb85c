package chunker

import "kbetl/internal/model"

// recursiveStrategy implements the `recursive` strategy: split by a
// descending separator hierarchy (section -> paragraph -> sentence -> word)
// until each piece fits target_size, then reassemble greedily with
// overlap. flatten() already walks the tree section/paragraph-first, so
// packBlocksGreedy's own oversized-splitting (sentence, then word) supplies
// the remaining two levels of the hierarchy when PreserveStructure is
// false; with it set, an oversized block is kept whole.
type recursiveStrategy struct{}

func init() { register(model.StrategyRecursive, recursiveStrategy{}) }

func (recursiveStrategy) Chunk(doc model.StructuredDocument, cfg model.ChunkingConfig) ([]model.Chunk, error) {
	blocks := flatten(doc)
	groups := packBlocksGreedy(blocks, cfg.TargetSize, cfg.Overlap, false, cfg.PreserveStructure)
	return finishGroups(groups, cfg, false), nil
}
