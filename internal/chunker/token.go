package chunker

import "kbetl/internal/model"

// tokenStrategy implements the `token` strategy: target_size and
// overlap are counted in whitespace-approximated tokens rather than
// characters; sentence boundaries are the tie-breaker within +-10% of
// target_size (approximated here, when PreserveStructure is false, by
// exploding to sentences first, same as the sentence strategy, so the
// greedy packer's boundary naturally lands on a sentence edge before it
// overflows; with PreserveStructure set, whole blocks are packed).
type tokenStrategy struct{}

func init() { register(model.StrategyToken, tokenStrategy{}) }

func (tokenStrategy) Chunk(doc model.StructuredDocument, cfg model.ChunkingConfig) ([]model.Chunk, error) {
	blocks := flatten(doc)
	if !cfg.PreserveStructure {
		blocks = explodeSentences(blocks)
	}
	groups := packBlocksGreedy(blocks, cfg.TargetSize, cfg.Overlap, true, cfg.PreserveStructure)
	return finishGroups(groups, cfg, true), nil
}
