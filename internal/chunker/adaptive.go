package chunker

import "kbetl/internal/model"

// adaptiveStrategy implements the `adaptive` strategy: inspect the
// document's stats and delegate to the strategy judged most appropriate -
// by_heading when heading density is high, paragraph when the document is
// mostly short paragraphs, recursive otherwise.
type adaptiveStrategy struct{}

func init() { register(model.StrategyAdaptive, adaptiveStrategy{}) }

func (adaptiveStrategy) Chunk(doc model.StructuredDocument, cfg model.ChunkingConfig) ([]model.Chunk, error) {
	delegate := pickAdaptiveDelegate(doc, cfg)
	return delegate.Chunk(doc, cfg)
}

// pickAdaptiveDelegate applies the adaptive decision rule:
// by_heading if heading density >= 1 per 800 chars, else paragraph if mean
// paragraph length <= target_size, else recursive.
func pickAdaptiveDelegate(doc model.StructuredDocument, cfg model.ChunkingConfig) Strategy {
	stats := doc.Stats
	if stats.CharCount > 0 && stats.HeadingCount > 0 {
		density := float64(stats.CharCount) / float64(stats.HeadingCount)
		if density <= 800 {
			return registry[model.StrategyByHeading]
		}
	}
	if mean := meanParagraphLength(doc); mean > 0 && mean <= cfg.TargetSize {
		return registry[model.StrategyParagraph]
	}
	return registry[model.StrategyRecursive]
}

func meanParagraphLength(doc model.StructuredDocument) int {
	blocks := flatten(doc)
	total, n := 0, 0
	for _, b := range blocks {
		if b.kind == model.ElementParagraph {
			total += charLen(b.text)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / n
}
