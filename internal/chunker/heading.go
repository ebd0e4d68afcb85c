package chunker

import "kbetl/internal/model"

// byHeadingStrategy implements the `by_heading` strategy: one
// chunk per heading section; oversized sections are recursively split
// (recursive strategy), undersized ones may be merged with an adjacent
// sibling sharing the same parent heading.
type byHeadingStrategy struct{}

// bySectionStrategy implements `by_section`: like by_heading but on
// explicit section markers and never merges. This StructuredDocument
// model carries no page-break/slide-boundary element distinct from
// headings, so section markers are approximated as top-level (level <= 2)
// headings.
type bySectionStrategy struct{}

func init() {
	register(model.StrategyByHeading, byHeadingStrategy{})
	register(model.StrategyBySection, bySectionStrategy{})
}

// section is one heading-delimited run of blocks, with the heading block
// (if any) that opened it.
type section struct {
	heading *block
	blocks  []block
}

// segmentBySections splits a flat block stream at every block whose
// kind is ElementHeading and (when maxLevel > 0) whose level is
// <= maxLevel. Content before the first qualifying heading becomes an
// unheaded leading section.
func segmentBySections(blocks []block, maxLevel int) []section {
	var out []section
	cur := section{}
	isBoundary := func(b block) bool {
		if b.kind != model.ElementHeading {
			return false
		}
		if maxLevel <= 0 {
			return true
		}
		return b.headingLevel <= maxLevel
	}
	for _, b := range blocks {
		if isBoundary(b) {
			if len(cur.blocks) > 0 || cur.heading != nil {
				out = append(out, cur)
			}
			hb := b
			cur = section{heading: &hb, blocks: []block{b}}
			continue
		}
		cur.blocks = append(cur.blocks, b)
	}
	if len(cur.blocks) > 0 || cur.heading != nil {
		out = append(out, cur)
	}
	return out
}

func sectionSize(s section) int {
	n := 0
	for _, b := range s.blocks {
		n += charLen(b.text) + 1
	}
	return n
}

// parentTrail is the heading trail one level up from this section's own
// heading - two sections share the same parent heading when this trail
// matches, which is what permits merging them.
func parentTrail(s section) string {
	if s.heading == nil || len(s.heading.headingTrail) == 0 {
		return ""
	}
	out := ""
	for _, t := range s.heading.headingTrail {
		out += t + ">"
	}
	return out
}

func (byHeadingStrategy) Chunk(doc model.StructuredDocument, cfg model.ChunkingConfig) ([]model.Chunk, error) {
	blocks := flatten(doc)
	sections := segmentBySections(blocks, 0)
	sections = mergeSmallSiblings(sections, cfg.TargetSize/4)

	var groups []group
	for _, s := range sections {
		if sectionSize(s) <= cfg.TargetSize {
			groups = append(groups, group{blocks: s.blocks})
			continue
		}
		groups = append(groups, packBlocksGreedy(s.blocks, cfg.TargetSize, cfg.Overlap, false, cfg.PreserveStructure)...)
	}
	return finishGroups(groups, cfg, false), nil
}

func (bySectionStrategy) Chunk(doc model.StructuredDocument, cfg model.ChunkingConfig) ([]model.Chunk, error) {
	blocks := flatten(doc)
	sections := segmentBySections(blocks, 2)

	var groups []group
	for _, s := range sections {
		if sectionSize(s) <= cfg.TargetSize {
			groups = append(groups, group{blocks: s.blocks})
			continue
		}
		groups = append(groups, packBlocksGreedy(s.blocks, cfg.TargetSize, cfg.Overlap, false, cfg.PreserveStructure)...)
	}
	return finishGroups(groups, cfg, false), nil
}

// mergeSmallSiblings folds a section smaller than minSize into the next
// section sharing the same parent heading, per by_heading's merge rule.
// by_section never calls this.
func mergeSmallSiblings(sections []section, minSize int) []section {
	if minSize <= 0 {
		return sections
	}
	var out []section
	for _, s := range sections {
		if len(out) > 0 && sectionSize(out[len(out)-1]) < minSize && parentTrail(out[len(out)-1]) == parentTrail(s) {
			prev := out[len(out)-1]
			prev.blocks = append(prev.blocks, s.blocks...)
			out[len(out)-1] = prev
			continue
		}
		out = append(out, s)
	}
	return out
}
