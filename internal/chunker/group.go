package chunker

import (
	"regexp"
	"strings"
)

// sentenceRe is a naive end-of-sentence finder: good enough for the
// language-agnostic default, swappable per-language if boundary quality
// ever matters more than speed here.
var sentenceRe = regexp.MustCompile(`(?s)([^.!?]+[.!?]+|[^.!?]+$)`)

func splitSentences(text string) []string {
	parts := sentenceRe.FindAllString(strings.TrimSpace(text), -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitWords(text string) []string { return strings.Fields(text) }

// countUnits measures text in the unit a strategy targets: characters for
// every strategy but token, tokens (whitespace-approximated) for token.
func countUnits(text string, tokenUnit bool) int {
	if tokenUnit {
		return len(splitWords(text))
	}
	return charLen(text)
}

// overlapTail returns the trailing `want` units of s, used to re-include
// the end of the previous chunk at the start of the next one.
func overlapTail(s string, want int, tokenUnit bool) string {
	if want <= 0 || s == "" {
		return ""
	}
	if tokenUnit {
		words := splitWords(s)
		if want >= len(words) {
			return s
		}
		return strings.Join(words[len(words)-want:], " ")
	}
	r := []rune(s)
	if want >= len(r) {
		return s
	}
	return string(r[len(r)-want:])
}

// packGreedy reassembles leaf units into groups of at most target size
// (per countUnits), applying overlap between consecutive groups. It never
// merges across an `indivisible` boundary mid-unit: each input unit is
// atomic from the packer's point of view, matching the "reassemble
// adjacent pieces greedily up to target_size".
func packGreedy(units []string, target, overlap int, tokenUnit bool) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		out = append(out, cur.String())
	}
	for _, u := range units {
		if u == "" {
			continue
		}
		candidate := u
		if cur.Len() > 0 {
			candidate = cur.String() + "\n" + u
		}
		if cur.Len() == 0 || countUnits(candidate, tokenUnit) <= target {
			cur.Reset()
			cur.WriteString(candidate)
			continue
		}
		flush()
		tail := overlapTail(cur.String(), overlap, tokenUnit)
		cur.Reset()
		if tail != "" {
			cur.WriteString(tail)
			cur.WriteString("\n")
		}
		cur.WriteString(u)
	}
	flush()
	return out
}

// packBlocksGreedy is packGreedy generalized to carry each output group's
// source blocks (for element_path/heading_trail) instead of losing that
// context to a bare string. A block whose own content already exceeds
// target is emitted as its own oversized group when preserveStructure is
// set; otherwise it is best-effort split via splitOversized.
func packBlocksGreedy(blocks []block, target, overlap int, tokenUnit, preserveStructure bool) []group {
	var out []group
	var cur []block
	flush := func() {
		if len(cur) == 0 {
			return
		}
		out = append(out, group{blocks: cur})
		cur = nil
	}
	for _, b := range blocks {
		bSize := countUnits(b.text, tokenUnit)
		if bSize > target {
			flush()
			if preserveStructure {
				out = append(out, group{blocks: []block{b}})
				continue
			}
			for _, piece := range splitOversized(b.text, target, tokenUnit) {
				nb := b
				nb.text = piece
				out = append(out, group{blocks: []block{nb}})
			}
			continue
		}
		candidate := append(append([]block(nil), cur...), b)
		text := strings.Join(blocksToUnits(candidate), "\n")
		if len(cur) == 0 || countUnits(text, tokenUnit) <= target {
			cur = candidate
			continue
		}
		prevText := strings.Join(blocksToUnits(cur), "\n")
		flush()
		cur = []block{b}
		if tailText := overlapTail(prevText, overlap, tokenUnit); tailText != "" {
			ob := block{text: tailText, path: b.path, headingTrail: b.headingTrail}
			cur = []block{ob, b}
		}
	}
	flush()
	return out
}

// splitOversized recursively halves a single unit that alone exceeds
// target by sentence, then word, so preserve_structure-false content still
// gets a best-effort split instead of one giant chunk.
func splitOversized(text string, target int, tokenUnit bool) []string {
	if countUnits(text, tokenUnit) <= target || target <= 0 {
		return []string{text}
	}
	sentences := splitSentences(text)
	if len(sentences) > 1 {
		return packGreedy(sentences, target, 0, tokenUnit)
	}
	words := splitWords(text)
	if len(words) <= 1 {
		return []string{text}
	}
	return packGreedy(words, target, 0, tokenUnit)
}
