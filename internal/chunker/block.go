package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"kbetl/internal/model"
)

// block is the chunker's working unit: one leaf-level piece of a
// StructuredDocument's linearized content, tagged with enough structural
// context (element path, heading trail, indivisibility) that every
// strategy can honor preserve_structure without re-walking the tree.
type block struct {
	text         string
	path         []int
	headingTrail []string
	indivisible  bool // a table, code block, list item, or single paragraph
	kind         model.ElementKind
	headingLevel int // meaningful only when kind == model.ElementHeading
	tableID      string
	page         *int
}

// flatten walks a StructuredDocument's element tree in reading order and
// produces one block per indivisible content unit. Headings become their
// own (indivisible) block so by_heading/by_section can find section
// boundaries; their text is also folded into later blocks' headingTrail,
// which holds only the enclosing headings: a heading closes any open
// heading of the same or a deeper level, so the trail matches what
// model.HeadingTrail reports for a nested tree.
func flatten(doc model.StructuredDocument) []block {
	var out []block
	var trail []string
	var levels []int // heading level of each trail entry
	var walk func(els []model.Element, path []int)
	walk = func(els []model.Element, path []int) {
		for i, el := range els {
			p := append(append([]int(nil), path...), i)
			switch el.Kind {
			case model.ElementHeading:
				for len(levels) > 0 && levels[len(levels)-1] >= el.HeadingLevel {
					levels = levels[:len(levels)-1]
					trail = trail[:len(trail)-1]
				}
				out = append(out, block{text: el.Text, path: p, headingTrail: append([]string(nil), trail...), indivisible: true, kind: el.Kind, headingLevel: el.HeadingLevel})
				trail = append(append([]string(nil), trail...), el.Text)
				levels = append(levels, el.HeadingLevel)
			case model.ElementParagraph:
				out = append(out, block{text: el.Text, path: p, headingTrail: append([]string(nil), trail...), indivisible: true, kind: el.Kind})
			case model.ElementListItem:
				prefix := strings.Repeat("  ", el.ListDepth) + "- "
				out = append(out, block{text: prefix + el.Text, path: p, headingTrail: append([]string(nil), trail...), indivisible: true, kind: el.Kind})
			case model.ElementCodeBlock:
				fence := "```" + el.CodeLanguage + "\n" + el.Text + "\n```"
				out = append(out, block{text: fence, path: p, headingTrail: append([]string(nil), trail...), indivisible: true, kind: el.Kind})
			case model.ElementTable:
				out = append(out, block{
					text:         renderTableMarkdown(el),
					path:         p,
					headingTrail: append([]string(nil), trail...),
					indivisible:  true,
					kind:         el.Kind,
					tableID:      fmt.Sprintf("%v", p),
				})
			case model.ElementImageRef:
				txt := strings.TrimSpace(el.Caption + "\n" + el.OCRText)
				if txt != "" {
					out = append(out, block{text: txt, path: p, headingTrail: append([]string(nil), trail...), indivisible: true, kind: el.Kind})
				}
			case model.ElementFigure:
				if el.Caption != "" {
					out = append(out, block{text: el.Caption, path: p, headingTrail: append([]string(nil), trail...), indivisible: true, kind: el.Kind})
				}
				walk(el.Children, p)
			default:
				walk(el.Children, p)
			}
		}
	}
	walk(doc.Elements, nil)
	return out
}

// renderTableMarkdown converts a Table element to a Markdown pipe-table.
// Tables stay structured through parsing; serialization happens here,
// at chunk time, and nowhere earlier.
func renderTableMarkdown(el model.Element) string {
	if len(el.TableRows) == 0 {
		return ""
	}
	var b strings.Builder
	for r, row := range el.TableRows {
		b.WriteString("|")
		for _, cell := range row {
			b.WriteString(" " + strings.ReplaceAll(cell.Text, "|", "\\|") + " |")
		}
		b.WriteString("\n")
		if r == 0 {
			b.WriteString("|")
			for range row {
				b.WriteString(" --- |")
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func charLen(s string) int { return utf8.RuneCountInString(s) }
