package parser

import (
	"context"
	"regexp"
	"strings"

	"kbetl/internal/model"
)

func init() {
	register("text/markdown", HandlerFunc(parseMarkdown))
	register("text/x-markdown", HandlerFunc(parseMarkdown))
}

// mdHeadingRe matches a markdown ATX heading line, 1-6 leading #.
var (
	mdHeadingRe  = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)
	mdFenceRe    = regexp.MustCompile("^```\\s*([a-zA-Z0-9_+-]*)\\s*$")
	mdListRe     = regexp.MustCompile(`^(\s*)([-*+]|\d+\.)\s+(.*)$`)
	mdTableRowRe = regexp.MustCompile(`^\s*\|(.+)\|\s*$`)
	mdTableSepRe = regexp.MustCompile(`^\s*\|?[\s:|-]+\|?\s*$`)
)

// parseMarkdown is a line-oriented pass building the same Element tree
// shape parseHTML produces, instead of delegating to
// JohannesKaufmann/html-to-markdown (that library converts HTML -> MD
// text; it has no Markdown -> structured-tree direction, so a raw
// Markdown source is walked directly here).
func parseMarkdown(ctx context.Context, raw model.RawDocument) (model.StructuredDocument, error) {
	b, err := rawBytes(raw)
	if err != nil {
		return model.StructuredDocument{}, err
	}
	lines := strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")

	var elements []model.Element
	var para []string
	flushPara := func() {
		if len(para) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(para, " "))
		para = nil
		if text != "" {
			elements = append(elements, model.Element{Kind: model.ElementParagraph, Text: text})
		}
	}

	i := 0
	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			flushPara()
			i++
			continue
		}
		if m := mdHeadingRe.FindStringSubmatch(line); m != nil {
			flushPara()
			elements = append(elements, model.Element{Kind: model.ElementHeading, HeadingLevel: len(m[1]), Text: m[2]})
			i++
			continue
		}
		if m := mdFenceRe.FindStringSubmatch(trimmed); m != nil {
			flushPara()
			lang := m[1]
			var body []string
			i++
			for i < len(lines) && !mdFenceRe.MatchString(strings.TrimSpace(lines[i])) {
				body = append(body, lines[i])
				i++
			}
			i++ // skip closing fence
			elements = append(elements, model.Element{Kind: model.ElementCodeBlock, CodeLanguage: lang, Text: strings.Join(body, "\n")})
			continue
		}
		if m := mdListRe.FindStringSubmatch(line); m != nil {
			flushPara()
			depth := len(m[1]) / 2
			elements = append(elements, model.Element{Kind: model.ElementListItem, Text: strings.TrimSpace(m[3]), ListDepth: depth})
			i++
			continue
		}
		if mdTableRowRe.MatchString(line) {
			flushPara()
			var rows [][]model.TableCell
			for i < len(lines) && mdTableRowRe.MatchString(lines[i]) {
				if mdTableSepRe.MatchString(lines[i]) {
					i++
					continue
				}
				rows = append(rows, mdTableCells(lines[i]))
				i++
			}
			elements = append(elements, model.Element{Kind: model.ElementTable, TableRows: rows})
			continue
		}
		para = append(para, trimmed)
		i++
	}
	flushPara()
	return model.StructuredDocument{Elements: elements}, nil
}

func mdTableCells(line string) []model.TableCell {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	parts := strings.Split(line, "|")
	cells := make([]model.TableCell, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, model.TableCell{Text: strings.TrimSpace(p), ColSpan: 1, RowSpan: 1})
	}
	return cells
}
