package parser

import (
	"context"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

func init() {
	register("text/html", HandlerFunc(parseHTML))
	register("application/xhtml+xml", HandlerFunc(parseHTML))
}

// parseHTML walks the DOM with golang.org/x/net/html, locating the main
// content node (article/main, else the largest text-bearing div) and
// building a model.Element tree from it rather than flattening to a
// reader-view string, so tables, lists, and code survive into chunking.
func parseHTML(ctx context.Context, raw model.RawDocument) (model.StructuredDocument, error) {
	b, err := rawBytes(raw)
	if err != nil {
		return model.StructuredDocument{}, err
	}
	root, err := html.Parse(strings.NewReader(string(b)))
	if err != nil {
		return model.StructuredDocument{}, kberr.Wrap(kberr.DataError, err, "parser: invalid HTML %s", raw.URI)
	}
	content := findMainContentNode(root)
	if content == nil {
		content = root
	}
	w := &htmlWalker{}
	w.walkChildren(content)
	return model.StructuredDocument{Elements: w.elements}, nil
}

// findMainContentNode prefers an explicit content tag, then falls back
// to the largest text-bearing div.
func findMainContentNode(n *html.Node) *html.Node {
	for _, a := range []atom.Atom{atom.Article, atom.Main} {
		if found := findNodeByAtom(n, a); found != nil {
			return found
		}
	}
	return findLargestContentDiv(n)
}

func findNodeByAtom(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNodeByAtom(c, a); found != nil {
			return found
		}
	}
	return nil
}

func findLargestContentDiv(n *html.Node) *html.Node {
	var largest *html.Node
	maxLen := 0
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Div {
			if l := textLen(n); l > maxLen {
				maxLen = l
				largest = n
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	if largest == nil {
		return n
	}
	return largest
}

func textLen(n *html.Node) int {
	if n.Type == html.TextNode {
		return len(strings.TrimSpace(n.Data))
	}
	total := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		total += textLen(c)
	}
	return total
}

// htmlWalker accumulates a flat []model.Element in document order, tracking
// list nesting depth so ListItems carry the right ListDepth.
type htmlWalker struct {
	elements  []model.Element
	listDepth int
}

func (w *htmlWalker) walkChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *htmlWalker) walk(n *html.Node) {
	if n.Type != html.ElementNode {
		if n.Type == html.TextNode {
			// Bare text between block elements (rare outside <p>) becomes
			// its own paragraph rather than being silently dropped.
			if t := strings.TrimSpace(n.Data); t != "" {
				w.elements = append(w.elements, model.Element{Kind: model.ElementParagraph, Text: t})
			}
		}
		return
	}
	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level := int(n.DataAtom - atom.H1 + 1)
		w.elements = append(w.elements, model.Element{Kind: model.ElementHeading, HeadingLevel: level, Text: collectText(n)})
	case atom.P:
		runs := collectStyleRuns(n)
		text := runsText(runs)
		if text != "" {
			w.elements = append(w.elements, model.Element{Kind: model.ElementParagraph, Text: text, StyleRuns: runs})
		}
	case atom.Ul, atom.Ol:
		w.listDepth++
		w.walkChildren(n)
		w.listDepth--
	case atom.Li:
		text := collectText(n)
		if text != "" {
			w.elements = append(w.elements, model.Element{Kind: model.ElementListItem, Text: text, ListDepth: w.listDepth})
		}
		// Nested lists inside <li> are walked for their own items too.
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.DataAtom == atom.Ul || c.DataAtom == atom.Ol {
				w.walk(c)
			}
		}
	case atom.Table:
		w.elements = append(w.elements, model.Element{Kind: model.ElementTable, TableRows: collectTableRows(n)})
	case atom.Pre:
		lang, text := collectCodeBlock(n)
		w.elements = append(w.elements, model.Element{Kind: model.ElementCodeBlock, CodeLanguage: lang, Text: text})
	case atom.Figure:
		caption := ""
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.DataAtom == atom.Figcaption {
				caption = collectText(c)
			}
		}
		w.elements = append(w.elements, model.Element{Kind: model.ElementFigure, Caption: caption, Children: collectFigureChildren(n)})
	case atom.Img:
		src, alt := imgAttrs(n)
		if src != "" {
			w.elements = append(w.elements, model.Element{Kind: model.ElementImageRef, ImageURI: src, Caption: alt})
		}
	case atom.Script, atom.Style, atom.Nav, atom.Footer, atom.Head:
		// Skipped entirely: never contribute document structure or text.
	default:
		w.walkChildren(n)
	}
}

func collectText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return strings.TrimSpace(sb.String())
}

// collectStyleRuns walks a <p>'s inline children, splitting into StyleRuns
// whenever bold/italic/code/link status changes.
func collectStyleRuns(n *html.Node) []model.StyleRun {
	var runs []model.StyleRun
	var walk func(n *html.Node, bold, italic, code bool, href string)
	walk = func(n *html.Node, bold, italic, code bool, href string) {
		switch n.Type {
		case html.TextNode:
			if n.Data == "" {
				return
			}
			runs = append(runs, model.StyleRun{Text: n.Data, Bold: bold, Italic: italic, Code: code, LinkHref: href})
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.B, atom.Strong:
				bold = true
			case atom.I, atom.Em:
				italic = true
			case atom.Code:
				code = true
			case atom.A:
				href = attr(n, "href")
			case atom.Br:
				runs = append(runs, model.StyleRun{Text: "\n"})
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, bold, italic, code, href)
		}
	}
	walk(n, false, false, false, "")
	return runs
}

func runsText(runs []model.StyleRun) string {
	var sb strings.Builder
	for _, r := range runs {
		sb.WriteString(r.Text)
	}
	return strings.TrimSpace(sb.String())
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func imgAttrs(n *html.Node) (src, alt string) {
	return attr(n, "src"), attr(n, "alt")
}

func collectTableRows(n *html.Node) [][]model.TableCell {
	var rows [][]model.TableCell
	var walkRows func(*html.Node)
	walkRows = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.DataAtom == atom.Tr {
				rows = append(rows, collectRowCells(c))
				continue
			}
			walkRows(c)
		}
	}
	walkRows(n)
	return rows
}

func collectRowCells(tr *html.Node) []model.TableCell {
	var cells []model.TableCell
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.DataAtom == atom.Td || c.DataAtom == atom.Th {
			cells = append(cells, model.TableCell{
				Text:    collectText(c),
				ColSpan: intAttrOr(c, "colspan", 1),
				RowSpan: intAttrOr(c, "rowspan", 1),
			})
		}
	}
	return cells
}

func intAttrOr(n *html.Node, key string, def int) int {
	v := attr(n, key)
	if v == "" {
		return def
	}
	n2 := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return def
		}
		n2 = n2*10 + int(r-'0')
	}
	if n2 == 0 {
		return def
	}
	return n2
}

func collectCodeBlock(pre *html.Node) (lang, text string) {
	codeNode := pre
	for c := pre.FirstChild; c != nil; c = c.NextSibling {
		if c.DataAtom == atom.Code {
			codeNode = c
			break
		}
	}
	class := attr(codeNode, "class")
	if strings.HasPrefix(class, "language-") {
		lang = strings.TrimPrefix(class, "language-")
	}
	return lang, collectText(pre)
}

func collectFigureChildren(n *html.Node) []model.Element {
	w := &htmlWalker{}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.DataAtom == atom.Figcaption {
			continue
		}
		w.walk(c)
	}
	// Fold <figcaption> into the figure's caption via the parent element
	// rather than as a child, matching Element's Caption field.
	return w.elements
}
