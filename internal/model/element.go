package model

// ElementKind discriminates the StructuredDocument element variants. The
// tree is strictly acyclic; a parent link, where useful, is the index path
// into the tree (ElementPath on a Chunk), never a pointer back up.
type ElementKind string

const (
	ElementHeading   ElementKind = "heading"
	ElementParagraph ElementKind = "paragraph"
	ElementListItem  ElementKind = "list_item"
	ElementTable     ElementKind = "table"
	ElementCodeBlock ElementKind = "code_block"
	ElementImageRef  ElementKind = "image_ref"
	ElementFigure    ElementKind = "figure"
)

// StyleRun is a contiguous run of text sharing one set of inline styles
// (bold, italic, link target, ...) within a Paragraph.
type StyleRun struct {
	Text   string
	Bold   bool
	Italic bool
	Code   bool
	LinkHref string
}

// TableCell is one cell of a Table element, carrying span so the parser
// never has to flatten a merged cell's text into its neighbors.
type TableCell struct {
	Text    string
	ColSpan int
	RowSpan int
}

// Element is one node of a StructuredDocument. Exactly one of the
// kind-specific fields is meaningful, selected by Kind; Children holds
// nested elements for Figure and (depth-bearing) ListItem.
type Element struct {
	Kind ElementKind

	// Heading
	HeadingLevel int
	Text         string // also used by Paragraph, ListItem, CodeBlock language-free text

	// Paragraph
	StyleRuns []StyleRun

	// ListItem
	ListDepth int

	// Table
	TableRows [][]TableCell

	// CodeBlock
	CodeLanguage string

	// ImageRef / Figure
	ImageURI string
	Caption  string
	OCRText  string

	Children []Element
}

// HeadingTrail returns the titles of the headings that are ancestors of a
// node at treePath within elements, outermost first. Used to stamp
// Chunk.Metadata.HeadingTrail.
func HeadingTrail(elements []Element, treePath []int) []string {
	var trail []string
	cur := elements
	for _, idx := range treePath {
		if idx < 0 || idx >= len(cur) {
			break
		}
		el := cur[idx]
		if el.Kind == ElementHeading {
			trail = append(trail, el.Text)
		}
		cur = el.Children
	}
	return trail
}

// StructuredDocument is the Parser's output: an ordered tree of Elements
// preserving headings, lists, tables, code, and images as first-class
// structure instead of flattened text.
type StructuredDocument struct {
	SourceID string
	Elements []Element
	Language string
	Stats    DocumentStats
}

// DocumentStats are the per-document counts the Draft preview and the
// chunker's "adaptive" strategy both consult.
type DocumentStats struct {
	HeadingCount int `json:"heading_count"`
	TableCount   int `json:"table_count"`
	WordCount    int `json:"word_count"`
	CharCount    int `json:"char_count"`
}
