// Package parser implements the Parser (C4): RawDocument -> StructuredDocument.
// Per-mime handlers are registered in a Registry keyed by mime family
// (the "dynamic polymorphism" pattern, the same shape
// internal/chunker uses for strategies and internal/adapters uses for
// source kinds), so adding a mime family is one registration rather than
// a growing type switch at every call site.
//
// The cross-cutting contract every handler must honor: never
// collapse structure into a flat text blob when the mime supports it,
// preserve headings/lists/tables/code/images as first-class Elements, and
// leave Markdown table serialization to the chunker at chunk time.
package parser

import (
	"context"
	"io"
	"regexp"
	"strings"
	"unicode"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

// Handler turns one RawDocument into a StructuredDocument. Implementations
// must be a pure function of raw.Bytes plus the handler's own version:
// the same bytes always yield the same tree.
type Handler interface {
	Parse(ctx context.Context, raw model.RawDocument) (model.StructuredDocument, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, raw model.RawDocument) (model.StructuredDocument, error)

// Parse implements Handler.
func (f HandlerFunc) Parse(ctx context.Context, raw model.RawDocument) (model.StructuredDocument, error) {
	return f(ctx, raw)
}

var registry = map[string]Handler{}

func register(mime string, h Handler) { registry[mime] = h }

// Parse dispatches raw.MIME to the registered Handler, falls back to the
// plain-text handler for any mime family with no dedicated registration
// (still a best-effort structured document, never a bare string return),
// applies the shared content-cleaning pass, and attaches language
// detection.
func Parse(ctx context.Context, raw model.RawDocument) (model.StructuredDocument, error) {
	if raw.Bytes == nil && raw.Stream == nil {
		return model.StructuredDocument{}, kberr.Newf(kberr.DataError, "parser: raw document %s has no content", raw.ExternalID)
	}
	h, ok := registry[family(raw.MIME)]
	if !ok {
		h = registry["text/plain"]
	}
	doc, err := h.Parse(ctx, raw)
	if err != nil {
		return model.StructuredDocument{}, kberr.Wrap(kberr.DataError, err, "parser: %s", raw.URI)
	}
	doc.SourceID = raw.SourceID
	cleanDocument(&doc)
	doc.Language = detectLanguage(doc)
	doc.Stats = computeStats(doc)
	return doc, nil
}

// family maps a full mime type (with optional parameters) to the coarse
// family key handlers register under.
func family(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	return mime
}

var (
	controlCharsRe  = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F]`)
	repeatedBlankRe = regexp.MustCompile(`\n{3,}`)
	multiSpaceRe    = regexp.MustCompile(`[ \t]{2,}`)
)

// rawBytes returns raw's content as a byte slice regardless of whether the
// adapter delivered it inline or as a stream; a Stream is read fully into
// memory.
func rawBytes(raw model.RawDocument) ([]byte, error) {
	if raw.Bytes != nil {
		return raw.Bytes, nil
	}
	if raw.Stream != nil {
		b, err := io.ReadAll(raw.Stream)
		if err != nil {
			return nil, kberr.Wrap(kberr.DataError, err, "parser: read stream for %s", raw.URI)
		}
		return b, nil
	}
	return nil, kberr.Newf(kberr.DataError, "parser: %s has no content", raw.URI)
}

// cleanDocument applies the content-cleaning pass after structural
// extraction: normalize whitespace, collapse repeated blank lines, strip
// zero-width/control characters (except newline/tab), and de-duplicate
// consecutive identical block elements. No emoji stripping or link
// filtering happens here - those are optional user-configured passes,
// out of scope for the parser itself.
func cleanDocument(doc *model.StructuredDocument) {
	doc.Elements = cleanElements(doc.Elements)
}

func cleanElements(els []model.Element) []model.Element {
	out := make([]model.Element, 0, len(els))
	var prevKey string
	for _, el := range els {
		el.Text = cleanText(el.Text)
		el.Caption = cleanText(el.Caption)
		el.OCRText = cleanText(el.OCRText)
		el.Children = cleanElements(el.Children)
		key := string(el.Kind) + "|" + el.Text
		if key == prevKey && el.Kind != model.ElementTable {
			continue // de-duplicate consecutive identical block elements
		}
		prevKey = key
		out = append(out, el)
	}
	return out
}

func cleanText(s string) string {
	if s == "" {
		return s
	}
	s = strings.Map(func(r rune) rune {
		if r == '\u200b' || r == '\u200c' || r == '\u200d' || r == '\ufeff' {
			return -1
		}
		return r
	}, s)
	s = controlCharsRe.ReplaceAllString(s, "")
	s = repeatedBlankRe.ReplaceAllString(s, "\n\n")
	s = multiSpaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// detectLanguage is a minimal stopword heuristic attached as metadata only
// - it never gates processing: "en" when at least two of a few common
// English words appear, "und" otherwise, "" for a document with no text.
func detectLanguage(doc model.StructuredDocument) string {
	var sb strings.Builder
	var walk func([]model.Element)
	walk = func(els []model.Element) {
		for _, el := range els {
			sb.WriteString(el.Text)
			sb.WriteString(" ")
			walk(el.Children)
		}
	}
	walk(doc.Elements)
	text := strings.ToLower(sb.String())
	if text == "" {
		return ""
	}
	englishHits := 0
	for _, w := range []string{" the ", " and ", " of ", " to ", " is "} {
		if strings.Contains(" "+text+" ", w) {
			englishHits++
		}
	}
	if englishHits >= 2 {
		return "en"
	}
	for _, r := range text {
		if r > unicode.MaxASCII {
			return "und"
		}
	}
	return "und"
}

func computeStats(doc model.StructuredDocument) model.DocumentStats {
	var stats model.DocumentStats
	var walk func([]model.Element)
	walk = func(els []model.Element) {
		for _, el := range els {
			switch el.Kind {
			case model.ElementHeading:
				stats.HeadingCount++
			case model.ElementTable:
				stats.TableCount++
			}
			words := strings.Fields(el.Text)
			stats.WordCount += len(words)
			stats.CharCount += len([]rune(el.Text))
			walk(el.Children)
		}
	}
	walk(doc.Elements)
	return stats
}
