package parser

import (
	"bufio"
	"context"
	"net/mail"
	"strings"
	"unicode"

	"kbetl/internal/model"
)

// PDF, RTF, EPUB, ODT, legacy .doc/.ppt, and image OCR have no parser
// dependency wired yet. For these families this file extracts runs of
// printable text from the raw bytes as a best-effort body of Paragraph
// elements (an image instead becomes a single ImageRef element) rather
// than failing the ingest outright; a real extractor for
// any of them slots in through the same Handler registration.
func init() {
	for _, m := range []string{
		"application/pdf",
		"application/rtf",
		"application/epub+zip",
		"application/vnd.oasis.opendocument.text",
		"application/msword",
		"application/vnd.ms-powerpoint",
		"application/vnd.ms-excel",
		"image/png", "image/jpeg", "image/gif", "image/webp", "image/tiff",
	} {
		register(m, HandlerFunc(parseBestEffortBinary))
	}
	register("message/rfc822", HandlerFunc(parseEmail))
}

func parseBestEffortBinary(ctx context.Context, raw model.RawDocument) (model.StructuredDocument, error) {
	b, err := rawBytes(raw)
	if err != nil {
		return model.StructuredDocument{}, err
	}
	if strings.HasPrefix(raw.MIME, "image/") {
		// No OCR path available; record the image as a reference element
		// carrying an empty OCRText rather than silently dropping it.
		return model.StructuredDocument{Elements: []model.Element{{Kind: model.ElementImageRef, ImageURI: raw.URI}}}, nil
	}
	text := extractPrintableRuns(b)
	var elements []model.Element
	for _, block := range strings.Split(text, "\n\n") {
		if t := strings.TrimSpace(block); t != "" {
			elements = append(elements, model.Element{Kind: model.ElementParagraph, Text: t})
		}
	}
	return model.StructuredDocument{Elements: elements}, nil
}

// extractPrintableRuns scans for runs of printable/whitespace runes at
// least minRunLength long, discarding short runs that are almost always
// binary noise (compressed streams, font tables) rather than prose.
func extractPrintableRuns(b []byte) string {
	const minRunLength = 20
	var out strings.Builder
	var run []rune
	flush := func() {
		if len(run) >= minRunLength {
			out.WriteString(string(run))
			out.WriteString("\n\n")
		}
		run = run[:0]
	}
	for _, r := range string(b) {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			run = append(run, r)
			continue
		}
		flush()
	}
	flush()
	return out.String()
}

// parseEmail uses net/mail (stdlib) to split headers from body; the
// subject becomes a Heading and each blank-line-separated block of body
// lines becomes one Paragraph. Attachments are not extracted here - attachment bodies
// are themselves just nested RawDocuments better handled by re-ingesting
// them through their own mime handler.
func parseEmail(ctx context.Context, raw model.RawDocument) (model.StructuredDocument, error) {
	b, err := rawBytes(raw)
	if err != nil {
		return model.StructuredDocument{}, err
	}
	msg, err := mail.ReadMessage(strings.NewReader(string(b)))
	if err != nil {
		return parseBestEffortBinary(ctx, raw)
	}
	var elements []model.Element
	if subject := msg.Header.Get("Subject"); subject != "" {
		elements = append(elements, model.Element{Kind: model.ElementHeading, HeadingLevel: 1, Text: subject})
	}
	scanner := bufio.NewScanner(msg.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var para []string
	flush := func() {
		if t := strings.TrimSpace(strings.Join(para, " ")); t != "" {
			elements = append(elements, model.Element{Kind: model.ElementParagraph, Text: t})
		}
		para = nil
	}
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		para = append(para, strings.TrimSpace(line))
	}
	flush()
	return model.StructuredDocument{Elements: elements}, nil
}
