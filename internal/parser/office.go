package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

func init() {
	register("application/vnd.openxmlformats-officedocument.wordprocessingml.document", HandlerFunc(parseDocx))
	register("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", HandlerFunc(parseXlsx))
	register("application/vnd.openxmlformats-officedocument.presentationml.presentation", HandlerFunc(parsePptx))
}

// OOXML is a zip of XML parts, so archive/zip + encoding/xml extract
// document structure directly without an Office library.

type wordBody struct {
	Paragraphs []wordParagraph `xml:"p"`
}

type wordParagraph struct {
	Props wordParaProps `xml:"pPr"`
	Runs  []wordRun     `xml:"r"`
}

type wordParaProps struct {
	Style wordStyleRef `xml:"pStyle"`
}

type wordStyleRef struct {
	Val string `xml:"val,attr"`
}

type wordRun struct {
	Text []wordText `xml:"t"`
}

type wordText struct {
	Value string `xml:",chardata"`
}

func parseDocx(ctx context.Context, raw model.RawDocument) (model.StructuredDocument, error) {
	b, err := rawBytes(raw)
	if err != nil {
		return model.StructuredDocument{}, err
	}
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return model.StructuredDocument{}, kberr.Wrap(kberr.DataError, err, "parser: invalid docx %s", raw.URI)
	}
	part, err := findZipPart(zr, "word/document.xml")
	if err != nil {
		return model.StructuredDocument{}, err
	}
	var doc struct {
		Body wordBody `xml:"body"`
	}
	if err := xml.Unmarshal(part, &doc); err != nil {
		return model.StructuredDocument{}, kberr.Wrap(kberr.DataError, err, "parser: docx xml %s", raw.URI)
	}
	var elements []model.Element
	for _, p := range doc.Body.Paragraphs {
		var sb strings.Builder
		for _, r := range p.Runs {
			for _, t := range r.Text {
				sb.WriteString(t.Value)
			}
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			continue
		}
		if level := headingLevelFromStyle(p.Props.Style.Val); level > 0 {
			elements = append(elements, model.Element{Kind: model.ElementHeading, HeadingLevel: level, Text: text})
			continue
		}
		elements = append(elements, model.Element{Kind: model.ElementParagraph, Text: text})
	}
	return model.StructuredDocument{Elements: elements}, nil
}

// headingLevelFromStyle maps Word's "Heading1".."Heading6" paragraph
// style id to a heading level, 0 for body text.
func headingLevelFromStyle(style string) int {
	const prefix = "Heading"
	if !strings.HasPrefix(style, prefix) {
		return 0
	}
	rest := strings.TrimPrefix(style, prefix)
	if len(rest) != 1 || rest[0] < '1' || rest[0] > '6' {
		return 0
	}
	return int(rest[0] - '0')
}

// parseXlsx extracts the shared-string table and the first worksheet's
// cell grid into one Table element. Formulas and multiple sheets are out
// of scope for a best-effort extractor.
func parseXlsx(ctx context.Context, raw model.RawDocument) (model.StructuredDocument, error) {
	b, err := rawBytes(raw)
	if err != nil {
		return model.StructuredDocument{}, err
	}
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return model.StructuredDocument{}, kberr.Wrap(kberr.DataError, err, "parser: invalid xlsx %s", raw.URI)
	}
	shared, _ := findZipPart(zr, "xl/sharedStrings.xml")
	var sst struct {
		Items []struct {
			Text string `xml:"t"`
		} `xml:"si"`
	}
	if shared != nil {
		_ = xml.Unmarshal(shared, &sst)
	}
	sheet, err := findZipPart(zr, "xl/worksheets/sheet1.xml")
	if err != nil {
		return model.StructuredDocument{}, err
	}
	var ws struct {
		Rows []struct {
			Cells []struct {
				Type  string `xml:"t,attr"`
				Value string `xml:"v"`
			} `xml:"c"`
		} `xml:"sheetData>row"`
	}
	if err := xml.Unmarshal(sheet, &ws); err != nil {
		return model.StructuredDocument{}, kberr.Wrap(kberr.DataError, err, "parser: xlsx sheet xml %s", raw.URI)
	}
	var rows [][]model.TableCell
	for _, r := range ws.Rows {
		var row []model.TableCell
		for _, c := range r.Cells {
			text := c.Value
			if c.Type == "s" {
				if idx := atoiSafe(c.Value); idx >= 0 && idx < len(sst.Items) {
					text = sst.Items[idx].Text
				}
			}
			row = append(row, model.TableCell{Text: text, ColSpan: 1, RowSpan: 1})
		}
		rows = append(rows, row)
	}
	return model.StructuredDocument{Elements: []model.Element{{Kind: model.ElementTable, TableRows: rows}}}, nil
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return -1
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// parsePptx extracts each slide's text runs as a "Slide N" Heading followed
// by one Paragraph, in slide-number order; slides with no text are skipped.
func parsePptx(ctx context.Context, raw model.RawDocument) (model.StructuredDocument, error) {
	b, err := rawBytes(raw)
	if err != nil {
		return model.StructuredDocument{}, err
	}
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return model.StructuredDocument{}, kberr.Wrap(kberr.DataError, err, "parser: invalid pptx %s", raw.URI)
	}
	var slideNames []string
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			slideNames = append(slideNames, f.Name)
		}
	}
	sortStrings(slideNames)

	var elements []model.Element
	for i, name := range slideNames {
		part, err := findZipPart(zr, name)
		if err != nil {
			continue
		}
		var slide struct {
			Texts []string `xml:"cSld>spTree>sp>txBody>p>r>t"`
		}
		if err := xml.Unmarshal(part, &slide); err != nil {
			continue
		}
		text := strings.TrimSpace(strings.Join(slide.Texts, " "))
		if text == "" {
			continue
		}
		elements = append(elements,
			model.Element{Kind: model.ElementHeading, HeadingLevel: 1, Text: fmt.Sprintf("Slide %d", i+1)},
			model.Element{Kind: model.ElementParagraph, Text: text})
	}
	return model.StructuredDocument{Elements: elements}, nil
}

// sortStrings orders slide part names by slide number (slide2 before
// slide10), read from the digits between "ppt/slides/slide" and ".xml".
func sortStrings(s []string) {
	num := func(name string) int {
		return atoiSafe(strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml"))
	}
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && num(s[j]) < num(s[j-1]); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func findZipPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, kberr.Wrap(kberr.DataError, err, "parser: open zip part %s", name)
			}
			defer rc.Close()
			b, err := io.ReadAll(rc)
			if err != nil {
				return nil, kberr.Wrap(kberr.DataError, err, "parser: read zip part %s", name)
			}
			return b, nil
		}
	}
	return nil, kberr.Newf(kberr.DataError, "parser: missing zip part %s", name)
}
