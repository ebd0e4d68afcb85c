package parser

import (
	"context"
	"encoding/csv"
	"strings"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

func init() {
	register("text/plain", HandlerFunc(parseText))
	register("text/csv", HandlerFunc(parseCSV))
	register("text/tab-separated-values", HandlerFunc(parseCSV))
}

// parseText splits on blank lines into Paragraph elements - the mime
// family with no structure to preserve, so the "never a flat
// blob" rule is satisfied by still producing one Paragraph per logical
// block rather than one Paragraph for the whole document.
func parseText(ctx context.Context, raw model.RawDocument) (model.StructuredDocument, error) {
	b, err := rawBytes(raw)
	if err != nil {
		return model.StructuredDocument{}, err
	}
	text := strings.ReplaceAll(string(b), "\r\n", "\n")
	var elements []model.Element
	for _, block := range strings.Split(text, "\n\n") {
		if t := strings.TrimSpace(block); t != "" {
			elements = append(elements, model.Element{Kind: model.ElementParagraph, Text: t})
		}
	}
	return model.StructuredDocument{Elements: elements}, nil
}

// parseCSV produces a single Table element; the delimiter is sniffed from
// the declared mime (tsv vs csv) since encoding/csv requires it up front.
func parseCSV(ctx context.Context, raw model.RawDocument) (model.StructuredDocument, error) {
	b, err := rawBytes(raw)
	if err != nil {
		return model.StructuredDocument{}, err
	}
	r := csv.NewReader(strings.NewReader(string(b)))
	r.FieldsPerRecord = -1
	if family(raw.MIME) == "text/tab-separated-values" {
		r.Comma = '\t'
	}
	records, err := r.ReadAll()
	if err != nil {
		return model.StructuredDocument{}, kberr.Wrap(kberr.DataError, err, "parser: invalid csv %s", raw.URI)
	}
	var rows [][]model.TableCell
	for _, rec := range records {
		row := make([]model.TableCell, 0, len(rec))
		for _, cell := range rec {
			row = append(row, model.TableCell{Text: cell, ColSpan: 1, RowSpan: 1})
		}
		rows = append(rows, row)
	}
	return model.StructuredDocument{Elements: []model.Element{{Kind: model.ElementTable, TableRows: rows}}}, nil
}
