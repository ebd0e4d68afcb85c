package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbetl/internal/model"
)

func TestParseHTMLPreservesStructure(t *testing.T) {
	html := `<html><body><article>
<h1>Title</h1>
<p>First <b>bold</b> paragraph.</p>
<ul><li>one</li><li>two</li></ul>
<table><tr><td>a</td><td>b</td></tr></table>
<pre><code class="language-go">fmt.Println("hi")</code></pre>
</article></body></html>`
	doc, err := Parse(context.Background(), model.RawDocument{MIME: "text/html", Bytes: []byte(html), SourceID: "src-1"})
	require.NoError(t, err)
	require.NotEmpty(t, doc.Elements)

	var kinds []model.ElementKind
	for _, el := range doc.Elements {
		kinds = append(kinds, el.Kind)
	}
	assert.Contains(t, kinds, model.ElementHeading)
	assert.Contains(t, kinds, model.ElementParagraph)
	assert.Contains(t, kinds, model.ElementListItem)
	assert.Contains(t, kinds, model.ElementTable)
	assert.Contains(t, kinds, model.ElementCodeBlock)
	assert.Equal(t, "src-1", doc.SourceID)
}

func TestParseMarkdownHeadingsListsAndFences(t *testing.T) {
	md := "# Title\n\nSome intro text.\n\n- item one\n- item two\n\n```go\nfmt.Println(1)\n```\n"
	doc, err := Parse(context.Background(), model.RawDocument{MIME: "text/markdown", Bytes: []byte(md)})
	require.NoError(t, err)
	require.True(t, len(doc.Elements) >= 4)
	assert.Equal(t, model.ElementHeading, doc.Elements[0].Kind)
	assert.Equal(t, "Title", doc.Elements[0].Text)

	var sawCode bool
	for _, el := range doc.Elements {
		if el.Kind == model.ElementCodeBlock {
			sawCode = true
			assert.Equal(t, "go", el.CodeLanguage)
		}
	}
	assert.True(t, sawCode)
}

func TestParseCSVProducesSingleTable(t *testing.T) {
	doc, err := Parse(context.Background(), model.RawDocument{MIME: "text/csv", Bytes: []byte("h1,h2\nv1,v2\n")})
	require.NoError(t, err)
	require.Len(t, doc.Elements, 1)
	assert.Equal(t, model.ElementTable, doc.Elements[0].Kind)
	assert.Len(t, doc.Elements[0].TableRows, 2)
}

func TestParsePlainTextSplitsOnBlankLines(t *testing.T) {
	doc, err := Parse(context.Background(), model.RawDocument{MIME: "text/plain", Bytes: []byte("para one.\n\npara two.")})
	require.NoError(t, err)
	require.Len(t, doc.Elements, 2)
	assert.Equal(t, "para one.", doc.Elements[0].Text)
}

func TestParseDocxExtractsHeadingsAndParagraphs(t *testing.T) {
	docXML := `<?xml version="1.0"?>
<w:document xmlns:w="ns"><w:body>
<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Chapter One</w:t></w:r></w:p>
<w:p><w:r><w:t>Body text here.</w:t></w:r></w:p>
</w:body></w:document>`
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(docXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	doc, err := Parse(context.Background(), model.RawDocument{
		MIME:  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		Bytes: buf.Bytes(),
	})
	require.NoError(t, err)
	require.Len(t, doc.Elements, 2)
	assert.Equal(t, model.ElementHeading, doc.Elements[0].Kind)
	assert.Equal(t, 1, doc.Elements[0].HeadingLevel)
	assert.Equal(t, "Chapter One", doc.Elements[0].Text)
	assert.Equal(t, model.ElementParagraph, doc.Elements[1].Kind)
}

func TestParseUnknownMimeFallsBackToText(t *testing.T) {
	doc, err := Parse(context.Background(), model.RawDocument{MIME: "application/x-unregistered", Bytes: []byte("hello world")})
	require.NoError(t, err)
	require.NotEmpty(t, doc.Elements)
}

func TestParseNoContentIsError(t *testing.T) {
	_, err := Parse(context.Background(), model.RawDocument{MIME: "text/plain"})
	assert.Error(t, err)
}
