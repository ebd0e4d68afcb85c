package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbetl/internal/model"
)

func sampleDoc() model.StructuredDocument {
	return model.StructuredDocument{
		SourceID: "src-1",
		Elements: []model.Element{
			{Kind: model.ElementHeading, HeadingLevel: 1, Text: "Intro"},
			{Kind: model.ElementParagraph, Text: "Alpha. Beta. Gamma."},
			{Kind: model.ElementHeading, HeadingLevel: 2, Text: "Details"},
			{Kind: model.ElementParagraph, Text: "Delta sentence here. Another one follows."},
			{Kind: model.ElementTable, TableRows: [][]model.TableCell{
				{{Text: "h1"}, {Text: "h2"}},
				{{Text: "v1"}, {Text: "v2"}},
			}},
		},
		Stats: model.DocumentStats{HeadingCount: 2, CharCount: 120, WordCount: 20},
	}
}

func TestRecursiveChunkOrdinalsAndDeterminism(t *testing.T) {
	doc := sampleDoc()
	cfg := model.ChunkingConfig{Strategy: model.StrategyRecursive, TargetSize: 1000, Overlap: 0, PreserveStructure: true}
	chunks1, err := Chunk(doc, cfg, "doc-1", "kb-1", []string{"tag"})
	require.NoError(t, err)
	chunks2, err := Chunk(doc, cfg, "doc-1", "kb-1", []string{"tag"})
	require.NoError(t, err)
	require.Equal(t, len(chunks1), len(chunks2))
	for i := range chunks1 {
		assert.Equal(t, i, chunks1[i].Ordinal)
		assert.Equal(t, chunks1[i].Content, chunks2[i].Content)
		assert.Contains(t, chunks1[i].Metadata.Annotations, "tag")
	}
}

func TestChunkTableNeverSplitAndOversizedFlag(t *testing.T) {
	bigRow := strings.Repeat("x", 12000)
	doc := model.StructuredDocument{
		Elements: []model.Element{
			{Kind: model.ElementParagraph, Text: "before the table"},
			{Kind: model.ElementTable, TableRows: [][]model.TableCell{{{Text: bigRow}}}},
			{Kind: model.ElementParagraph, Text: "after the table"},
		},
	}
	cfg := model.ChunkingConfig{Strategy: model.StrategyRecursive, TargetSize: 1000, Overlap: 0, PreserveStructure: true}
	chunks, err := Chunk(doc, cfg, "doc-2", "kb-1", nil)
	require.NoError(t, err)

	var sawOversizedTable bool
	for _, c := range chunks {
		if c.Metadata.TableID != nil {
			require.True(t, c.Metadata.Oversized, "table chunk over target_size must be flagged oversized")
			assert.Contains(t, c.Content, bigRow, "table content must not be split mid-row")
			sawOversizedTable = true
		}
	}
	assert.True(t, sawOversizedTable)
}

func TestByHeadingProducesOneSectionPerHeading(t *testing.T) {
	doc := sampleDoc()
	cfg := model.ChunkingConfig{Strategy: model.StrategyByHeading, TargetSize: 1000, Overlap: 0, PreserveStructure: true}
	chunks, err := Chunk(doc, cfg, "doc-3", "kb-1", nil)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Len(t, chunks, 2, "Intro and Details each open one section")
}

func TestTokenStrategyRespectsTokenTarget(t *testing.T) {
	doc := model.StructuredDocument{Elements: []model.Element{
		{Kind: model.ElementParagraph, Text: strings.Repeat("word ", 50)},
	}}
	cfg := model.ChunkingConfig{Strategy: model.StrategyToken, TargetSize: 100, Overlap: 0, PreserveStructure: false}
	chunks, err := Chunk(doc, cfg, "doc-4", "kb-1", nil)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, cfg.TargetSize)
	}
}

func TestUnknownStrategyRejected(t *testing.T) {
	doc := sampleDoc()
	cfg := model.ChunkingConfig{Strategy: "bogus", TargetSize: 500}
	_, err := Chunk(doc, cfg, "doc-5", "kb-1", nil)
	assert.Error(t, err)
}
