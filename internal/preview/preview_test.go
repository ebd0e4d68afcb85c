package preview

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbetl/internal/model"
)

func textSource(id, body string) model.Source {
	return model.Source{ID: id, Kind: model.SourceText, Config: model.SourceConfig{Text: body}, Enabled: true}
}

func TestPreviewTextSourceProducesPageAndChunks(t *testing.T) {
	svc := New()
	src := textSource("s1", "# Title\n\nAlpha. Beta. Gamma.")
	bundle, err := svc.Preview(context.Background(), "ws-1", []model.Source{src}, nil, 10, 50)
	require.NoError(t, err)
	require.Len(t, bundle.Sources, 1)

	sp := bundle.Sources[0]
	assert.Empty(t, sp.Err)
	require.Len(t, sp.Pages, 1)
	assert.Contains(t, sp.Pages[0].Content, "Alpha")
	assert.NotEmpty(t, sp.SampleChunks)
	// text/plain has no heading structure, so the title falls back to the
	// page URI rather than an extracted heading.
	assert.Equal(t, sp.Pages[0].URI, sp.Pages[0].Title)
}

func TestPreviewInvalidSourceReturnsPerSourceError(t *testing.T) {
	svc := New()
	bad := model.Source{ID: "s2", Kind: model.SourceText} // no text payload
	bundle, err := svc.Preview(context.Background(), "ws-1", []model.Source{bad}, nil, 10, 50)
	require.NoError(t, err)
	require.Len(t, bundle.Sources, 1)
	assert.NotEmpty(t, bundle.Sources[0].Err)
}

func TestPreviewHonorsChunkSampleLimit(t *testing.T) {
	svc := New()
	body := ""
	for i := 0; i < 200; i++ {
		body += "Sentence number meant to pad this document out quite a bit further. "
	}
	src := textSource("s3", body)
	src.Config.ChunkingOverride = &model.ChunkingConfig{Strategy: model.StrategyRecursive, TargetSize: 100, Overlap: 0, PreserveStructure: true}
	bundle, err := svc.Preview(context.Background(), "ws-1", []model.Source{src}, nil, 10, 3)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(bundle.Sources[0].SampleChunks), 3)
}

func TestPreviewAppliesOverrideOverSourceConfig(t *testing.T) {
	svc := New()
	src := textSource("s4", "Paragraph one.\n\nParagraph two.")
	overrides := map[string]model.ChunkingConfig{
		"s4": {Strategy: model.StrategyParagraph, TargetSize: 100, Overlap: 0, PreserveStructure: true},
	}
	bundle, err := svc.Preview(context.Background(), "ws-1", []model.Source{src}, overrides, 10, 50)
	require.NoError(t, err)
	assert.NotEmpty(t, bundle.Sources[0].SampleChunks)
}
