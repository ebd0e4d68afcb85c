package embedder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbetl/internal/model"
)

func TestNewRejectsProfileMismatch(t *testing.T) {
	profile := model.EmbeddingProfile{ProviderID: "local", ModelID: "wrong-model", Dimension: 256}
	_, err := New(profile, 0, 1)
	assert.Error(t, err)
}

func TestEmbedChunksProducesOneRecordPerChunkInOrder(t *testing.T) {
	profile := model.EmbeddingProfile{ProviderID: "local", ModelID: "hash-3gram-256", Dimension: 256, Normalized: true}
	e, err := New(profile, 0, 2)
	require.NoError(t, err)

	chunks := []model.Chunk{
		{ID: "c1", DocumentID: "d1", Ordinal: 0, Content: "alpha beta"},
		{ID: "c2", DocumentID: "d1", Ordinal: 1, Content: "gamma delta"},
	}
	recs, failures, err := e.EmbedChunks(context.Background(), "kb-1", "ws-1", profile, chunks)
	require.NoError(t, err)
	require.Empty(t, failures)
	require.Len(t, recs, 2)
	assert.Equal(t, "c1", recs[0].ChunkID)
	assert.Equal(t, "c2", recs[1].ChunkID)
	for _, r := range recs {
		assert.Len(t, r.Vector, 256)
		assert.Equal(t, "kb-1", r.KBID)
		assert.Equal(t, "ws-1", r.WorkspaceID)
	}
}

func TestEmbedChunksBatchesAcrossBatchSize(t *testing.T) {
	profile := model.EmbeddingProfile{ProviderID: "local", ModelID: "hash-3gram-256", Dimension: 256, Normalized: true}
	e, err := New(profile, 0, 4)
	require.NoError(t, err)

	chunks := make([]model.Chunk, BatchSize+5)
	for i := range chunks {
		chunks[i] = model.Chunk{ID: "c", DocumentID: "d1", Ordinal: i, Content: "text"}
	}
	recs, failures, err := e.EmbedChunks(context.Background(), "kb-1", "ws-1", profile, chunks)
	require.NoError(t, err)
	require.Empty(t, failures)
	assert.Len(t, recs, len(chunks))
}

// poisonProvider fails any batch containing the poison chunk's text, so
// only the split-and-skip ladder can get the rest of the batch through.
type poisonProvider struct {
	profile model.EmbeddingProfile
	poison  string
}

func (p *poisonProvider) Profile() model.EmbeddingProfile { return p.profile }

func (p *poisonProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if t == p.poison {
			return nil, errors.New("provider rejected batch")
		}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, p.profile.Dimension)
	}
	return out, nil
}

func TestEmbedChunksSkipsPoisonChunkAndKeepsRest(t *testing.T) {
	profile := model.EmbeddingProfile{ProviderID: "poison", ModelID: "m", Dimension: 4}
	Register("poison", &poisonProvider{profile: profile, poison: "bad"})
	e, err := New(profile, 0, 1)
	require.NoError(t, err)

	chunks := []model.Chunk{
		{ID: "c1", Ordinal: 0, Content: "good one"},
		{ID: "c2", Ordinal: 1, Content: "bad"},
		{ID: "c3", Ordinal: 2, Content: "good two"},
	}
	recs, failures, err := e.EmbedChunks(context.Background(), "kb-1", "ws-1", profile, chunks)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "c2", failures[0].ChunkID)
	require.Len(t, recs, 2)
	assert.Equal(t, "c1", recs[0].ChunkID)
	assert.Equal(t, "c3", recs[1].ChunkID)
}
