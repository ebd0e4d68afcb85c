package adapters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbetl/internal/model"
)

type collectingSink struct {
	docs []model.RawDocument
}

func (s *collectingSink) Accept(doc model.RawDocument, checkpoint model.CheckpointToken) error {
	s.docs = append(s.docs, doc)
	return nil
}

func TestTextAdapterFetchDeliversOneDocument(t *testing.T) {
	src := model.Source{ID: "src-1", Kind: model.SourceText, Config: model.SourceConfig{Text: "hello world"}}
	require.NoError(t, Validate(context.Background(), src))

	sink := &collectingSink{}
	result, err := Fetch(context.Background(), src, sink, "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.DocumentsFetched)
	require.Len(t, sink.docs, 1)
	assert.Equal(t, "text/plain", sink.docs[0].MIME)
}

func TestTextAdapterFetchSkipsWhenCheckpointed(t *testing.T) {
	src := model.Source{ID: "src-1", Kind: model.SourceText, Config: model.SourceConfig{Text: "hello"}}
	sink := &collectingSink{}
	result, err := Fetch(context.Background(), src, sink, "src-1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.DocumentsFetched)
	assert.Empty(t, sink.docs)
}

func TestTextAdapterValidateRejectsEmpty(t *testing.T) {
	src := model.Source{ID: "src-1", Kind: model.SourceText, Config: model.SourceConfig{}}
	err := Validate(context.Background(), src)
	assert.Error(t, err)
}

func TestWebAdapterValidateRejectsNonHTTPReference(t *testing.T) {
	src := model.Source{ID: "src-2", Kind: model.SourceWeb, Reference: "ftp://example.com", Config: model.SourceConfig{Web: model.DefaultWebSourceConfig()}}
	err := Validate(context.Background(), src)
	assert.Error(t, err)
}

func TestCompositeAdapterFetchAggregatesChildren(t *testing.T) {
	child1 := model.Source{ID: "c1", Kind: model.SourceText, Config: model.SourceConfig{Text: "a"}}
	child2 := model.Source{ID: "c2", Kind: model.SourceText, Config: model.SourceConfig{Text: "b"}}
	SetSourceResolver(stubResolver{sources: map[string]model.Source{"c1": child1, "c2": child2}})
	defer SetSourceResolver(nil)

	parent := model.Source{ID: "p1", Kind: model.SourceComposite, ChildIDs: []string{"c1", "c2"}}
	sink := &collectingSink{}
	result, err := Fetch(context.Background(), parent, sink, "")
	require.NoError(t, err)
	assert.Equal(t, 2, result.DocumentsFetched)
	assert.Len(t, sink.docs, 2)
}

type stubResolver struct {
	sources map[string]model.Source
}

func (s stubResolver) Source(ctx context.Context, id string) (model.Source, error) {
	src, ok := s.sources[id]
	if !ok {
		return model.Source{}, assert.AnError
	}
	return src, nil
}
