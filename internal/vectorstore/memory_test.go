package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreUpsertRejectsWrongScope(t *testing.T) {
	store := NewMemory(3)
	ctx := context.Background()

	err := store.Upsert(ctx, "kb-1", "ws-1", []Record{
		{VectorID: "c1", Vector: []float32{1, 0, 0}, Payload: Payload{KBID: "kb-1", WorkspaceID: "ws-OTHER"}},
	})

	assert.ErrorIs(t, err, ErrProfileMismatch)
}

func TestMemoryStoreSearchIsWorkspaceScoped(t *testing.T) {
	store := NewMemory(3)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "kb-1", "ws-1", []Record{
		{VectorID: "a", Vector: []float32{1, 0, 0}, Payload: Payload{KBID: "kb-1", WorkspaceID: "ws-1", Enabled: true}},
	}))
	require.NoError(t, store.Upsert(ctx, "kb-1", "ws-2", []Record{
		{VectorID: "b", Vector: []float32{1, 0, 0}, Payload: Payload{KBID: "kb-1", WorkspaceID: "ws-2", Enabled: true}},
	}))

	f1, err := NewFilter("ws-1")
	require.NoError(t, err)

	results, err := store.Search(ctx, "kb-1", []float32{1, 0, 0}, 10, f1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].VectorID)
}

func TestMemoryStoreSearchRejectsUnbuiltFilter(t *testing.T) {
	store := NewMemory(3)
	_, err := store.Search(context.Background(), "kb-1", []float32{1, 0, 0}, 5, Filter{WorkspaceID: "ws-1"})
	assert.Error(t, err)
}

func TestMemoryStoreDeleteByDocument(t *testing.T) {
	store := NewMemory(3)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "kb-1", "ws-1", []Record{
		{VectorID: "a", Vector: []float32{1, 0, 0}, Payload: Payload{KBID: "kb-1", WorkspaceID: "ws-1", DocumentID: "doc-1"}},
		{VectorID: "b", Vector: []float32{0, 1, 0}, Payload: Payload{KBID: "kb-1", WorkspaceID: "ws-1", DocumentID: "doc-2"}},
	}))

	f, err := NewFilter("ws-1")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "kb-1", f.WithDocument("doc-1")))

	n, err := store.Count(ctx, "kb-1", f)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewFilterRequiresWorkspaceID(t *testing.T) {
	_, err := NewFilter("")
	assert.Error(t, err)
}
