package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbetl/internal/catalog"
	"kbetl/internal/model"
	"kbetl/internal/vectorstore"
)

type stubDraftSweeper struct {
	swept int
	err   error
}

func (s *stubDraftSweeper) SweepExpired(ctx context.Context) (int, error) { return s.swept, s.err }

func TestSweepOnceExpiresDraftsFirst(t *testing.T) {
	sweeper := &stubDraftSweeper{swept: 3}
	r := New(catalog.NewMemory(), vectorstore.NewMemory(8), sweeper, time.Minute, nil)
	require.NoError(t, r.SweepOnce(context.Background()))
}

func TestSweepOnceToleratesNilDraftSweeper(t *testing.T) {
	r := New(catalog.NewMemory(), vectorstore.NewMemory(8), nil, time.Minute, nil)
	require.NoError(t, r.SweepOnce(context.Background()))
}

func TestSweepKBMarksDivergentDocumentFailed(t *testing.T) {
	store := catalog.NewMemory()
	vectors := vectorstore.NewMemory(4)
	r := New(store, vectors, nil, time.Minute, nil)

	kb := model.KnowledgeBase{ID: "kb-1", WorkspaceID: "ws-1", Name: "docs", Status: model.KBStatusReady}
	require.NoError(t, store.CreateKnowledgeBase(context.Background(), kb))
	require.NoError(t, store.UpsertDocument(context.Background(), model.Document{
		ID: "doc-1", KBID: "kb-1", Status: model.DocumentIndexed, ChunkCount: 2,
	}))
	// No vectors actually indexed for doc-1: chunk_count (2) diverges from
	// the vector store's count (0), which sweepKB must detect and repair.

	require.NoError(t, r.SweepOnce(context.Background()))

	// The sweep records the failure reason, then schedules a reprocess,
	// so the document lands in pending (queued), not failed.
	doc, err := store.GetDocument(context.Background(), "ws-1", "kb-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentPending, doc.Status)
	assert.NotEmpty(t, doc.FailureReason)
}

func TestSweepKBLeavesConsistentDocumentAlone(t *testing.T) {
	store := catalog.NewMemory()
	vectors := vectorstore.NewMemory(4)
	r := New(store, vectors, nil, time.Minute, nil)

	kb := model.KnowledgeBase{ID: "kb-1", WorkspaceID: "ws-1", Name: "docs", Status: model.KBStatusReady}
	require.NoError(t, store.CreateKnowledgeBase(context.Background(), kb))
	require.NoError(t, store.UpsertDocument(context.Background(), model.Document{
		ID: "doc-1", KBID: "kb-1", Status: model.DocumentIndexed, ChunkCount: 1,
	}))
	require.NoError(t, vectors.Upsert(context.Background(), "kb-1", "ws-1", []vectorstore.Record{
		{VectorID: "c-1", Vector: []float32{0.1, 0.2, 0.3, 0.4}, Payload: vectorstore.Payload{
			KBID: "kb-1", WorkspaceID: "ws-1", DocumentID: "doc-1", ChunkID: "c-1", Enabled: true,
		}},
	}))

	require.NoError(t, r.SweepOnce(context.Background()))

	doc, err := store.GetDocument(context.Background(), "ws-1", "kb-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentIndexed, doc.Status)
}
