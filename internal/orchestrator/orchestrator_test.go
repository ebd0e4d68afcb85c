package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbetl/internal/klog"
	"kbetl/internal/model"
	"kbetl/internal/vectorstore"
)

type fakeCatalog struct {
	mu        sync.Mutex
	kb        model.KnowledgeBase
	sources   map[string]model.Source
	runState  model.RunState
	progress  model.Progress
	counters  model.RunCounters
	events    []model.StageEvent
	documents map[string]model.Document
	chunks    []model.Chunk
	cancelled bool
}

func newFakeCatalog(kb model.KnowledgeBase, sources []model.Source) *fakeCatalog {
	m := map[string]model.Source{}
	for _, s := range sources {
		m[s.ID] = s
	}
	return &fakeCatalog{kb: kb, sources: m, documents: map[string]model.Document{}}
}

func (f *fakeCatalog) GetKnowledgeBase(ctx context.Context, kbID string) (model.KnowledgeBase, error) {
	return f.kb, nil
}

func (f *fakeCatalog) ListEnabledSources(ctx context.Context, kbID string) ([]model.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Source
	for _, s := range f.sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeCatalog) Source(ctx context.Context, id string) (model.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sources[id], nil
}

func (f *fakeCatalog) UpdateRunState(ctx context.Context, runID string, state model.RunState, finishedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runState = state
	return nil
}

func (f *fakeCatalog) UpdateProgress(ctx context.Context, runID string, progress model.Progress, counters model.RunCounters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = progress
	f.counters = counters
	return nil
}

func (f *fakeCatalog) AppendStageEvent(ctx context.Context, runID string, ev model.StageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeCatalog) GetRun(ctx context.Context, runID string) (model.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return model.PipelineRun{RunID: runID, KBID: f.kb.ID, State: f.runState}, nil
}

func (f *fakeCatalog) CancelRequested(ctx context.Context, runID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled, nil
}

func (f *fakeCatalog) GetDocument(ctx context.Context, workspaceID, kbID, docID string) (model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[docID]
	if !ok {
		return model.Document{}, assert.AnError
	}
	return doc, nil
}

func (f *fakeCatalog) UpdateKnowledgeBaseStatus(ctx context.Context, kbID string, status model.KBStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kb.Status = status
	return nil
}

func (f *fakeCatalog) UpsertDocument(ctx context.Context, doc model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents[doc.ID] = doc
	return nil
}

func (f *fakeCatalog) UpsertChunks(ctx context.Context, kbID string, chunks []model.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunks...)
	return nil
}

func TestOrchestratorRunIndexesTextSource(t *testing.T) {
	kb := model.KnowledgeBase{
		ID: "kb-1", WorkspaceID: "ws-1",
		EmbeddingProfile: model.EmbeddingProfile{ProviderID: "local", ModelID: "hash-3gram-256", Dimension: 256, Normalized: true},
		DefaultChunking:  model.ChunkingConfig{Strategy: model.StrategyRecursive, TargetSize: 200, PreserveStructure: true},
	}
	src := model.Source{ID: "src-1", KBID: "kb-1", Kind: model.SourceText, Enabled: true,
		Config: model.SourceConfig{Text: "Paragraph one has some words. Paragraph two has more words that follow after it."}}

	cat := newFakeCatalog(kb, []model.Source{src})
	vectors := vectorstore.NewMemory(256)
	orch := New(cat, vectors, Config{SourceConcurrency: 2}, klog.NewMockMetrics())

	err := orch.Run(context.Background(), "run-1", "kb-1")
	require.NoError(t, err)

	cat.mu.Lock()
	defer cat.mu.Unlock()
	assert.Equal(t, model.RunCompleted, cat.runState)
	assert.Equal(t, 1, cat.counters.DocsDone)
	assert.Equal(t, 0, cat.counters.DocsFailed)
	assert.NotEmpty(t, cat.chunks)
	for _, doc := range cat.documents {
		assert.Equal(t, model.DocumentIndexed, doc.Status)
	}
}

func TestOrchestratorRunWithZeroIndexedDocumentsFails(t *testing.T) {
	kb := model.KnowledgeBase{
		ID: "kb-2", WorkspaceID: "ws-1",
		EmbeddingProfile: model.EmbeddingProfile{ProviderID: "local", ModelID: "hash-3gram-256", Dimension: 256, Normalized: true},
	}
	cat := newFakeCatalog(kb, nil)
	vectors := vectorstore.NewMemory(256)
	orch := New(cat, vectors, Config{}, nil)
	err := orch.Run(context.Background(), "run-2", "kb-2")
	require.NoError(t, err)
	// A run that indexes nothing is failed, never completed, and the KB
	// must not flip to ready.
	assert.Equal(t, model.RunFailed, cat.runState)
	assert.Equal(t, model.KBStatusFailed, cat.kb.Status)
}
