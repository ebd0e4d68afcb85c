package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

func newTestKB(id, workspaceID string) model.KnowledgeBase {
	return model.KnowledgeBase{
		ID:               id,
		WorkspaceID:      workspaceID,
		Name:             "docs",
		Status:           model.KBStatusDraft,
		EmbeddingProfile: model.EmbeddingProfile{ProviderID: "local", ModelID: "hash-3gram-256", Dimension: 256},
	}
}

func TestCreateKnowledgeBaseRejectsDuplicateID(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.CreateKnowledgeBase(context.Background(), newTestKB("kb-1", "ws-1")))
	err := s.CreateKnowledgeBase(context.Background(), newTestKB("kb-1", "ws-1"))
	assert.True(t, kberr.Is(err, kberr.ConflictState))
}

func TestDeleteKnowledgeBaseCascades(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.CreateKnowledgeBase(context.Background(), newTestKB("kb-1", "ws-1")))
	require.NoError(t, s.CreateSources(context.Background(), "kb-1", []model.Source{{ID: "src-1", Kind: model.SourceText, Enabled: true}}))
	require.NoError(t, s.UpsertDocument(context.Background(), model.Document{ID: "doc-1", KBID: "kb-1", SourceID: "src-1", Status: model.DocumentIndexed}))
	require.NoError(t, s.UpsertChunks(context.Background(), "kb-1", []model.Chunk{{ID: "c-1", DocumentID: "doc-1", KBID: "kb-1", Ordinal: 0}}))
	require.NoError(t, s.CreateRun(context.Background(), model.PipelineRun{RunID: "run-1", KBID: "kb-1", State: model.RunRunning}))

	require.NoError(t, s.DeleteKnowledgeBase(context.Background(), "ws-1", "kb-1"))

	_, err := s.GetKnowledgeBase(context.Background(), "kb-1")
	assert.True(t, kberr.Is(err, kberr.NotFound))
	_, err = s.GetDocument(context.Background(), "ws-1", "kb-1", "doc-1")
	assert.True(t, kberr.Is(err, kberr.NotFound))
	_, err = s.GetRun(context.Background(), "run-1")
	assert.True(t, kberr.Is(err, kberr.NotFound))
}

func TestListEnabledSourcesFiltersDisabled(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.CreateSources(context.Background(), "kb-1", []model.Source{
		{ID: "a", Kind: model.SourceText, Enabled: true},
		{ID: "b", Kind: model.SourceText, Enabled: false},
	}))
	out, err := s.ListEnabledSources(context.Background(), "kb-1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
}

func TestUpsertChunksUpdatesDocumentChunkCount(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.CreateKnowledgeBase(context.Background(), newTestKB("kb-1", "ws-1")))
	require.NoError(t, s.UpsertDocument(context.Background(), model.Document{ID: "doc-1", KBID: "kb-1"}))
	require.NoError(t, s.UpsertChunks(context.Background(), "kb-1", []model.Chunk{
		{ID: "c-2", DocumentID: "doc-1", KBID: "kb-1", Ordinal: 1},
		{ID: "c-1", DocumentID: "doc-1", KBID: "kb-1", Ordinal: 0},
	}))
	doc, err := s.GetDocument(context.Background(), "ws-1", "kb-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.ChunkCount)

	page, err := s.ListChunks(context.Background(), "ws-1", "kb-1", "doc-1", 1, 50)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c-1", page.Items[0].ID) // ordinal order, not insertion order
}

func TestStatsCountsActiveDocumentsAndEnabledChunks(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.CreateKnowledgeBase(context.Background(), newTestKB("kb-1", "ws-1")))
	require.NoError(t, s.UpsertDocument(context.Background(), model.Document{ID: "doc-1", KBID: "kb-1", Status: model.DocumentIndexed}))
	require.NoError(t, s.UpsertDocument(context.Background(), model.Document{ID: "doc-2", KBID: "kb-1", Status: model.DocumentDisabled}))
	require.NoError(t, s.UpsertChunks(context.Background(), "kb-1", []model.Chunk{
		{ID: "c-1", DocumentID: "doc-1", KBID: "kb-1", Enabled: true},
		{ID: "c-2", DocumentID: "doc-1", KBID: "kb-1", Enabled: false},
	}))

	st, err := s.Stats(context.Background(), "ws-1", "kb-1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Documents.Total) // disabled documents are excluded
	assert.Equal(t, 1, st.Documents.Active)
	assert.Equal(t, 2, st.Chunks.Total)
	assert.Equal(t, 1, st.Chunks.Enabled)
}

func TestCountActiveRunsScopesToWorkspace(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.CreateKnowledgeBase(context.Background(), newTestKB("kb-1", "ws-1")))
	require.NoError(t, s.CreateKnowledgeBase(context.Background(), newTestKB("kb-2", "ws-2")))
	require.NoError(t, s.CreateRun(context.Background(), model.PipelineRun{RunID: "run-1", KBID: "kb-1", State: model.RunRunning}))
	require.NoError(t, s.CreateRun(context.Background(), model.PipelineRun{RunID: "run-2", KBID: "kb-1", State: model.RunCompleted}))
	require.NoError(t, s.CreateRun(context.Background(), model.PipelineRun{RunID: "run-3", KBID: "kb-2", State: model.RunQueued}))

	n, err := s.CountActiveRuns(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRequestCancelAndCancelRequested(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.CreateRun(context.Background(), model.PipelineRun{RunID: "run-1", State: model.RunRunning}))
	ok, err := s.CancelRequested(context.Background(), "run-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RequestCancel(context.Background(), "run-1"))
	ok, err = s.CancelRequested(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetRunPausedTogglesState(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.CreateRun(context.Background(), model.PipelineRun{RunID: "run-1", State: model.RunRunning}))
	require.NoError(t, s.SetRunPaused(context.Background(), "run-1", true))
	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunPaused, run.State)

	require.NoError(t, s.SetRunPaused(context.Background(), "run-1", false))
	run, err = s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, run.State)
}

func TestAppendStageEventTrimsOldestInfoFirst(t *testing.T) {
	s := NewMemory().(*memoryStore)
	s.now = func() time.Time { return time.Unix(0, 0) }
	require.NoError(t, s.CreateRun(context.Background(), model.PipelineRun{RunID: "run-1", State: model.RunRunning}))

	over := model.MaxStageLogEvents + 5
	for i := 0; i < over; i++ {
		level := model.EventInfo
		if i == 1 {
			level = model.EventError // must survive trimming
		}
		require.NoError(t, s.AppendStageEvent(context.Background(), "run-1", model.StageEvent{Seq: int64(i), Level: level}))
	}
	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(run.StageLog), model.MaxStageLogEvents)

	foundError := false
	for _, ev := range run.StageLog {
		if ev.Level == model.EventError {
			foundError = true
		}
	}
	assert.True(t, foundError)
}

func TestListStageEventsFiltersBySince(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.CreateRun(context.Background(), model.PipelineRun{RunID: "run-1", State: model.RunRunning}))
	base := time.Now()
	require.NoError(t, s.AppendStageEvent(context.Background(), "run-1", model.StageEvent{Ts: base}))
	require.NoError(t, s.AppendStageEvent(context.Background(), "run-1", model.StageEvent{Ts: base.Add(time.Minute)}))

	out, err := s.ListStageEvents(context.Background(), "run-1", base)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Ts.After(base))
}

func TestUpdateDocumentConfigMarksPendingAndUpdatesSource(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.CreateKnowledgeBase(context.Background(), newTestKB("kb-1", "ws-1")))
	require.NoError(t, s.CreateSources(context.Background(), "kb-1", []model.Source{{ID: "src-1", Kind: model.SourceText, Enabled: true}}))
	require.NoError(t, s.UpsertDocument(context.Background(), model.Document{ID: "doc-1", KBID: "kb-1", SourceID: "src-1", Status: model.DocumentIndexed}))

	cfg := model.DefaultChunkingConfig()
	cfg.TargetSize = 500
	require.NoError(t, s.UpdateDocumentConfig(context.Background(), "ws-1", "kb-1", "doc-1", DocumentPatch{ChunkingOverride: &cfg}))

	doc, err := s.GetDocument(context.Background(), "ws-1", "kb-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentPending, doc.Status)

	src, err := s.Source(context.Background(), "src-1")
	require.NoError(t, err)
	require.NotNil(t, src.Config.ChunkingOverride)
	assert.Equal(t, 500, src.Config.ChunkingOverride.TargetSize)
}

func TestWorkspaceScopingRejectsCrossTenantAccess(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.CreateKnowledgeBase(context.Background(), newTestKB("kb-1", "ws-1")))
	require.NoError(t, s.UpsertDocument(context.Background(), model.Document{ID: "doc-1", KBID: "kb-1"}))

	_, err := s.GetDocument(context.Background(), "ws-2", "kb-1", "doc-1")
	assert.True(t, kberr.Is(err, kberr.NotFound))
}
