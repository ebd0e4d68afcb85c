package draft

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

type stubPreviewer struct {
	calls int
	err   error
}

func (p *stubPreviewer) Preview(ctx context.Context, workspaceID string, sources []model.Source, overrides map[string]model.ChunkingConfig, maxPages, maxChunks int) (model.PreviewBundle, error) {
	p.calls++
	if p.err != nil {
		return model.PreviewBundle{}, p.err
	}
	bundle := model.PreviewBundle{}
	for _, src := range sources {
		bundle.Sources = append(bundle.Sources, model.SourcePreview{SourceID: src.ID, Pages: []model.Page{{URI: src.Reference, Content: "preview text"}}})
	}
	return bundle, nil
}

type stubHandler struct {
	kbID, runID string
	err         error
}

func (h *stubHandler) Handoff(ctx context.Context, d model.Draft) (string, string, error) {
	return h.kbID, h.runID, h.err
}

func validSpec() model.KBSpec {
	return model.KBSpec{
		Name:            "docs",
		EmbeddingProfile: &model.EmbeddingProfile{ProviderID: "local", ModelID: "hash-3gram-256", Dimension: 256},
	}
}

func TestCreateDraftRequiresWorkspaceAndName(t *testing.T) {
	s := NewMemory(nil)
	_, err := s.CreateDraft(context.Background(), "", "user-1", validSpec(), time.Hour)
	assert.True(t, kberr.Is(err, kberr.InvalidArgument))

	_, err = s.CreateDraft(context.Background(), "ws-1", "user-1", model.KBSpec{}, time.Hour)
	assert.True(t, kberr.Is(err, kberr.InvalidArgument))
}

func TestCreateAndGetDraftRoundTrips(t *testing.T) {
	s := NewMemory(nil)
	d, err := s.CreateDraft(context.Background(), "ws-1", "user-1", validSpec(), time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, d.DraftID)

	got, err := s.GetDraft(context.Background(), "ws-1", d.DraftID)
	require.NoError(t, err)
	assert.Equal(t, d.DraftID, got.DraftID)

	_, err = s.GetDraft(context.Background(), "ws-other", d.DraftID)
	assert.True(t, kberr.Is(err, kberr.NotFound))
}

func TestAddSourceRejectsAfterFinalize(t *testing.T) {
	s := NewMemory(&stubPreviewer{})
	d, err := s.CreateDraft(context.Background(), "ws-1", "u", validSpec(), time.Hour)
	require.NoError(t, err)
	_, err = s.AddSource(context.Background(), "ws-1", d.DraftID, model.Source{Kind: model.SourceText, Reference: "t", Config: model.SourceConfig{Text: "hello"}})
	require.NoError(t, err)

	_, _, err = s.Finalize(context.Background(), "ws-1", d.DraftID, &stubHandler{kbID: "kb-1", runID: "run-1"})
	require.NoError(t, err)

	_, err = s.AddSource(context.Background(), "ws-1", d.DraftID, model.Source{Kind: model.SourceText, Config: model.SourceConfig{Text: "x"}})
	assert.True(t, kberr.Is(err, kberr.NotFound)) // draft is deleted once finalized
}

func TestPreviewWithoutPreviewerIsTransient(t *testing.T) {
	s := NewMemory(nil)
	d, err := s.CreateDraft(context.Background(), "ws-1", "u", validSpec(), time.Hour)
	require.NoError(t, err)
	_, err = s.Preview(context.Background(), "ws-1", d.DraftID, "", 0, 0)
	assert.True(t, kberr.Is(err, kberr.Transient))
}

func TestPreviewMergesPerSourceAndListsPages(t *testing.T) {
	pv := &stubPreviewer{}
	s := NewMemory(pv)
	d, err := s.CreateDraft(context.Background(), "ws-1", "u", validSpec(), time.Hour)
	require.NoError(t, err)
	id1, err := s.AddSource(context.Background(), "ws-1", d.DraftID, model.Source{Kind: model.SourceText, Reference: "a", Config: model.SourceConfig{Text: "a"}})
	require.NoError(t, err)
	id2, err := s.AddSource(context.Background(), "ws-1", d.DraftID, model.Source{Kind: model.SourceText, Reference: "b", Config: model.SourceConfig{Text: "b"}})
	require.NoError(t, err)

	_, err = s.Preview(context.Background(), "ws-1", d.DraftID, "", 10, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, pv.calls)

	// Re-preview only id1; id2's cached preview must survive the merge.
	_, err = s.Preview(context.Background(), "ws-1", d.DraftID, id1, 10, 10)
	require.NoError(t, err)

	got, err := s.GetDraft(context.Background(), "ws-1", d.DraftID)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, sp := range got.Preview.Sources {
		ids[sp.SourceID] = true
	}
	assert.True(t, ids[id1])
	assert.True(t, ids[id2])

	pages, err := s.ListPages(context.Background(), "ws-1", d.DraftID, id1)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	_, err = s.GetPage(context.Background(), "ws-1", d.DraftID, id1, 5)
	assert.True(t, kberr.Is(err, kberr.InvalidArgument))
}

func TestFinalizeRejectsEmptyDraft(t *testing.T) {
	s := NewMemory(&stubPreviewer{})
	d, err := s.CreateDraft(context.Background(), "ws-1", "u", validSpec(), time.Hour)
	require.NoError(t, err)
	_, _, err = s.Finalize(context.Background(), "ws-1", d.DraftID, &stubHandler{})
	assert.True(t, kberr.Is(err, kberr.InvalidArgument))
}

func TestFinalizePropagatesHandoffError(t *testing.T) {
	s := NewMemory(&stubPreviewer{})
	d, err := s.CreateDraft(context.Background(), "ws-1", "u", validSpec(), time.Hour)
	require.NoError(t, err)
	_, err = s.AddSource(context.Background(), "ws-1", d.DraftID, model.Source{Kind: model.SourceText, Config: model.SourceConfig{Text: "x"}})
	require.NoError(t, err)

	_, _, err = s.Finalize(context.Background(), "ws-1", d.DraftID, &stubHandler{err: kberr.Newf(kberr.ResourceExhausted, "quota")})
	assert.True(t, kberr.Is(err, kberr.ResourceExhausted))

	// A failed handoff must not have consumed the draft: still fetchable.
	_, err = s.GetDraft(context.Background(), "ws-1", d.DraftID)
	assert.NoError(t, err)
}

func TestGetDraftExpiresLazily(t *testing.T) {
	s := NewMemory(nil).(*memoryStore)
	d, err := s.CreateDraft(context.Background(), "ws-1", "u", validSpec(), time.Minute)
	require.NoError(t, err)

	future := d.ExpiresAt.Add(time.Second)
	s.now = func() time.Time { return future }

	_, err = s.GetDraft(context.Background(), "ws-1", d.DraftID)
	assert.True(t, kberr.Is(err, kberr.NotFound))
}

func TestSweepExpiredRemovesOnlyPastExpiry(t *testing.T) {
	s := NewMemory(nil).(*memoryStore)
	d1, err := s.CreateDraft(context.Background(), "ws-1", "u", validSpec(), time.Minute)
	require.NoError(t, err)
	_, err = s.CreateDraft(context.Background(), "ws-1", "u", validSpec(), time.Hour)
	require.NoError(t, err)

	s.now = func() time.Time { return d1.ExpiresAt.Add(time.Second) }
	n, err := s.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteDraftIsIdempotent(t *testing.T) {
	s := NewMemory(nil)
	require.NoError(t, s.DeleteDraft(context.Background(), "ws-1", "missing"))
}
