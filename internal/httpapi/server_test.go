package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbetl/internal/catalog"
	"kbetl/internal/draft"
	"kbetl/internal/model"
	"kbetl/internal/vectorstore"
)

type stubPreviewer struct{}

func (stubPreviewer) Preview(ctx context.Context, workspaceID string, sources []model.Source, overrides map[string]model.ChunkingConfig, maxPages, maxChunks int) (model.PreviewBundle, error) {
	bundle := model.PreviewBundle{}
	for _, src := range sources {
		bundle.Sources = append(bundle.Sources, model.SourcePreview{SourceID: src.ID, Pages: []model.Page{{URI: "inline", Content: "preview"}}})
	}
	return bundle, nil
}

type stubFinalizer struct {
	kbID, runID string
}

func (f stubFinalizer) Handoff(ctx context.Context, d model.Draft) (string, string, error) {
	return f.kbID, f.runID, nil
}

func newTestServer() *Server {
	drafts := draft.NewMemory(stubPreviewer{})
	store := catalog.NewMemory()
	vectors := vectorstore.NewMemory(8)
	return NewServer(drafts, store, vectors, stubFinalizer{kbID: "kb-1", runID: "run-1"})
}

func doRequest(t *testing.T, s *Server, method, path string, body any, workspaceID string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if workspaceID != "" {
		r.Header.Set("X-Workspace-ID", workspaceID)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	return w
}

func TestCreateDraftRequiresWorkspaceHeader(t *testing.T) {
	s := newTestServer()
	w := doRequest(t, s, http.MethodPost, "/kb-drafts", map[string]any{"spec": map[string]any{"name": "docs"}}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDraftLifecycleEndToEnd(t *testing.T) {
	s := newTestServer()

	createBody := map[string]any{
		"spec": map[string]any{
			"name": "docs",
			"embedding_profile": map[string]any{
				"provider_id": "local",
				"model_id":    "hash-3gram-256",
				"dimension":   256,
			},
		},
	}
	w := doRequest(t, s, http.MethodPost, "/kb-drafts", createBody, "ws-1")
	require.Equal(t, http.StatusCreated, w.Code)
	var d model.Draft
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	require.NotEmpty(t, d.DraftID)

	addSourceBody := map[string]any{"config": map[string]any{"text": "hello world"}}
	w = doRequest(t, s, http.MethodPost, "/kb-drafts/"+d.DraftID+"/sources/text", addSourceBody, "ws-1")
	require.Equal(t, http.StatusCreated, w.Code)
	var added map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &added))
	sourceID := added["source_id"]
	require.NotEmpty(t, sourceID)

	w = doRequest(t, s, http.MethodPost, "/kb-drafts/"+d.DraftID+"/preview", nil, "ws-1")
	require.Equal(t, http.StatusOK, w.Code)
	var bundle model.PreviewBundle
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bundle))
	require.Len(t, bundle.Sources, 1)

	w = doRequest(t, s, http.MethodGet, "/kb-drafts/"+d.DraftID+"/pages?source_id="+sourceID, nil, "ws-1")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, s, http.MethodPost, "/kb-drafts/"+d.DraftID+"/finalize", nil, "ws-1")
	require.Equal(t, http.StatusAccepted, w.Code)
	var handoff map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &handoff))
	assert.Equal(t, "kb-1", handoff["kb_id"])
	assert.Equal(t, "run-1", handoff["run_id"])

	// Finalized drafts are deleted, so a second finalize call 404s.
	w = doRequest(t, s, http.MethodPost, "/kb-drafts/"+d.DraftID+"/finalize", nil, "ws-1")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKBStatsNotFoundForWrongWorkspace(t *testing.T) {
	s := newTestServer()
	require.NoError(t, s.catalog.CreateKnowledgeBase(context.Background(), model.KnowledgeBase{
		ID: "kb-1", WorkspaceID: "ws-1", Name: "docs", Status: model.KBStatusReady,
	}))
	w := doRequest(t, s, http.MethodGet, "/kbs/kb-1/stats", nil, "ws-2")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteKnowledgeBaseRemovesIt(t *testing.T) {
	s := newTestServer()
	require.NoError(t, s.catalog.CreateKnowledgeBase(context.Background(), model.KnowledgeBase{
		ID: "kb-1", WorkspaceID: "ws-1", Name: "docs", Status: model.KBStatusReady,
	}))
	w := doRequest(t, s, http.MethodDelete, "/kbs/kb-1", nil, "ws-1")
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, err := s.catalog.GetKnowledgeBase(context.Background(), "kb-1")
	assert.Error(t, err)
}
