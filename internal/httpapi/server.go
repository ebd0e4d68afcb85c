// Package httpapi exposes the Knowledge Base ETL pipeline's external
// interface over HTTP: kb-drafts authoring, kb-pipeline run
// control, and kbs read/management. Routing uses net/http 1.22+
// ServeMux method-and-path patterns; no router dependency is needed for
// a surface this size.
package httpapi

import (
	"net/http"

	"kbetl/internal/catalog"
	"kbetl/internal/draft"
	"kbetl/internal/klog"
	"kbetl/internal/vectorstore"
)

// Server wires the HTTP surface to the Draft Store (C6), KB Catalog (C8),
// and Vector Index (C1). The Orchestrator is never called directly here -
// finalize hands off through draft.Store.Finalize, and run control
// (cancel/pause/resume) goes through the Catalog fields the orchestrator
// itself polls, the same indirection internal/catalog.Handoff uses to
// start a run without this package importing internal/orchestrator.
type Server struct {
	drafts    draft.Store
	catalog   catalog.Store
	vectors   vectorstore.Store
	finalizer draft.FinalizeHandler
	mux       *http.ServeMux
}

// NewServer builds a Server and registers every route. finalizer hands a
// finalized draft off to the Orchestrator (internal/catalog.Handoff in
// production wiring).
func NewServer(drafts draft.Store, store catalog.Store, vectors vectorstore.Store, finalizer draft.FinalizeHandler) *Server {
	s := &Server{drafts: drafts, catalog: store, vectors: vectors, finalizer: finalizer, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	// kb-drafts
	s.mux.HandleFunc("POST /kb-drafts", s.handleCreateDraft)
	s.mux.HandleFunc("GET /kb-drafts/{id}", s.handleGetDraft)
	s.mux.HandleFunc("DELETE /kb-drafts/{id}", s.handleDeleteDraft)
	s.mux.HandleFunc("POST /kb-drafts/{id}/sources/{kind}", s.handleAddSource)
	s.mux.HandleFunc("PATCH /kb-drafts/{id}/sources/{sourceID}", s.handleUpdateSource)
	s.mux.HandleFunc("DELETE /kb-drafts/{id}/sources/{sourceID}", s.handleRemoveSource)
	s.mux.HandleFunc("POST /kb-drafts/{id}/preview", s.handlePreview)
	s.mux.HandleFunc("GET /kb-drafts/{id}/pages", s.handleListPages)
	s.mux.HandleFunc("GET /kb-drafts/{id}/pages/{idx}", s.handleGetPage)
	s.mux.HandleFunc("GET /kb-drafts/{id}/chunks", s.handleDraftChunks)
	s.mux.HandleFunc("POST /kb-drafts/{id}/finalize", s.handleFinalize)

	// kb-pipeline
	s.mux.HandleFunc("GET /kb-pipeline/{runID}/status", s.handleRunStatus)
	s.mux.HandleFunc("GET /kb-pipeline/{runID}/logs", s.handleRunLogs)
	s.mux.HandleFunc("POST /kb-pipeline/{runID}/cancel", s.handleRunCancel)
	s.mux.HandleFunc("POST /kb-pipeline/{runID}/pause", s.handleRunPause)
	s.mux.HandleFunc("POST /kb-pipeline/{runID}/resume", s.handleRunResume)

	// kbs
	s.mux.HandleFunc("GET /kbs", s.handleListKBs)
	s.mux.HandleFunc("DELETE /kbs/{kbID}", s.handleDeleteKB)
	s.mux.HandleFunc("GET /kbs/{kbID}/stats", s.handleKBStats)
	s.mux.HandleFunc("GET /kbs/{kbID}/documents", s.handleListDocuments)
	s.mux.HandleFunc("GET /kbs/{kbID}/documents/{docID}", s.handleGetDocument)
	s.mux.HandleFunc("PUT /kbs/{kbID}/documents/{docID}", s.handleUpdateDocument)
	s.mux.HandleFunc("DELETE /kbs/{kbID}/documents/{docID}", s.handleDeleteDocument)
	s.mux.HandleFunc("GET /kbs/{kbID}/chunks", s.handleListChunks)
	s.mux.HandleFunc("PUT /kbs/{kbID}/chunks/{chunkID}", s.handleSetChunkEnabled)
}

func requestLog(r *http.Request) {
	logger := klog.FromContext(r.Context())
	logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("http request")
}
