package httpapi

import (
	"net/http"
	"strconv"

	"kbetl/internal/catalog"
	"kbetl/internal/kberr"
	"kbetl/internal/model"
	"kbetl/internal/vectorstore"
)

// catalogDocumentPatch is the JSON body accepted by PUT
// /kbs/{kbID}/documents/{docID}.
type catalogDocumentPatch struct {
	ChunkingOverride *model.ChunkingConfig `json:"chunking_override,omitempty"`
}

func (p catalogDocumentPatch) toCatalog() catalog.DocumentPatch {
	return catalog.DocumentPatch{ChunkingOverride: p.ChunkingOverride}
}

func pageLimit(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}

func (s *Server) handleListKBs(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	page, limit := pageLimit(r)
	kbs, err := s.catalog.ListKnowledgeBases(r.Context(), tc.WorkspaceID, page, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, kbs)
}

// kbForTenant loads a KnowledgeBase and enforces workspace ownership,
// returning NotFound rather than Forbidden on mismatch.
func (s *Server) kbForTenant(r *http.Request, workspaceID, kbID string) error {
	kb, err := s.catalog.GetKnowledgeBase(r.Context(), kbID)
	if err != nil {
		return err
	}
	if kb.WorkspaceID != workspaceID {
		return kberr.Newf(kberr.NotFound, "knowledge base %s not found", kbID)
	}
	return nil
}

func (s *Server) handleDeleteKB(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	kbID := r.PathValue("kbID")
	if err := s.kbForTenant(r, tc.WorkspaceID, kbID); err != nil {
		respondError(w, err)
		return
	}
	filter, err := vectorstore.NewFilter(tc.WorkspaceID)
	if err != nil {
		respondError(w, err)
		return
	}
	// Vector Index before Catalog: a crash
	// between the two leaves orphaned vectors the Reconciler can still
	// detect, never a catalog entry pointing at vectors that are gone.
	if err := s.vectors.Delete(r.Context(), kbID, filter); err != nil {
		respondError(w, err)
		return
	}
	if err := s.catalog.DeleteKnowledgeBase(r.Context(), tc.WorkspaceID, kbID); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKBStats(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	kbID := r.PathValue("kbID")
	stats, err := s.catalog.Stats(r.Context(), tc.WorkspaceID, kbID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	page, limit := pageLimit(r)
	docs, err := s.catalog.ListDocuments(r.Context(), tc.WorkspaceID, r.PathValue("kbID"), page, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	doc, err := s.catalog.GetDocument(r.Context(), tc.WorkspaceID, r.PathValue("kbID"), r.PathValue("docID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// handleUpdateDocument applies a per-document chunking override: the
// orchestrator picks it up and reprocesses only this document on its
// next run.
func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var patch catalogDocumentPatch
	if err := decodeJSON(r, &patch); err != nil {
		respondError(w, err)
		return
	}
	if patch.ChunkingOverride != nil {
		if err := patch.ChunkingOverride.Validate(); err != nil {
			respondError(w, err)
			return
		}
	}
	if err := s.catalog.UpdateDocumentConfig(r.Context(), tc.WorkspaceID, r.PathValue("kbID"), r.PathValue("docID"), patch.toCatalog()); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	kbID, docID := r.PathValue("kbID"), r.PathValue("docID")
	if _, err := s.catalog.GetDocument(r.Context(), tc.WorkspaceID, kbID, docID); err != nil {
		respondError(w, err)
		return
	}
	filter, err := vectorstore.NewFilter(tc.WorkspaceID)
	if err != nil {
		respondError(w, err)
		return
	}
	// Vector Index, then chunk rows, then the document itself, so a
	// crash can orphan vectors but never strand a catalog row.
	if err := s.vectors.Delete(r.Context(), kbID, filter.WithDocument(docID)); err != nil {
		respondError(w, err)
		return
	}
	if err := s.catalog.DeleteChunksForDocument(r.Context(), kbID, docID); err != nil {
		respondError(w, err)
		return
	}
	if err := s.catalog.DeleteDocument(r.Context(), tc.WorkspaceID, kbID, docID); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListChunks(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	page, limit := pageLimit(r)
	chunks, err := s.catalog.ListChunks(r.Context(), tc.WorkspaceID, r.PathValue("kbID"), r.URL.Query().Get("document_id"), page, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, chunks)
}

// handleSetChunkEnabled flips a chunk's enabled flag in the Catalog and,
// best-effort, removes it from the Vector Index so index-level filters
// exclude it too. The Vector Index contract exposes no
// way to mutate a stored record's payload without re-supplying its
// embedding, which this layer does not hold; disabling therefore deletes
// the vector outright rather than upserting payload.enabled=false, and
// re-enabling only flips the catalog flag - the chunk's vector is restored
// on the KB's next reprocess, not immediately. This is recorded as an
// accepted limitation, not silently dropped.
func (s *Server) handleSetChunkEnabled(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}
	kbID, chunkID := r.PathValue("kbID"), r.PathValue("chunkID")
	if err := s.catalog.SetChunkEnabled(r.Context(), tc.WorkspaceID, kbID, chunkID, body.Enabled); err != nil {
		respondError(w, err)
		return
	}
	if !body.Enabled {
		filter, err := vectorstore.NewFilter(tc.WorkspaceID)
		if err != nil {
			respondError(w, err)
			return
		}
		if err := s.vectors.Delete(r.Context(), kbID, filter.WithChunkIDs([]string{chunkID})); err != nil {
			respondError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
