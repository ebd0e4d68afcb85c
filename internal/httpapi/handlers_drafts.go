package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"kbetl/internal/draft"
	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

func (s *Server) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var body struct {
		Spec       model.KBSpec `json:"spec"`
		TTLSeconds int          `json:"ttl_seconds"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}
	ttl := time.Duration(body.TTLSeconds) * time.Second
	d, err := s.drafts.CreateDraft(r.Context(), tc.WorkspaceID, tc.UserID, body.Spec, ttl)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	d, err := s.drafts.GetDraft(r.Context(), tc.WorkspaceID, r.PathValue("id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.drafts.DeleteDraft(r.Context(), tc.WorkspaceID, r.PathValue("id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// draftSourceKinds maps the URL segment (web|file|cloud|text|composite)
// onto model.SourceKind.
var draftSourceKinds = map[string]model.SourceKind{
	"web":       model.SourceWeb,
	"file":      model.SourceFile,
	"cloud":     model.SourceCloud,
	"text":      model.SourceText,
	"composite": model.SourceComposite,
}

func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	kind, ok := draftSourceKinds[r.PathValue("kind")]
	if !ok {
		respondError(w, kberr.Newf(kberr.InvalidArgument, "unknown source kind %q", r.PathValue("kind")))
		return
	}
	var src model.Source
	if err := decodeJSON(r, &src); err != nil {
		respondError(w, err)
		return
	}
	src.Kind = kind
	id, err := s.drafts.AddSource(r.Context(), tc.WorkspaceID, r.PathValue("id"), src)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"source_id": id})
}

func (s *Server) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var patch draft.SourcePatch
	if err := decodeJSON(r, &patch); err != nil {
		respondError(w, err)
		return
	}
	if err := s.drafts.UpdateSource(r.Context(), tc.WorkspaceID, r.PathValue("id"), r.PathValue("sourceID"), patch); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveSource(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.drafts.RemoveSource(r.Context(), tc.WorkspaceID, r.PathValue("id"), r.PathValue("sourceID")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	maxPages, _ := strconv.Atoi(r.URL.Query().Get("max_pages"))
	maxChunks, _ := strconv.Atoi(r.URL.Query().Get("max_chunks"))
	bundle, err := s.drafts.Preview(r.Context(), tc.WorkspaceID, r.PathValue("id"), r.URL.Query().Get("source_id"), maxPages, maxChunks)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	pages, err := s.drafts.ListPages(r.Context(), tc.WorkspaceID, r.PathValue("id"), r.URL.Query().Get("source_id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	idx, err := strconv.Atoi(r.PathValue("idx"))
	if err != nil {
		respondError(w, kberr.Newf(kberr.InvalidArgument, "page index must be an integer"))
		return
	}
	page, err := s.drafts.GetPage(r.Context(), tc.WorkspaceID, r.PathValue("id"), r.URL.Query().Get("source_id"), idx)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// handleDraftChunks serves `GET /kb-drafts/{id}/chunks?source_id=&strategy=&target_size=&overlap=`
//: sampled chunks under a candidate chunking config. Setting the
// override persists it to the draft - the same override finalize will use
// - then recomputes the preview so the returned SampleChunks reflect it.
func (s *Server) handleDraftChunks(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	draftID := r.PathValue("id")
	q := r.URL.Query()
	sourceID := q.Get("source_id")
	if sourceID == "" {
		respondError(w, kberr.Newf(kberr.InvalidArgument, "source_id is required to preview candidate chunks"))
		return
	}
	if strategy := q.Get("strategy"); strategy != "" {
		cfg := model.DefaultChunkingConfig()
		cfg.Strategy = model.ChunkingStrategy(strategy)
		if v, err := strconv.Atoi(q.Get("target_size")); err == nil && v > 0 {
			cfg.TargetSize = v
		}
		if v, err := strconv.Atoi(q.Get("overlap")); err == nil {
			cfg.Overlap = v
		}
		if err := cfg.Validate(); err != nil {
			respondError(w, err)
			return
		}
		if err := s.drafts.SetChunkingOverride(r.Context(), tc.WorkspaceID, draftID, sourceID, cfg); err != nil {
			respondError(w, err)
			return
		}
	}
	bundle, err := s.drafts.Preview(r.Context(), tc.WorkspaceID, draftID, sourceID, 0, 0)
	if err != nil {
		respondError(w, err)
		return
	}
	for _, sp := range bundle.Sources {
		if sp.SourceID == sourceID {
			respondJSON(w, http.StatusOK, map[string]any{"chunks": sp.SampleChunks})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"chunks": []model.Chunk{}})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	kbID, runID, err := s.drafts.Finalize(r.Context(), tc.WorkspaceID, r.PathValue("id"), s.finalizer)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"kb_id": kbID, "run_id": runID})
}
