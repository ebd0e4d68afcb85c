package httpapi

import (
	"net/http"
	"time"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

// runForTenant loads a PipelineRun and its owning KB, returning NotFound
// (never Forbidden) when workspaceID doesn't own it - the same
// existence-hiding rule internal/draft applies to cross-tenant access.
func (s *Server) runForTenant(r *http.Request, workspaceID, runID string) (model.PipelineRun, error) {
	run, err := s.catalog.GetRun(r.Context(), runID)
	if err != nil {
		return model.PipelineRun{}, err
	}
	kb, err := s.catalog.GetKnowledgeBase(r.Context(), run.KBID)
	if err != nil {
		return model.PipelineRun{}, err
	}
	if kb.WorkspaceID != workspaceID {
		return model.PipelineRun{}, kberr.Newf(kberr.NotFound, "run %s not found", runID)
	}
	return run, nil
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	run, err := s.runForTenant(r, tc.WorkspaceID, r.PathValue("runID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if _, err := s.runForTenant(r, tc.WorkspaceID, r.PathValue("runID")); err != nil {
		respondError(w, err)
		return
	}
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			since = t
		}
	}
	events, err := s.catalog.ListStageEvents(r.Context(), r.PathValue("runID"), since)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleRunCancel(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if _, err := s.runForTenant(r, tc.WorkspaceID, r.PathValue("runID")); err != nil {
		respondError(w, err)
		return
	}
	if err := s.catalog.RequestCancel(r.Context(), r.PathValue("runID")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRunPause(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if _, err := s.runForTenant(r, tc.WorkspaceID, r.PathValue("runID")); err != nil {
		respondError(w, err)
		return
	}
	if err := s.catalog.SetRunPaused(r.Context(), r.PathValue("runID"), true); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRunResume(w http.ResponseWriter, r *http.Request) {
	requestLog(r)
	tc, err := principalFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if _, err := s.runForTenant(r, tc.WorkspaceID, r.PathValue("runID")); err != nil {
		respondError(w, err)
		return
	}
	if err := s.catalog.SetRunPaused(r.Context(), r.PathValue("runID"), false); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
