package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

// memoryStore is an in-process Store: the default backend when
// config.CatalogConfig.DSN is empty, and what the rest of this package's
// tests and the single-binary cmd/kbetl run against.
type memoryStore struct {
	mu sync.RWMutex

	kbs       map[string]model.KnowledgeBase
	sources   map[string]model.Source            // source_id -> source
	documents map[string]model.Document          // doc_id -> document
	chunks    map[string]model.Chunk             // chunk_id -> chunk
	chunksDoc map[string][]string                // document_id -> chunk ids, ordinal order
	runs      map[string]model.PipelineRun
	cancel    map[string]bool // run_id -> cancellation requested

	now func() time.Time
}

// NewMemory builds an in-process Store.
func NewMemory() Store {
	return &memoryStore{
		kbs:       make(map[string]model.KnowledgeBase),
		sources:   make(map[string]model.Source),
		documents: make(map[string]model.Document),
		chunks:    make(map[string]model.Chunk),
		chunksDoc: make(map[string][]string),
		runs:      make(map[string]model.PipelineRun),
		cancel:    make(map[string]bool),
		now:       time.Now,
	}
}

func (s *memoryStore) Close() error { return nil }

// --- Knowledge bases -------------------------------------------------

func (s *memoryStore) CreateKnowledgeBase(ctx context.Context, kb model.KnowledgeBase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.kbs[kb.ID]; exists {
		return kberr.Newf(kberr.ConflictState, "knowledge base %s already exists", kb.ID)
	}
	s.kbs[kb.ID] = kb
	return nil
}

func (s *memoryStore) GetKnowledgeBase(ctx context.Context, kbID string) (model.KnowledgeBase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kb, ok := s.kbs[kbID]
	if !ok {
		return model.KnowledgeBase{}, kberr.Newf(kberr.NotFound, "knowledge base %s not found", kbID)
	}
	return kb, nil
}

func (s *memoryStore) ListKnowledgeBases(ctx context.Context, workspaceID string, page, limit int) (Page[model.KnowledgeBase], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []model.KnowledgeBase
	for _, kb := range s.kbs {
		if kb.WorkspaceID == workspaceID {
			all = append(all, kb)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return paginate(all, page, limit), nil
}

func (s *memoryStore) ListAllKnowledgeBases(ctx context.Context) ([]KBRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]KBRef, 0, len(s.kbs))
	for _, kb := range s.kbs {
		out = append(out, KBRef{ID: kb.ID, WorkspaceID: kb.WorkspaceID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) UpdateKnowledgeBaseStatus(ctx context.Context, kbID string, status model.KBStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kb, ok := s.kbs[kbID]
	if !ok {
		return kberr.Newf(kberr.NotFound, "knowledge base %s not found", kbID)
	}
	kb.Status = status
	kb.UpdatedAt = s.now()
	s.kbs[kbID] = kb
	return nil
}

func (s *memoryStore) DeleteKnowledgeBase(ctx context.Context, workspaceID, kbID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kb, ok := s.kbs[kbID]
	if !ok || kb.WorkspaceID != workspaceID {
		return kberr.Newf(kberr.NotFound, "knowledge base %s not found", kbID)
	}
	delete(s.kbs, kbID)
	for id, src := range s.sources {
		if src.KBID == kbID {
			delete(s.sources, id)
		}
	}
	for id, doc := range s.documents {
		if doc.KBID == kbID {
			delete(s.documents, id)
			for _, cid := range s.chunksDoc[id] {
				delete(s.chunks, cid)
			}
			delete(s.chunksDoc, id)
		}
	}
	for id, run := range s.runs {
		if run.KBID == kbID {
			delete(s.runs, id)
			delete(s.cancel, id)
		}
	}
	return nil
}

// --- Sources -----------------------------------------------------------

func (s *memoryStore) CreateSources(ctx context.Context, kbID string, sources []model.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range sources {
		src.KBID = kbID
		s.sources[src.ID] = src
	}
	return nil
}

func (s *memoryStore) ListEnabledSources(ctx context.Context, kbID string) ([]model.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Source
	for _, src := range s.sources {
		if src.KBID == kbID && src.Enabled {
			out = append(out, src)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) Source(ctx context.Context, id string) (model.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return model.Source{}, kberr.Newf(kberr.NotFound, "source %s not found", id)
	}
	return src, nil
}

// --- Documents -----------------------------------------------------------

func (s *memoryStore) UpsertDocument(ctx context.Context, doc model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.documents[doc.ID]; ok {
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = existing.CreatedAt
		}
	} else if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now()
	}
	doc.UpdatedAt = s.now()
	s.documents[doc.ID] = doc
	return nil
}

func (s *memoryStore) workspaceOwnsKB(workspaceID, kbID string) error {
	kb, ok := s.kbs[kbID]
	if !ok || kb.WorkspaceID != workspaceID {
		return kberr.Newf(kberr.NotFound, "knowledge base %s not found", kbID)
	}
	return nil
}

func (s *memoryStore) GetDocument(ctx context.Context, workspaceID, kbID, docID string) (model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.workspaceOwnsKB(workspaceID, kbID); err != nil {
		return model.Document{}, err
	}
	doc, ok := s.documents[docID]
	if !ok || doc.KBID != kbID {
		return model.Document{}, kberr.Newf(kberr.NotFound, "document %s not found", docID)
	}
	return doc, nil
}

func (s *memoryStore) ListDocuments(ctx context.Context, workspaceID, kbID string, page, limit int) (Page[model.Document], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.workspaceOwnsKB(workspaceID, kbID); err != nil {
		return Page[model.Document]{}, err
	}
	var all []model.Document
	for _, doc := range s.documents {
		if doc.KBID == kbID {
			all = append(all, doc)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return paginate(all, page, limit), nil
}

func (s *memoryStore) UpdateDocumentConfig(ctx context.Context, workspaceID, kbID, docID string, patch DocumentPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.workspaceOwnsKB(workspaceID, kbID); err != nil {
		return err
	}
	doc, ok := s.documents[docID]
	if !ok || doc.KBID != kbID {
		return kberr.Newf(kberr.NotFound, "document %s not found", docID)
	}
	if patch.ChunkingOverride != nil {
		if err := patch.ChunkingOverride.Validate(); err != nil {
			return err
		}
		src, ok := s.sources[doc.SourceID]
		if ok {
			cfg := *patch.ChunkingOverride
			src.Config.ChunkingOverride = &cfg
			s.sources[doc.SourceID] = src
		}
	}
	doc.Status = model.DocumentPending
	doc.UpdatedAt = s.now()
	s.documents[docID] = doc
	return nil
}

func (s *memoryStore) DeleteDocument(ctx context.Context, workspaceID, kbID, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.workspaceOwnsKB(workspaceID, kbID); err != nil {
		return err
	}
	doc, ok := s.documents[docID]
	if !ok || doc.KBID != kbID {
		return kberr.Newf(kberr.NotFound, "document %s not found", docID)
	}
	for _, cid := range s.chunksDoc[docID] {
		delete(s.chunks, cid)
	}
	delete(s.chunksDoc, docID)
	delete(s.documents, docID)
	return nil
}

// --- Chunks -----------------------------------------------------------

func (s *memoryStore) UpsertChunks(ctx context.Context, kbID string, chunks []model.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDoc := map[string][]model.Chunk{}
	for _, c := range chunks {
		c.KBID = kbID
		s.chunks[c.ID] = c
		byDoc[c.DocumentID] = append(byDoc[c.DocumentID], c)
	}
	for docID, cs := range byDoc {
		sort.Slice(cs, func(i, j int) bool { return cs[i].Ordinal < cs[j].Ordinal })
		ids := make([]string, len(cs))
		for i, c := range cs {
			ids[i] = c.ID
		}
		s.chunksDoc[docID] = ids
		if doc, ok := s.documents[docID]; ok {
			doc.ChunkCount = len(ids)
			s.documents[docID] = doc
		}
	}
	return nil
}

func (s *memoryStore) ListChunks(ctx context.Context, workspaceID, kbID string, documentID string, page, limit int) (Page[model.Chunk], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.workspaceOwnsKB(workspaceID, kbID); err != nil {
		return Page[model.Chunk]{}, err
	}
	var all []model.Chunk
	if documentID != "" {
		for _, cid := range s.chunksDoc[documentID] {
			all = append(all, s.chunks[cid])
		}
	} else {
		for _, c := range s.chunks {
			if c.KBID == kbID {
				all = append(all, c)
			}
		}
		sort.Slice(all, func(i, j int) bool {
			if all[i].DocumentID != all[j].DocumentID {
				return all[i].DocumentID < all[j].DocumentID
			}
			return all[i].Ordinal < all[j].Ordinal
		})
	}
	return paginate(all, page, limit), nil
}

func (s *memoryStore) SetChunkEnabled(ctx context.Context, workspaceID, kbID, chunkID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.workspaceOwnsKB(workspaceID, kbID); err != nil {
		return err
	}
	c, ok := s.chunks[chunkID]
	if !ok || c.KBID != kbID {
		return kberr.Newf(kberr.NotFound, "chunk %s not found", chunkID)
	}
	c.Enabled = enabled
	s.chunks[chunkID] = c
	return nil
}

func (s *memoryStore) DeleteChunksForDocument(ctx context.Context, kbID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cid := range s.chunksDoc[documentID] {
		delete(s.chunks, cid)
	}
	delete(s.chunksDoc, documentID)
	return nil
}

// --- Stats -----------------------------------------------------------

func (s *memoryStore) Stats(ctx context.Context, workspaceID, kbID string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.workspaceOwnsKB(workspaceID, kbID); err != nil {
		return Stats{}, err
	}
	st := Stats{Documents: DocumentStats{ByStatus: map[model.DocumentStatus]int{}}}
	var lastIndexed *time.Time
	for _, doc := range s.documents {
		if doc.KBID != kbID || doc.Status == model.DocumentDisabled {
			continue
		}
		if doc.Status == "" {
			continue
		}
		st.Documents.ByStatus[doc.Status]++
		st.Documents.Total++
		if model.ActiveDocumentStatuses[doc.Status] {
			st.Documents.Active++
		}
		if doc.Status == model.DocumentIndexed {
			t := doc.UpdatedAt
			if lastIndexed == nil || t.After(*lastIndexed) {
				lastIndexed = &t
			}
		}
	}
	for _, c := range s.chunks {
		if c.KBID != kbID {
			continue
		}
		st.Chunks.Total++
		if c.Enabled {
			st.Chunks.Enabled++
		}
	}
	st.LastIndexedAt = lastIndexed
	return st, nil
}

// --- Pipeline runs / stage events --------------------------------------

func (s *memoryStore) CreateRun(ctx context.Context, run model.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.RunID]; exists {
		return kberr.Newf(kberr.ConflictState, "run %s already exists", run.RunID)
	}
	s.runs[run.RunID] = run
	return nil
}

func (s *memoryStore) GetRun(ctx context.Context, runID string) (model.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return model.PipelineRun{}, kberr.Newf(kberr.NotFound, "run %s not found", runID)
	}
	return run, nil
}

func (s *memoryStore) HasActiveRun(ctx context.Context, kbID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, run := range s.runs {
		if run.KBID == kbID && model.ActiveRunStates[run.State] {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) CountActiveRuns(ctx context.Context, workspaceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, run := range s.runs {
		if !model.ActiveRunStates[run.State] {
			continue
		}
		if kb, ok := s.kbs[run.KBID]; ok && kb.WorkspaceID == workspaceID {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) UpdateRunState(ctx context.Context, runID string, state model.RunState, finishedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return kberr.Newf(kberr.NotFound, "run %s not found", runID)
	}
	run.State = state
	if state == model.RunRunning && run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	if finishedAt != nil {
		run.FinishedAt = finishedAt
	}
	s.runs[runID] = run
	return nil
}

func (s *memoryStore) UpdateProgress(ctx context.Context, runID string, progress model.Progress, counters model.RunCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return kberr.Newf(kberr.NotFound, "run %s not found", runID)
	}
	run.Progress = progress
	run.Counters = counters
	s.runs[runID] = run
	return nil
}

func (s *memoryStore) AppendStageEvent(ctx context.Context, runID string, ev model.StageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return kberr.Newf(kberr.NotFound, "run %s not found", runID)
	}
	run.StageLog = append(run.StageLog, ev)
	run.StageLog = trimStageLog(run.StageLog)
	s.runs[runID] = run
	return nil
}

// trimStageLog enforces the bound on a run's retained stage_log:
// drop the oldest info events first once over model.MaxStageLogEvents;
// warn/error events are never dropped.
func trimStageLog(log []model.StageEvent) []model.StageEvent {
	if len(log) <= model.MaxStageLogEvents {
		return log
	}
	over := len(log) - model.MaxStageLogEvents
	out := make([]model.StageEvent, 0, len(log))
	dropped := 0
	for _, ev := range log {
		if dropped < over && ev.Level == model.EventInfo {
			dropped++
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (s *memoryStore) ListStageEvents(ctx context.Context, runID string, since time.Time) ([]model.StageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, kberr.Newf(kberr.NotFound, "run %s not found", runID)
	}
	var out []model.StageEvent
	for _, ev := range run.StageLog {
		if ev.Ts.After(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *memoryStore) RequestCancel(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return kberr.Newf(kberr.NotFound, "run %s not found", runID)
	}
	s.cancel[runID] = true
	return nil
}

func (s *memoryStore) CancelRequested(ctx context.Context, runID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancel[runID], nil
}

func (s *memoryStore) SetRunPaused(ctx context.Context, runID string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return kberr.Newf(kberr.NotFound, "run %s not found", runID)
	}
	if paused {
		run.State = model.RunPaused
	} else if run.State == model.RunPaused {
		run.State = model.RunRunning
	}
	s.runs[runID] = run
	return nil
}
