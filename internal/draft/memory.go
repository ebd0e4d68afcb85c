package draft

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

// memoryStore is an in-process Store: the default backend when Redis is
// disabled, and what the rest of this package's tests run against.
type memoryStore struct {
	mu       sync.Mutex
	drafts   map[string]*model.Draft // draft_id -> draft
	locked   map[string]bool         // draft_id -> finalize in progress
	previewr Previewer
	now      func() time.Time
}

// NewMemory builds an in-process Draft Store. previewer may be nil until
// the preview-computing component (adapters+parser+chunker) is wired in;
// calling Preview before then returns a Transient error.
func NewMemory(previewer Previewer) Store {
	return &memoryStore{
		drafts:   make(map[string]*model.Draft),
		locked:   make(map[string]bool),
		previewr: previewer,
		now:      time.Now,
	}
}

func (s *memoryStore) CreateDraft(ctx context.Context, workspaceID, userID string, spec model.KBSpec, ttl time.Duration) (*model.Draft, error) {
	if workspaceID == "" {
		return nil, kberr.Newf(kberr.InvalidArgument, "create_draft requires a workspace_id")
	}
	if spec.Name == "" {
		return nil, kberr.Newf(kberr.InvalidArgument, "create_draft requires spec.name")
	}
	if spec.DefaultChunking != nil {
		if err := spec.DefaultChunking.Validate(); err != nil {
			return nil, err
		}
	}
	now := s.now()
	d := &model.Draft{
		DraftID:           uuid.NewString(),
		WorkspaceID:       workspaceID,
		CreatedBy:         userID,
		CreatedAt:         now,
		ExpiresAt:         now.Add(clampTTL(ttl)),
		Spec:              spec,
		ChunkingOverrides: make(map[string]model.ChunkingConfig),
	}

	s.mu.Lock()
	s.drafts[d.DraftID] = d
	s.mu.Unlock()
	return cloneDraft(d), nil
}

func (s *memoryStore) lookup(workspaceID, draftID string) (*model.Draft, error) {
	d, ok := s.drafts[draftID]
	if !ok {
		return nil, kberr.Newf(kberr.NotFound, "draft %s not found", draftID)
	}
	if d.WorkspaceID != workspaceID {
		return nil, kberr.Newf(kberr.NotFound, "draft %s not found", draftID)
	}
	if s.now().After(d.ExpiresAt) {
		delete(s.drafts, draftID)
		return nil, kberr.Newf(kberr.NotFound, "draft %s expired", draftID)
	}
	return d, nil
}

func (s *memoryStore) GetDraft(ctx context.Context, workspaceID, draftID string) (*model.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.lookup(workspaceID, draftID)
	if err != nil {
		return nil, err
	}
	return cloneDraft(d), nil
}

func (s *memoryStore) AddSource(ctx context.Context, workspaceID, draftID string, src model.Source) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.lookup(workspaceID, draftID)
	if err != nil {
		return "", err
	}
	if d.Finalized {
		return "", kberr.Newf(kberr.ConflictState, "draft %s already finalized", draftID)
	}
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	if err := src.Validate(); err != nil {
		return "", err
	}
	src.Enabled = true
	d.Sources = append(d.Sources, src)
	return src.ID, nil
}

func (s *memoryStore) findSource(d *model.Draft, sourceID string) (int, error) {
	for i := range d.Sources {
		if d.Sources[i].ID == sourceID {
			return i, nil
		}
	}
	return -1, kberr.Newf(kberr.NotFound, "source %s not found in draft %s", sourceID, d.DraftID)
}

func (s *memoryStore) UpdateSource(ctx context.Context, workspaceID, draftID, sourceID string, patch SourcePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.lookup(workspaceID, draftID)
	if err != nil {
		return err
	}
	idx, err := s.findSource(d, sourceID)
	if err != nil {
		return err
	}
	updated := d.Sources[idx]
	if patch.Reference != nil {
		updated.Reference = *patch.Reference
	}
	if patch.Config != nil {
		updated.Config = *patch.Config
	}
	if patch.Enabled != nil {
		updated.Enabled = *patch.Enabled
	}
	if err := updated.Validate(); err != nil {
		return err
	}
	d.Sources[idx] = updated
	return nil
}

func (s *memoryStore) RemoveSource(ctx context.Context, workspaceID, draftID, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.lookup(workspaceID, draftID)
	if err != nil {
		return err
	}
	idx, err := s.findSource(d, sourceID)
	if err != nil {
		return err
	}
	d.Sources = append(d.Sources[:idx], d.Sources[idx+1:]...)
	delete(d.ChunkingOverrides, sourceID)
	return nil
}

func (s *memoryStore) SetChunkingOverride(ctx context.Context, workspaceID, draftID, sourceID string, cfg model.ChunkingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.lookup(workspaceID, draftID)
	if err != nil {
		return err
	}
	if _, err := s.findSource(d, sourceID); err != nil {
		return err
	}
	if d.ChunkingOverrides == nil {
		d.ChunkingOverrides = make(map[string]model.ChunkingConfig)
	}
	d.ChunkingOverrides[sourceID] = cfg
	return nil
}

func (s *memoryStore) Preview(ctx context.Context, workspaceID, draftID, sourceID string, maxPages, maxChunks int) (model.PreviewBundle, error) {
	s.mu.Lock()
	d, err := s.lookup(workspaceID, draftID)
	if err != nil {
		s.mu.Unlock()
		return model.PreviewBundle{}, err
	}
	if s.previewr == nil {
		s.mu.Unlock()
		return model.PreviewBundle{}, kberr.Newf(kberr.Transient, "preview is not available yet")
	}
	sources := d.Sources
	if sourceID != "" {
		idx, err := s.findSource(d, sourceID)
		if err != nil {
			s.mu.Unlock()
			return model.PreviewBundle{}, err
		}
		sources = []model.Source{d.Sources[idx]}
	}
	overrides := d.ChunkingOverrides
	s.mu.Unlock()

	maxPages, maxChunks = clampPreviewLimits(maxPages, maxChunks)
	bundle, err := s.previewr.Preview(ctx, workspaceID, sources, overrides, maxPages, maxChunks)
	if err != nil {
		return model.PreviewBundle{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d, err = s.lookup(workspaceID, draftID)
	if err != nil {
		return model.PreviewBundle{}, err
	}
	if sourceID == "" {
		d.Preview = bundle
	} else {
		merged := make([]model.SourcePreview, 0, len(d.Preview.Sources)+1)
		for _, sp := range d.Preview.Sources {
			if sp.SourceID != sourceID {
				merged = append(merged, sp)
			}
		}
		merged = append(merged, bundle.Sources...)
		d.Preview = model.PreviewBundle{Sources: merged}
	}
	return bundle, nil
}

func (s *memoryStore) ListPages(ctx context.Context, workspaceID, draftID, sourceID string) ([]model.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.lookup(workspaceID, draftID)
	if err != nil {
		return nil, err
	}
	for _, sp := range d.Preview.Sources {
		if sp.SourceID == sourceID {
			return append([]model.Page(nil), sp.Pages...), nil
		}
	}
	return nil, kberr.Newf(kberr.NotFound, "no preview pages for source %s; call preview first", sourceID)
}

func (s *memoryStore) GetPage(ctx context.Context, workspaceID, draftID, sourceID string, index int) (model.Page, error) {
	pages, err := s.ListPages(ctx, workspaceID, draftID, sourceID)
	if err != nil {
		return model.Page{}, err
	}
	if index < 0 || index >= len(pages) {
		return model.Page{}, kberr.Newf(kberr.InvalidArgument, "page index %d out of range [0,%d)", index, len(pages))
	}
	return pages[index], nil
}

func (s *memoryStore) Finalize(ctx context.Context, workspaceID, draftID string, handler FinalizeHandler) (string, string, error) {
	s.mu.Lock()
	if s.locked[draftID] {
		s.mu.Unlock()
		return "", "", kberr.Newf(kberr.ConflictState, "draft %s finalize already in progress", draftID)
	}
	d, err := s.lookup(workspaceID, draftID)
	if err != nil {
		s.mu.Unlock()
		return "", "", err
	}
	if d.Finalized {
		s.mu.Unlock()
		return "", "", kberr.Newf(kberr.ConflictState, "draft %s already finalized", draftID)
	}
	if err := validateFinalizePreconditions(d); err != nil {
		s.mu.Unlock()
		return "", "", err
	}
	s.locked[draftID] = true
	snapshot := *cloneDraft(d)
	s.mu.Unlock()

	kbID, runID, err := handler.Handoff(ctx, snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locked, draftID)
	if err != nil {
		return "", "", err
	}
	d, ok := s.drafts[draftID]
	if ok {
		d.Finalized = true
	}
	delete(s.drafts, draftID)
	return kbID, runID, nil
}

func (s *memoryStore) DeleteDraft(ctx context.Context, workspaceID, draftID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[draftID]
	if !ok {
		return nil // delete_draft is idempotent
	}
	if d.WorkspaceID != workspaceID {
		return kberr.Newf(kberr.NotFound, "draft %s not found", draftID)
	}
	delete(s.drafts, draftID)
	return nil
}

// validateFinalizePreconditions enforces the finalize preconditions:
// at least one source, every source validates, and the embedding profile
// resolves to a concrete (provider, model, dimension).
func validateFinalizePreconditions(d *model.Draft) error {
	if len(d.Sources) == 0 {
		return kberr.Newf(kberr.InvalidArgument, "draft %s has no sources", d.DraftID)
	}
	for _, src := range d.Sources {
		if err := src.Validate(); err != nil {
			return err
		}
	}
	if d.Spec.EmbeddingProfile == nil {
		return kberr.Newf(kberr.InvalidArgument, "draft %s has no resolved embedding_profile", d.DraftID)
	}
	if err := d.Spec.EmbeddingProfile.Validate(); err != nil {
		return err
	}
	if d.Spec.DefaultChunking != nil {
		if err := d.Spec.DefaultChunking.Validate(); err != nil {
			return err
		}
	}
	for sourceID, cfg := range d.ChunkingOverrides {
		if err := cfg.Validate(); err != nil {
			return kberr.Wrap(kberr.InvalidArgument, err, "chunking override for source %s", sourceID)
		}
	}
	return nil
}

// SweepExpired deletes every draft past its ExpiresAt, returning the count
// removed. lookup() already expires drafts lazily on access; this backs the
// Reconciler's periodic sweep for drafts nobody has touched
// since they expired.
func (s *memoryStore) SweepExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, d := range s.drafts {
		if now.After(d.ExpiresAt) {
			delete(s.drafts, id)
			n++
		}
	}
	return n, nil
}

func cloneDraft(d *model.Draft) *model.Draft {
	cp := *d
	cp.Sources = append([]model.Source(nil), d.Sources...)
	cp.ChunkingOverrides = make(map[string]model.ChunkingConfig, len(d.ChunkingOverrides))
	for k, v := range d.ChunkingOverrides {
		cp.ChunkingOverrides[k] = v
	}
	cp.Preview.Sources = append([]model.SourcePreview(nil), d.Preview.Sources...)
	return &cp
}
