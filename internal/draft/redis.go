package draft

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

// redisStore is the Draft Store backend for multi-process deployments:
// it stores a whole Draft as one JSON blob under a Redis TTL, one key
// per concern, and uses SetNX for
// the finalize lock rather than a commit-session lock.
type redisStore struct {
	client   redis.UniversalClient
	previewr Previewer
}

// NewRedis builds a Redis-backed Draft Store. previewer may be nil until
// the preview-computing component is wired in.
func NewRedis(cfg RedisDialConfig, previewer Previewer) (Store, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSInsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, kberr.Wrap(kberr.Transient, err, "connect to redis at %s", cfg.Addr)
	}
	return &redisStore{client: client, previewr: previewer}, nil
}

// RedisDialConfig is the subset of config.RedisConfig the draft backend
// needs to dial - kept separate from config.RedisConfig the same way
// vectorstore.Config stays separate from internal/config, to avoid an
// import cycle between internal/config and internal/draft.
type RedisDialConfig struct {
	Addr                  string
	Password              string
	DB                    int
	TLSInsecureSkipVerify bool
}

func (s *redisStore) draftKey(draftID string) string {
	return "kbdraft:" + draftID + ":state"
}

func (s *redisStore) lockKey(draftID string) string {
	return "kbdraft:" + draftID + ":finalize_lock"
}

func (s *redisStore) load(ctx context.Context, workspaceID, draftID string) (*model.Draft, error) {
	data, err := s.client.Get(ctx, s.draftKey(draftID)).Bytes()
	if err == redis.Nil {
		return nil, kberr.Newf(kberr.NotFound, "draft %s not found", draftID)
	}
	if err != nil {
		return nil, kberr.Wrap(kberr.Transient, err, "load draft %s", draftID)
	}
	var d model.Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, kberr.Wrap(kberr.DataError, err, "decode draft %s", draftID)
	}
	if d.WorkspaceID != workspaceID {
		return nil, kberr.Newf(kberr.NotFound, "draft %s not found", draftID)
	}
	return &d, nil
}

func (s *redisStore) save(ctx context.Context, d *model.Draft) error {
	data, err := json.Marshal(d)
	if err != nil {
		return kberr.Wrap(kberr.Internal, err, "encode draft %s", d.DraftID)
	}
	ttl := time.Until(d.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.client.Set(ctx, s.draftKey(d.DraftID), data, ttl).Err(); err != nil {
		return kberr.Wrap(kberr.Transient, err, "save draft %s", d.DraftID)
	}
	return nil
}

func (s *redisStore) CreateDraft(ctx context.Context, workspaceID, userID string, spec model.KBSpec, ttl time.Duration) (*model.Draft, error) {
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
	now := time.Now()
	d := &model.Draft{
		DraftID:           uuid.NewString(),
		WorkspaceID:       workspaceID,
		CreatedBy:         userID,
		CreatedAt:         now,
		ExpiresAt:         now.Add(clampTTL(ttl)),
		Spec:              spec,
		ChunkingOverrides: make(map[string]model.ChunkingConfig),
	}
	if err := s.save(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *redisStore) GetDraft(ctx context.Context, workspaceID, draftID string) (*model.Draft, error) {
	return s.load(ctx, workspaceID, draftID)
}

func (s *redisStore) AddSource(ctx context.Context, workspaceID, draftID string, src model.Source) (string, error) {
	d, err := s.load(ctx, workspaceID, draftID)
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
	if err := s.save(ctx, d); err != nil {
		return "", err
	}
	return src.ID, nil
}

func findSourceIndex(d *model.Draft, sourceID string) (int, error) {
	for i := range d.Sources {
		if d.Sources[i].ID == sourceID {
			return i, nil
		}
	}
	return -1, kberr.Newf(kberr.NotFound, "source %s not found in draft %s", sourceID, d.DraftID)
}

func (s *redisStore) UpdateSource(ctx context.Context, workspaceID, draftID, sourceID string, patch SourcePatch) error {
	d, err := s.load(ctx, workspaceID, draftID)
	if err != nil {
		return err
	}
	idx, err := findSourceIndex(d, sourceID)
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
	return s.save(ctx, d)
}

func (s *redisStore) RemoveSource(ctx context.Context, workspaceID, draftID, sourceID string) error {
	d, err := s.load(ctx, workspaceID, draftID)
	if err != nil {
		return err
	}
	idx, err := findSourceIndex(d, sourceID)
	if err != nil {
		return err
	}
	d.Sources = append(d.Sources[:idx], d.Sources[idx+1:]...)
	delete(d.ChunkingOverrides, sourceID)
	return s.save(ctx, d)
}

func (s *redisStore) SetChunkingOverride(ctx context.Context, workspaceID, draftID, sourceID string, cfg model.ChunkingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d, err := s.load(ctx, workspaceID, draftID)
	if err != nil {
		return err
	}
	if _, err := findSourceIndex(d, sourceID); err != nil {
		return err
	}
	if d.ChunkingOverrides == nil {
		d.ChunkingOverrides = make(map[string]model.ChunkingConfig)
	}
	d.ChunkingOverrides[sourceID] = cfg
	return s.save(ctx, d)
}

func (s *redisStore) Preview(ctx context.Context, workspaceID, draftID, sourceID string, maxPages, maxChunks int) (model.PreviewBundle, error) {
	if s.previewr == nil {
		return model.PreviewBundle{}, kberr.Newf(kberr.Transient, "preview is not available yet")
	}
	d, err := s.load(ctx, workspaceID, draftID)
	if err != nil {
		return model.PreviewBundle{}, err
	}
	sources := d.Sources
	if sourceID != "" {
		idx, err := findSourceIndex(d, sourceID)
		if err != nil {
			return model.PreviewBundle{}, err
		}
		sources = []model.Source{d.Sources[idx]}
	}
	maxPages, maxChunks = clampPreviewLimits(maxPages, maxChunks)
	bundle, err := s.previewr.Preview(ctx, workspaceID, sources, d.ChunkingOverrides, maxPages, maxChunks)
	if err != nil {
		return model.PreviewBundle{}, err
	}

	d, err = s.load(ctx, workspaceID, draftID)
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
	if err := s.save(ctx, d); err != nil {
		return model.PreviewBundle{}, err
	}
	return bundle, nil
}

func (s *redisStore) ListPages(ctx context.Context, workspaceID, draftID, sourceID string) ([]model.Page, error) {
	d, err := s.load(ctx, workspaceID, draftID)
	if err != nil {
		return nil, err
	}
	for _, sp := range d.Preview.Sources {
		if sp.SourceID == sourceID {
			return sp.Pages, nil
		}
	}
	return nil, kberr.Newf(kberr.NotFound, "no preview pages for source %s; call preview first", sourceID)
}

func (s *redisStore) GetPage(ctx context.Context, workspaceID, draftID, sourceID string, index int) (model.Page, error) {
	pages, err := s.ListPages(ctx, workspaceID, draftID, sourceID)
	if err != nil {
		return model.Page{}, err
	}
	if index < 0 || index >= len(pages) {
		return model.Page{}, kberr.Newf(kberr.InvalidArgument, "page index %d out of range [0,%d)", index, len(pages))
	}
	return pages[index], nil
}

func (s *redisStore) Finalize(ctx context.Context, workspaceID, draftID string, handler FinalizeHandler) (string, string, error) {
	ok, err := s.client.SetNX(ctx, s.lockKey(draftID), "1", 2*time.Minute).Result()
	if err != nil {
		return "", "", kberr.Wrap(kberr.Transient, err, "acquire finalize lock for draft %s", draftID)
	}
	if !ok {
		return "", "", kberr.Newf(kberr.ConflictState, "draft %s finalize already in progress", draftID)
	}
	defer s.client.Del(ctx, s.lockKey(draftID))

	d, err := s.load(ctx, workspaceID, draftID)
	if err != nil {
		return "", "", err
	}
	if d.Finalized {
		return "", "", kberr.Newf(kberr.ConflictState, "draft %s already finalized", draftID)
	}
	if err := validateFinalizePreconditions(d); err != nil {
		return "", "", err
	}

	kbID, runID, err := handler.Handoff(ctx, *d)
	if err != nil {
		return "", "", err
	}
	s.client.Del(ctx, s.draftKey(draftID))
	return kbID, runID, nil
}

// SweepExpired is a no-op: every key this backend writes carries a native
// Redis TTL (see save), so Redis itself expires drafts without a sweep.
func (s *redisStore) SweepExpired(ctx context.Context) (int, error) {
	return 0, nil
}

func (s *redisStore) DeleteDraft(ctx context.Context, workspaceID, draftID string) error {
	d, err := s.load(ctx, workspaceID, draftID)
	if err != nil {
		if kberr.Is(err, kberr.NotFound) {
			return nil
		}
		return err
	}
	if d.WorkspaceID != workspaceID {
		return kberr.Newf(kberr.NotFound, "draft %s not found", draftID)
	}
	return s.client.Del(ctx, s.draftKey(draftID)).Err()
}
