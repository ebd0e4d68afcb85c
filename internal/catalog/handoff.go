package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"kbetl/internal/config"
	"kbetl/internal/kberr"
	"kbetl/internal/klog"
	"kbetl/internal/model"
)

// Runner is the slice of internal/orchestrator.Orchestrator the Catalog
// drives a finalized draft's pipeline through. Declared here (rather than
// importing the concrete type) so this package and internal/orchestrator
// never need to import each other - *orchestrator.Orchestrator satisfies
// this structurally.
type Runner interface {
	Run(ctx context.Context, runID, kbID string) error
}

// Handoff implements internal/draft.FinalizeHandler: it turns a finalized
// Draft into a durable KnowledgeBase plus sources, enforces the
// per-workspace concurrent-run quota, creates a queued
// PipelineRun, and starts the Orchestrator against it in the background.
// finalize (and therefore Handoff) returns as soon as the run is queued;
// callers poll GetRun/ListStageEvents for progress rather than blocking
// the HTTP request on the whole pipeline.
type Handoff struct {
	Store  Store
	Runner Runner
	Quota  config.QuotaConfig
}

// NewHandoff builds a Handoff bound to store/runner/quota.
func NewHandoff(store Store, runner Runner, quota config.QuotaConfig) *Handoff {
	return &Handoff{Store: store, Runner: runner, Quota: quota}
}

func (h *Handoff) Handoff(ctx context.Context, d model.Draft) (string, string, error) {
	if h.Quota.MaxConcurrentRunsPerWorkspace > 0 {
		active, err := h.Store.CountActiveRuns(ctx, d.WorkspaceID)
		if err != nil {
			return "", "", err
		}
		if active >= h.Quota.MaxConcurrentRunsPerWorkspace {
			return "", "", kberr.Newf(kberr.ResourceExhausted,
				"workspace %s already has %d active pipeline run(s), limit is %d",
				d.WorkspaceID, active, h.Quota.MaxConcurrentRunsPerWorkspace)
		}
	}

	profile := model.EmbeddingProfile{}
	if d.Spec.EmbeddingProfile != nil {
		profile = *d.Spec.EmbeddingProfile
	}
	chunking := model.DefaultChunkingConfig()
	if d.Spec.DefaultChunking != nil {
		chunking = *d.Spec.DefaultChunking
	}

	now := time.Now()
	kb := model.KnowledgeBase{
		ID:               uuid.NewString(),
		WorkspaceID:      d.WorkspaceID,
		Name:             d.Spec.Name,
		Description:      d.Spec.Description,
		Status:           model.KBStatusProcessing,
		EmbeddingProfile: profile,
		DefaultChunking:  chunking,
		CreatedBy:        d.CreatedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.Store.CreateKnowledgeBase(ctx, kb); err != nil {
		return "", "", err
	}

	sources := make([]model.Source, len(d.Sources))
	for i, src := range d.Sources {
		if override, ok := d.ChunkingOverrides[src.ID]; ok {
			cfg := override
			src.Config.ChunkingOverride = &cfg
		}
		src.KBID = kb.ID
		src.Enabled = true
		sources[i] = src
	}
	if err := h.Store.CreateSources(ctx, kb.ID, sources); err != nil {
		return "", "", err
	}

	run := model.PipelineRun{
		RunID:  uuid.NewString(),
		KBID:   kb.ID,
		State:  model.RunQueued,
		Counters: model.RunCounters{DocsTotal: len(sources)},
	}
	if err := h.Store.CreateRun(ctx, run); err != nil {
		return "", "", err
	}

	// Detached from ctx: finalize's HTTP request ends the moment this
	// function returns, but the pipeline run must outlive it.
	go func() {
		runCtx := context.Background()
		log := klog.ForRun(klog.FromContext(runCtx), d.WorkspaceID, kb.ID, run.RunID)
		if err := h.Runner.Run(runCtx, run.RunID, kb.ID); err != nil {
			log.Error().Err(err).Msg("pipeline run exited with error")
		}
	}()

	return kb.ID, run.RunID, nil
}
