// Package reconciler implements the KB Catalog's background sweep:
// repairing catalog/vector-index divergence left behind by a crash
// mid-delete or mid-index, and expiring drafts nobody cleaned up. It
// runs on a fixed interval, not in response to any single request.
package reconciler

import (
	"context"
	"time"

	"kbetl/internal/catalog"
	"kbetl/internal/klog"
	"kbetl/internal/model"
	"kbetl/internal/vectorstore"
)

// DraftSweeper is the slice of internal/draft.Store the Reconciler drives:
// expiring drafts past their TTL. Backends with native expiry (Redis) make
// this a no-op; the in-process store needs it polled.
type DraftSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Reconciler periodically repairs catalog/index divergence and expires
// stale drafts.
type Reconciler struct {
	catalog  catalog.Store
	vectors  vectorstore.Store
	drafts   DraftSweeper
	interval time.Duration
	metrics  klog.Metrics
}

// New builds a Reconciler. drafts may be nil if the deployment has no
// Draft Store backend needing an active sweep (e.g. Redis-only).
func New(store catalog.Store, vectors vectorstore.Store, drafts DraftSweeper, interval time.Duration, metrics klog.Metrics) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Reconciler{catalog: store, vectors: vectors, drafts: drafts, interval: interval, metrics: metrics}
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(name string, labels map[string]string)                     {}
func (noopMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {}

// Run loops until ctx is cancelled, sweeping once per interval. It does not
// sweep immediately on start - the first pass waits one interval so a
// freshly-started process is never raced.
func (r *Reconciler) Run(ctx context.Context) {
	log := klog.FromContext(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.SweepOnce(ctx); err != nil {
				log.Error().Err(err).Msg("reconcile sweep failed")
			}
		}
	}
}

// SweepOnce runs one full reconcile pass over every KB plus the draft
// expiry sweep. Exported so cmd/kbetl and tests can trigger it on demand.
func (r *Reconciler) SweepOnce(ctx context.Context) error {
	log := klog.FromContext(ctx)

	if r.drafts != nil {
		expired, err := r.drafts.SweepExpired(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("draft expiry sweep failed")
		} else if expired > 0 {
			log.Info().Int("count", expired).Msg("expired drafts swept")
			r.metrics.IncCounter("kbetl_reconcile_drafts_expired_total", nil)
		}
	}

	refs, err := r.catalog.ListAllKnowledgeBases(ctx)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if err := r.sweepKB(ctx, ref); err != nil {
			log.Warn().Err(err).Str("kb_id", ref.ID).Msg("reconcile sweep failed for kb")
		}
	}
	return nil
}

// sweepKB reconciles one KB: documents marked indexed whose vector count no
// longer matches their recorded chunk_count are marked failed and put back
// to pending so the orchestrator reprocesses them, and a coarse orphan
// check flags vector counts that exceed what the catalog accounts for.
// Pinpointing individual orphaned vector ids would need a list-all
// capability the Vector Index contract does not expose (the
// contract is upsert/delete/search/count only); this sweep detects and
// logs the discrepancy and deletes no vectors itself.
func (r *Reconciler) sweepKB(ctx context.Context, ref catalog.KBRef) error {
	log := klog.FromContext(ctx)
	filter, err := vectorstore.NewFilter(ref.WorkspaceID)
	if err != nil {
		return err
	}

	docs, err := r.catalog.ListDocuments(ctx, ref.WorkspaceID, ref.ID, 1, 500)
	if err != nil {
		return err
	}
	var catalogChunkTotal int
	for _, doc := range docs.Items {
		catalogChunkTotal += doc.ChunkCount
		if doc.Status != model.DocumentIndexed {
			continue
		}
		n, err := r.vectors.Count(ctx, ref.ID, filter.WithDocument(doc.ID))
		if err != nil {
			log.Warn().Err(err).Str("document_id", doc.ID).Msg("reconcile: count vectors for document")
			continue
		}
		if n == doc.ChunkCount {
			continue
		}
		log.Warn().Str("document_id", doc.ID).Int("vector_count", n).Int("chunk_count", doc.ChunkCount).
			Msg("reconcile: indexed document chunk_count diverges from vector index, scheduling reprocess")
		doc.Status = model.DocumentFailed
		doc.FailureReason = "reconcile: vector count diverges from chunk_count"
		_ = r.catalog.UpsertDocument(ctx, doc)
		_ = r.catalog.UpdateDocumentConfig(ctx, ref.WorkspaceID, ref.ID, doc.ID, catalog.DocumentPatch{})
		r.metrics.IncCounter("kbetl_reconcile_documents_repaired_total", map[string]string{"kb_id": ref.ID})
	}

	total, err := r.vectors.Count(ctx, ref.ID, filter)
	if err != nil {
		return err
	}
	if total > catalogChunkTotal {
		log.Warn().Str("kb_id", ref.ID).Int("vector_total", total).Int("catalog_total", catalogChunkTotal).
			Msg("reconcile: vector index holds more records than the catalog accounts for, likely orphaned by a crashed delete")
		r.metrics.IncCounter("kbetl_reconcile_orphan_vectors_detected_total", map[string]string{"kb_id": ref.ID})
	}
	return nil
}
