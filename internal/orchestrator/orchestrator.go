// Package orchestrator implements the Processing Orchestrator (C7): the
// per-KB stage machine driving ingest -> parse -> chunk -> embed -> index
// across every enabled source, reporting weighted progress, retrying
// transient failures, and writing idempotent results so a resumed or
// re-run pipeline never double-counts work.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"kbetl/internal/adapters"
	"kbetl/internal/embedder"
	"kbetl/internal/kberr"
	"kbetl/internal/klog"
	"kbetl/internal/model"
	"kbetl/internal/parser"
	"kbetl/internal/vectorstore"
)

// Catalog is the slice of the KB Catalog (C8) the orchestrator reads and
// writes through - run/document/chunk persistence, never direct SQL, so
// this package stays testable against an in-memory fake.
type Catalog interface {
	GetKnowledgeBase(ctx context.Context, kbID string) (model.KnowledgeBase, error)
	UpdateKnowledgeBaseStatus(ctx context.Context, kbID string, status model.KBStatus) error
	ListEnabledSources(ctx context.Context, kbID string) ([]model.Source, error)
	Source(ctx context.Context, id string) (model.Source, error)

	GetRun(ctx context.Context, runID string) (model.PipelineRun, error)
	UpdateRunState(ctx context.Context, runID string, state model.RunState, finishedAt *time.Time) error
	UpdateProgress(ctx context.Context, runID string, progress model.Progress, counters model.RunCounters) error
	AppendStageEvent(ctx context.Context, runID string, ev model.StageEvent) error

	UpsertDocument(ctx context.Context, doc model.Document) error
	GetDocument(ctx context.Context, workspaceID, kbID, docID string) (model.Document, error)
	UpsertChunks(ctx context.Context, kbID string, chunks []model.Chunk) error

	// CancelRequested is polled before each document and while the run
	// is paused, for cooperative cancellation.
	CancelRequested(ctx context.Context, runID string) (bool, error)
}

// Config tunes per-stage timeouts and fan-out, mirroring
// config.OrchestratorConfig without this package importing internal/config
// directly (cmd/kbetl converts one into the other).
type Config struct {
	SourceConcurrency int
	IngestTimeout     time.Duration
	ParseTimeout      time.Duration
	EmbedTimeout      time.Duration
	IndexTimeout      time.Duration
	EmbedRatePerSec   float64
	// MaxChunksPerKB caps chunks admitted per run; 0 disables the cap.
	MaxChunksPerKB int
}

// Orchestrator drives one KB's PipelineRun to completion.
type Orchestrator struct {
	catalog     Catalog
	vectors     vectorstore.Store
	cfg         Config
	metrics     klog.Metrics
	seq         int64 // stage-event sequence counter, shared by every run this Orchestrator drives
}

// New builds an Orchestrator. vectors is the Vector Index backing every
// KB this Orchestrator processes; a deployment with per-KB vector
// backends would construct one Orchestrator per backend.
func New(catalog Catalog, vectors vectorstore.Store, cfg Config, metrics klog.Metrics) *Orchestrator {
	if cfg.SourceConcurrency <= 0 {
		cfg.SourceConcurrency = 4
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Orchestrator{catalog: catalog, vectors: vectors, cfg: cfg, metrics: metrics}
}

// noopMetrics is used when the caller has no Metrics sink to wire in
// (e.g. tests), so call sites never need a nil check.
type noopMetrics struct{}

func (noopMetrics) IncCounter(name string, labels map[string]string)                   {}
func (noopMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {}

// Run executes runID's pipeline over kbID's enabled sources to
// completion, updating run state/progress/counters as it goes. It
// returns nil even when individual documents fail (those are recorded as
// DocumentFailed and counted in RunCounters.DocsFailed), when a source's
// fetch fails (emitted as a stage event), when the run is cancelled
// (marked cancelled), and when no document is indexed (marked failed). It
// returns an error only when the KB or its sources cannot be loaded, a
// run-state update fails, the embedder cannot be built, or ctx ends while
// the run is paused.
func (o *Orchestrator) Run(ctx context.Context, runID, kbID string) error {
	log := klog.FromContext(ctx)
	kb, err := o.catalog.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return kberr.Wrap(kberr.NotFound, err, "orchestrator: load kb %s", kbID)
	}
	sources, err := o.catalog.ListEnabledSources(ctx, kbID)
	if err != nil {
		return kberr.Wrap(kberr.Internal, err, "orchestrator: list sources for kb %s", kbID)
	}

	if err := o.catalog.UpdateRunState(ctx, runID, model.RunRunning, nil); err != nil {
		return kberr.Wrap(kberr.Internal, err, "orchestrator: mark run %s running", runID)
	}

	emb, err := embedder.New(kb.EmbeddingProfile, o.cfg.EmbedRatePerSec, o.cfg.SourceConcurrency)
	if err != nil {
		o.fail(ctx, runID, kbID, err)
		return err
	}

	tracker := newProgressTracker(len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.SourceConcurrency)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			return o.runSource(gctx, runID, kb, src, emb, tracker)
		})
	}

	runErr := g.Wait()
	finishedAt := time.Now()
	if runErr == errRunCancelled {
		if err := o.catalog.UpdateRunState(ctx, runID, model.RunCancelled, &finishedAt); err != nil {
			return kberr.Wrap(kberr.Internal, err, "orchestrator: mark run %s cancelled", runID)
		}
		return nil
	}
	if runErr != nil {
		log.Error().Err(runErr).Str("run_id", runID).Msg("pipeline run failed")
		o.fail(ctx, runID, kbID, runErr)
		return runErr
	}
	_, counters := tracker.snapshot()
	if counters.DocsDone-counters.DocsFailed <= 0 {
		// A run is completed only if at least one document reached
		// indexed; otherwise it is failed, even with zero hard errors,
		// and the KB never flips back to ready.
		o.fail(ctx, runID, kbID, kberr.Newf(kberr.DataError, "run %s indexed zero documents", runID))
		return nil
	}
	if err := o.catalog.UpdateRunState(ctx, runID, model.RunCompleted, &finishedAt); err != nil {
		return kberr.Wrap(kberr.Internal, err, "orchestrator: mark run %s completed", runID)
	}
	if err := o.catalog.UpdateKnowledgeBaseStatus(ctx, kb.ID, model.KBStatusReady); err != nil {
		log.Warn().Err(err).Str("kb_id", kb.ID).Msg("failed to mark kb ready")
	}
	return nil
}

// errRunCancelled is returned by runSource when cancellation was observed
// at a document boundary, distinguishing a clean stop from a hard failure
// so Run marks the PipelineRun cancelled rather than failed.
var errRunCancelled = errors.New("orchestrator: run cancelled")

func (o *Orchestrator) fail(ctx context.Context, runID, kbID string, cause error) {
	finishedAt := time.Now()
	_ = o.catalog.UpdateRunState(ctx, runID, model.RunFailed, &finishedAt)
	_ = o.catalog.UpdateKnowledgeBaseStatus(ctx, kbID, model.KBStatusFailed)
	o.emit(ctx, runID, model.StageEvent{Stage: model.StageIngest, Level: model.EventError, Message: cause.Error()})
}

// runSource drives one source through every stage, recovering per-
// document failures so one bad document never aborts its siblings. It
// checks the run's cancellation token at each document boundary and
// returns errRunCancelled as soon as one is observed, abandoning any
// remaining fetched documents cleanly.
func (o *Orchestrator) runSource(ctx context.Context, runID string, kb model.KnowledgeBase, src model.Source, emb *embedder.Embedder, tracker *progressTracker) error {
	ingestCtx, cancel := context.WithTimeout(ctx, nonZero(o.cfg.IngestTimeout, 2*time.Minute))
	defer cancel()

	sink := newChannelSink(64)
	fetchErrCh := make(chan error, 1)
	go func() {
		_, err := o.fetchWithRetry(ingestCtx, src, sink)
		sink.Close()
		fetchErrCh <- err
	}()
	// After an early return, keep draining the sink until the fetch
	// goroutine closes it, so its Accept never blocks on a full channel.
	defer func() {
		go func() {
			for range sink.Docs() {
			}
		}()
	}()

	for raw := range sink.Docs() {
		if cancelled, _ := o.catalog.CancelRequested(ctx, runID); cancelled {
			return errRunCancelled
		}
		if err := o.waitWhilePaused(ctx, runID); err != nil {
			return err
		}
		start := time.Now()
		o.advance(ctx, runID, model.StageIngest, tracker, 0)
		if err := o.processDocument(ctx, runID, kb, src, raw, emb, tracker); err != nil {
			o.emit(ctx, runID, model.StageEvent{Stage: model.StageIndex, Level: model.EventError, SourceID: src.ID, Message: err.Error()})
			tracker.documentDone(true)
			o.metrics.IncCounter("kbetl_documents_failed_total", map[string]string{"kb_id": kb.ID})
		} else {
			tracker.documentDone(false)
			o.metrics.IncCounter("kbetl_documents_indexed_total", map[string]string{"kb_id": kb.ID})
		}
		o.metrics.ObserveHistogram("kbetl_document_duration_seconds", time.Since(start).Seconds(), map[string]string{"kb_id": kb.ID})
		o.reportProgress(ctx, runID, tracker)
	}
	if err := <-fetchErrCh; err != nil {
		o.emit(ctx, runID, model.StageEvent{Stage: model.StageIngest, Level: model.EventError, SourceID: src.ID, Message: err.Error()})
	}
	return nil
}

// waitWhilePaused blocks while the run is paused, polling at a coarse
// interval. Cancellation is still honored so a paused run can be
// cancelled without resuming first.
func (o *Orchestrator) waitWhilePaused(ctx context.Context, runID string) error {
	for {
		run, err := o.catalog.GetRun(ctx, runID)
		if err != nil || run.State != model.RunPaused {
			return nil
		}
		if cancelled, _ := o.catalog.CancelRequested(ctx, runID); cancelled {
			return errRunCancelled
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (o *Orchestrator) fetchWithRetry(ctx context.Context, src model.Source, sink model.Sink) (model.FetchResult, error) {
	return backoff.Retry(ctx, func() (model.FetchResult, error) {
		res, err := adapters.Fetch(ctx, src, sink, "")
		if err != nil && kberr.KindOf(err) != kberr.Transient {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewExponentialBackOff()))
}

// processDocument runs parse -> chunk -> embed -> index for one fetched
// RawDocument, writing the Document's status at each transition so a
// crash mid-pipeline leaves an inspectable, resumable state rather than
// silence.
func (o *Orchestrator) processDocument(ctx context.Context, runID string, kb model.KnowledgeBase, src model.Source, raw model.RawDocument, emb *embedder.Embedder, tracker *progressTracker) error {
	docID := raw.ExternalID
	if raw.Checksum == "" && raw.Bytes != nil {
		// Adapters that don't carry a provider checksum (web, text) get a
		// content hash here so the unchanged-content skip below still works.
		sum := sha256.Sum256(raw.Bytes)
		raw.Checksum = hex.EncodeToString(sum[:])
	}
	if existing, err := o.catalog.GetDocument(ctx, kb.WorkspaceID, kb.ID, docID); err == nil {
		if existing.Checksum == raw.Checksum && existing.Status == model.DocumentIndexed {
			o.emit(ctx, runID, model.StageEvent{Stage: model.StageIngest, Level: model.EventInfo, SourceID: src.ID, DocumentID: docID, Message: "content unchanged since last index, skipping reprocess"})
			o.advance(ctx, runID, model.StageParse, tracker, 0)
			o.advance(ctx, runID, model.StageChunk, tracker, 0)
			o.advance(ctx, runID, model.StageEmbed, tracker, existing.ChunkCount)
			o.advance(ctx, runID, model.StageIndex, tracker, existing.ChunkCount)
			return nil
		}
	}
	doc := model.Document{
		ID: docID, KBID: kb.ID, SourceID: src.ID, URI: raw.URI, Checksum: raw.Checksum,
		Status: model.DocumentParsing, UpdatedAt: time.Now(),
	}
	_ = o.catalog.UpsertDocument(ctx, doc)

	parseCtx, cancel := context.WithTimeout(ctx, nonZero(o.cfg.ParseTimeout, 1*time.Minute))
	structured, err := parser.Parse(parseCtx, raw)
	cancel()
	if err != nil {
		doc.Status, doc.FailureReason = model.DocumentFailed, err.Error()
		_ = o.catalog.UpsertDocument(ctx, doc)
		return err
	}
	doc.WordCount, doc.CharCount = structured.Stats.WordCount, structured.Stats.CharCount
	o.advance(ctx, runID, model.StageParse, tracker, 0)

	chunkCfg := kb.DefaultChunking
	if src.Config.ChunkingOverride != nil {
		chunkCfg = *src.Config.ChunkingOverride
	}
	doc.Status = model.DocumentChunking
	_ = o.catalog.UpsertDocument(ctx, doc)
	chunks, err := chunkDocument(structured, chunkCfg, docID, kb.ID, src.Annotations)
	if err != nil {
		doc.Status, doc.FailureReason = model.DocumentFailed, err.Error()
		_ = o.catalog.UpsertDocument(ctx, doc)
		return err
	}
	doc.ChunkCount = len(chunks)
	if o.cfg.MaxChunksPerKB > 0 {
		if _, counters := tracker.snapshot(); counters.ChunksCreated+len(chunks) > o.cfg.MaxChunksPerKB {
			err := kberr.Newf(kberr.ResourceExhausted, "kb %s would exceed the %d-chunk quota", kb.ID, o.cfg.MaxChunksPerKB)
			doc.Status, doc.FailureReason = model.DocumentFailed, err.Error()
			_ = o.catalog.UpsertDocument(ctx, doc)
			return err
		}
	}
	o.advance(ctx, runID, model.StageChunk, tracker, 0)

	embedCtx, cancel := context.WithTimeout(ctx, nonZero(o.cfg.EmbedTimeout, 30*time.Second))
	recs, embedFailures, err := emb.EmbedChunks(embedCtx, kb.ID, kb.WorkspaceID, kb.EmbeddingProfile, chunks)
	cancel()
	if err != nil {
		doc.Status, doc.FailureReason = model.DocumentFailed, err.Error()
		_ = o.catalog.UpsertDocument(ctx, doc)
		return err
	}
	if len(embedFailures) > 0 {
		// Poison chunks are skipped, not fatal: drop them from the
		// persisted set so chunk_count keeps matching indexed vectors,
		// and record each skip in the stage log.
		skipped := make(map[string]bool, len(embedFailures))
		for _, f := range embedFailures {
			skipped[f.ChunkID] = true
			o.emit(ctx, runID, model.StageEvent{
				Stage: model.StageEmbed, Level: model.EventError,
				SourceID: src.ID, DocumentID: docID, ChunkID: f.ChunkID,
				Message: "chunk skipped after embed retries: " + f.Err.Error(),
			})
		}
		kept := chunks[:0]
		for _, c := range chunks {
			if !skipped[c.ID] {
				kept = append(kept, c)
			}
		}
		chunks = kept
		doc.ChunkCount = len(chunks)
	}
	if len(chunks) == 0 {
		doc.Status, doc.FailureReason = model.DocumentFailed, "every chunk failed to embed"
		_ = o.catalog.UpsertDocument(ctx, doc)
		return kberr.Newf(kberr.DataError, "orchestrator: every chunk of %s failed to embed", docID)
	}
	doc.Status = model.DocumentEmbedding
	_ = o.catalog.UpsertDocument(ctx, doc)
	o.advance(ctx, runID, model.StageEmbed, tracker, len(chunks))

	indexCtx, cancel := context.WithTimeout(ctx, nonZero(o.cfg.IndexTimeout, 15*time.Second))
	vrecs := make([]vectorstore.Record, len(recs))
	for i, r := range recs {
		vrecs[i] = vectorstore.Record{
			VectorID: r.VectorID,
			Vector:   r.Vector,
			Payload: vectorstore.Payload{
				KBID: r.KBID, WorkspaceID: r.WorkspaceID, DocumentID: r.DocumentID,
				ChunkID: r.ChunkID, Ordinal: r.Ordinal, Enabled: r.Enabled,
			},
		}
	}
	err = o.upsertWithRetry(indexCtx, kb.ID, kb.WorkspaceID, vrecs)
	cancel()
	if err != nil {
		doc.Status, doc.FailureReason = model.DocumentFailed, err.Error()
		_ = o.catalog.UpsertDocument(ctx, doc)
		return err
	}
	if err := o.catalog.UpsertChunks(ctx, kb.ID, chunks); err != nil {
		return kberr.Wrap(kberr.Internal, err, "orchestrator: persist chunks for %s", docID)
	}
	doc.Status, doc.FailureReason = model.DocumentIndexed, ""
	_ = o.catalog.UpsertDocument(ctx, doc)
	o.advance(ctx, runID, model.StageIndex, tracker, len(vrecs))
	return nil
}

// upsertWithRetry retries transient vector-store failures; the upsert is
// idempotent (keyed by chunk id), so a retry after a half-applied batch
// just overwrites the same records.
func (o *Orchestrator) upsertWithRetry(ctx context.Context, kbID, workspaceID string, recs []vectorstore.Record) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		uerr := o.vectors.Upsert(ctx, kbID, workspaceID, recs)
		if uerr != nil && kberr.KindOf(uerr) != kberr.Transient {
			return struct{}{}, backoff.Permanent(uerr)
		}
		return struct{}{}, uerr
	}, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewExponentialBackOff()))
	return err
}

func (o *Orchestrator) advance(ctx context.Context, runID string, stage model.Stage, tracker *progressTracker, units int) {
	tracker.stageUnit(stage, units)
}

func (o *Orchestrator) reportProgress(ctx context.Context, runID string, tracker *progressTracker) {
	progress, counters := tracker.snapshot()
	_ = o.catalog.UpdateProgress(ctx, runID, progress, counters)
}

func (o *Orchestrator) emit(ctx context.Context, runID string, ev model.StageEvent) {
	ev.Seq, ev.Ts = atomic.AddInt64(&o.seq, 1), time.Now()
	_ = o.catalog.AppendStageEvent(ctx, runID, ev)
}

func nonZero(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
