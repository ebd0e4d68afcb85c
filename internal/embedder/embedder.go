// Package embedder implements the Embedder (C2): batched, rate-limited
// text-to-vector conversion bound to a KnowledgeBase's frozen
// EmbeddingProfile. Providers register behind one pluggable contract,
// the same capability-interface shape the rest of this pipeline uses,
// so a deployment swaps embedding backends without touching callers.
package embedder

import (
	"context"
	"math"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

// BatchSize is the batch width for provider calls.
const BatchSize = 32

// Provider turns a batch of chunk texts into vectors matching its own
// declared profile. Implementations are registered per provider id the
// same way chunker strategies and parser mime handlers are.
type Provider interface {
	Profile() model.EmbeddingProfile
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

var registry = map[string]Provider{}

// Register installs a Provider under providerID, called from each
// provider implementation's own init().
func Register(providerID string, p Provider) { registry[providerID] = p }

// Get returns the Provider registered under providerID.
func Get(providerID string) (Provider, bool) {
	p, ok := registry[providerID]
	return p, ok
}

// Embedder batches, rate-limits, and retries calls into one Provider,
// checking it against the KB's frozen EmbeddingProfile: New rejects a
// provider whose model or dimension differs, and each batch is rejected
// when any output vector has the wrong dimension, both as
// kberr.ProfileMismatch.
type Embedder struct {
	provider    Provider
	limiter     *rate.Limiter
	concurrency int
}

// New builds an Embedder over the Provider registered for profile's
// ProviderID. ratePerSecond <= 0 disables rate limiting.
func New(profile model.EmbeddingProfile, ratePerSecond float64, concurrency int) (*Embedder, error) {
	p, ok := Get(profile.ProviderID)
	if !ok {
		return nil, kberr.Newf(kberr.InvalidArgument, "embedder: no provider registered for %q", profile.ProviderID)
	}
	pp := p.Profile()
	if pp.ModelID != profile.ModelID || pp.Dimension != profile.Dimension {
		return nil, kberr.Newf(kberr.ProfileMismatch, "embedder: provider %s reports (%s, %d), KB expects (%s, %d)",
			profile.ProviderID, pp.ModelID, pp.Dimension, profile.ModelID, profile.Dimension)
	}
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), BatchSize)
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Embedder{provider: p, limiter: limiter, concurrency: concurrency}, nil
}

// Failure records one chunk skipped after the batch-retry ladder gave up
// on it; the caller marks it failed and continues with the rest.
type Failure struct {
	ChunkID string
	Err     error
}

// EmbedChunks embeds chunks in BatchSize-wide groups, fanned out across
// e.concurrency workers via errgroup (the same bounded-concurrency
// shape the orchestrator uses for stage fan-out), L2-normalizing vectors
// when the profile asks for it. Each batch runs the failure ladder: retry
// the batch, split it in half when it fails twice, and skip (returning a
// Failure for) any single chunk that consistently fails. Records come
// back in input order; the error return is reserved for failures that
// must abort the caller (profile mismatch, context cancellation).
func (e *Embedder) EmbedChunks(ctx context.Context, kbID, workspaceID string, profile model.EmbeddingProfile, chunks []model.Chunk) ([]Record, []Failure, error) {
	batches := batchChunks(chunks, BatchSize)
	type batchResult struct {
		recs     []Record
		failures []Failure
	}
	results := make([]batchResult, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			recs, failures, err := e.embedResilient(gctx, kbID, workspaceID, profile, batch)
			if err != nil {
				return err
			}
			results[i] = batchResult{recs: recs, failures: failures}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var out []Record
	var failures []Failure
	for _, r := range results {
		out = append(out, r.recs...)
		failures = append(failures, r.failures...)
	}
	return out, failures, nil
}

// embedResilient is the per-batch failure ladder: two attempts for the
// whole batch, then a recursive split in half, bottoming out at a single
// chunk which is skipped rather than retried forever. ProfileMismatch is
// never absorbed - mixing dimensions must abort the whole run.
func (e *Embedder) embedResilient(ctx context.Context, kbID, workspaceID string, profile model.EmbeddingProfile, chunks []model.Chunk) ([]Record, []Failure, error) {
	recs, err := e.embedWithRetry(ctx, kbID, workspaceID, profile, chunks)
	if err == nil {
		return recs, nil, nil
	}
	if kberr.KindOf(err) == kberr.ProfileMismatch || ctx.Err() != nil {
		return nil, nil, err
	}
	if len(chunks) == 1 {
		return nil, []Failure{{ChunkID: chunks[0].ID, Err: err}}, nil
	}
	mid := len(chunks) / 2
	left, leftFailed, err := e.embedResilient(ctx, kbID, workspaceID, profile, chunks[:mid])
	if err != nil {
		return nil, nil, err
	}
	right, rightFailed, err := e.embedResilient(ctx, kbID, workspaceID, profile, chunks[mid:])
	if err != nil {
		return nil, nil, err
	}
	return append(left, right...), append(leftFailed, rightFailed...), nil
}

// embedWithRetry gives one batch two attempts, backing off between them;
// non-transient errors are permanent and skip the second attempt.
func (e *Embedder) embedWithRetry(ctx context.Context, kbID, workspaceID string, profile model.EmbeddingProfile, chunks []model.Chunk) ([]Record, error) {
	return backoff.Retry(ctx, func() ([]Record, error) {
		recs, err := e.embedBatch(ctx, kbID, workspaceID, profile, chunks)
		if err != nil && kberr.KindOf(err) != kberr.Transient {
			return nil, backoff.Permanent(err)
		}
		return recs, err
	}, backoff.WithMaxTries(2), backoff.WithBackOff(backoff.NewExponentialBackOff()))
}

func (e *Embedder) embedBatch(ctx context.Context, kbID, workspaceID string, profile model.EmbeddingProfile, chunks []model.Chunk) ([]Record, error) {
	if e.limiter != nil {
		if err := e.limiter.WaitN(ctx, len(chunks)); err != nil {
			return nil, kberr.Wrap(kberr.Transient, err, "embedder: rate limiter")
		}
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := e.provider.Embed(ctx, texts)
	if err != nil {
		return nil, kberr.Wrap(kberr.Transient, err, "embedder: provider call")
	}
	if len(vectors) != len(chunks) {
		return nil, kberr.Newf(kberr.DataError, "embedder: provider returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	recs := make([]Record, len(chunks))
	for i, c := range chunks {
		v := vectors[i]
		if len(v) != profile.Dimension {
			return nil, kberr.Newf(kberr.ProfileMismatch, "embedder: vector dimension %d != profile dimension %d", len(v), profile.Dimension)
		}
		if profile.Normalized {
			v = l2Normalize(v)
		}
		recs[i] = Record{
			VectorID:    c.ID,
			Vector:      v,
			KBID:        kbID,
			WorkspaceID: workspaceID,
			DocumentID:  c.DocumentID,
			ChunkID:     c.ID,
			Ordinal:     c.Ordinal,
			Enabled:     c.Enabled,
		}
	}
	return recs, nil
}

// Record is the Embedder's output, shaped to convert 1:1 into a
// vectorstore.Record/Payload without this package importing vectorstore
// directly - the orchestrator, which already depends on both, does that
// conversion at the call site.
type Record struct {
	VectorID    string
	Vector      []float32
	KBID        string
	WorkspaceID string
	DocumentID  string
	ChunkID     string
	Ordinal     int
	Enabled     bool
}

func batchChunks(chunks []model.Chunk, size int) [][]model.Chunk {
	var batches [][]model.Chunk
	for i := 0; i < len(chunks); i += size {
		end := i + size
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[i:end])
	}
	return batches
}

func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
