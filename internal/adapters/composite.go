package adapters

import (
	"context"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

func init() { Register(model.SourceComposite, newCompositeAdapter(nil)) }

// SourceResolver looks up a child source definition by id; the catalog
// (C8) is the real implementation, wired in by cmd/kbetl the same way
// SetFileStore/SetCredentialResolver swap in their collaborators.
type SourceResolver interface {
	Source(ctx context.Context, id string) (model.Source, error)
}

func SetSourceResolver(r SourceResolver) {
	Register(model.SourceComposite, newCompositeAdapter(r))
}

// compositeAdapter concatenates its children's fetched RawDocuments into
// the parent source's document stream, bounded by
// model.MaxCompositeDepth to keep a misconfigured child cycle
// from recursing forever.
type compositeAdapter struct {
	resolver SourceResolver
}

func newCompositeAdapter(r SourceResolver) *compositeAdapter {
	return &compositeAdapter{resolver: r}
}

func (c *compositeAdapter) Validate(ctx context.Context, src model.Source) error {
	if len(src.ChildIDs) == 0 {
		return kberr.Newf(kberr.InvalidArgument, "composite source requires at least one child")
	}
	return c.validateDepth(ctx, src, 1)
}

func (c *compositeAdapter) validateDepth(ctx context.Context, src model.Source, depth int) error {
	if depth > model.MaxCompositeDepth {
		return kberr.Newf(kberr.InvalidArgument, "composite source nesting exceeds max depth %d", model.MaxCompositeDepth)
	}
	if c.resolver == nil {
		return nil
	}
	for _, childID := range src.ChildIDs {
		child, err := c.resolver.Source(ctx, childID)
		if err != nil {
			return kberr.Wrap(kberr.InvalidArgument, err, "composite source: resolve child %s", childID)
		}
		if child.Kind == model.SourceComposite {
			if err := c.validateDepth(ctx, child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *compositeAdapter) Probe(ctx context.Context, src model.Source) (model.ProbeResult, error) {
	if c.resolver == nil {
		return model.ProbeResult{}, kberr.Newf(kberr.Internal, "composite adapter: no source resolver configured")
	}
	var total model.ProbeResult
	for _, childID := range src.ChildIDs {
		child, err := c.resolver.Source(ctx, childID)
		if err != nil {
			return model.ProbeResult{}, kberr.Wrap(kberr.InvalidArgument, err, "composite adapter: resolve child %s", childID)
		}
		a, ok := Get(child.Kind)
		if !ok {
			continue
		}
		r, err := a.Probe(ctx, child)
		if err != nil {
			return model.ProbeResult{}, err
		}
		total.EstimatedPages += r.EstimatedPages
		total.EstimatedBytes += r.EstimatedBytes
	}
	total.ContentKind = "composite"
	return total, nil
}

func (c *compositeAdapter) Fetch(ctx context.Context, src model.Source, sink model.Sink, checkpoint model.CheckpointToken) (model.FetchResult, error) {
	if c.resolver == nil {
		return model.FetchResult{}, kberr.Newf(kberr.Internal, "composite adapter: no source resolver configured")
	}
	var result model.FetchResult
	for _, childID := range src.ChildIDs {
		child, err := c.resolver.Source(ctx, childID)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		a, ok := Get(child.Kind)
		if !ok {
			result.Errors = append(result.Errors, kberr.Newf(kberr.InvalidArgument, "composite adapter: no adapter for child kind %q", child.Kind))
			continue
		}
		childResult, err := a.Fetch(ctx, child, sink, "")
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.DocumentsFetched += childResult.DocumentsFetched
		result.Errors = append(result.Errors, childResult.Errors...)
		result.LastCheckpoint = childResult.LastCheckpoint
	}
	return result, nil
}
