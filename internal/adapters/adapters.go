// Package adapters implements the Source Adapters (C3): validate, probe,
// and fetch for each model.SourceKind, registered the same
// capability-interface-plus-registry way internal/chunker and
// internal/parser select their own runtime variants.
package adapters

import (
	"context"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

// Adapter is the capability every source kind implements.
type Adapter interface {
	// Validate reports whether src's Config is well-formed for this kind,
	// beyond what model.Source.Validate already checks structurally.
	Validate(ctx context.Context, src model.Source) error
	// Probe returns a cheap, pre-fetch estimate used to pace preview work.
	Probe(ctx context.Context, src model.Source) (model.ProbeResult, error)
	// Fetch streams RawDocuments to sink, honoring ctx cancellation and
	// resuming from checkpoint when non-empty.
	Fetch(ctx context.Context, src model.Source, sink model.Sink, checkpoint model.CheckpointToken) (model.FetchResult, error)
}

var registry = map[model.SourceKind]Adapter{}

// Register installs an Adapter for kind; adapters call this from their own
// init() so the registry composes the same way internal/chunker's
// strategies do.
func Register(kind model.SourceKind, a Adapter) { registry[kind] = a }

// Get returns the Adapter registered for kind.
func Get(kind model.SourceKind) (Adapter, bool) {
	a, ok := registry[kind]
	return a, ok
}

// Validate dispatches to the registered adapter for src.Kind.
func Validate(ctx context.Context, src model.Source) error {
	a, ok := registry[src.Kind]
	if !ok {
		return kberr.Newf(kberr.InvalidArgument, "adapters: no adapter registered for kind %q", src.Kind)
	}
	return a.Validate(ctx, src)
}

// Probe dispatches to the registered adapter for src.Kind.
func Probe(ctx context.Context, src model.Source) (model.ProbeResult, error) {
	a, ok := registry[src.Kind]
	if !ok {
		return model.ProbeResult{}, kberr.Newf(kberr.InvalidArgument, "adapters: no adapter registered for kind %q", src.Kind)
	}
	return a.Probe(ctx, src)
}

// Fetch dispatches to the registered adapter for src.Kind. Composite
// sources are the one kind whose Fetch needs to call back into this
// package for its children; see composite.go's Resolver.
func Fetch(ctx context.Context, src model.Source, sink model.Sink, checkpoint model.CheckpointToken) (model.FetchResult, error) {
	a, ok := registry[src.Kind]
	if !ok {
		return model.FetchResult{}, kberr.Newf(kberr.InvalidArgument, "adapters: no adapter registered for kind %q", src.Kind)
	}
	return a.Fetch(ctx, src, sink, checkpoint)
}
