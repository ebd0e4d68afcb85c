package adapters

import (
	"context"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
	"kbetl/internal/objectstore"
)

func init() { Register(model.SourceFile, newFileAdapter(nil)) }

// SetFileStore installs the object store the file adapter reads uploaded
// blobs from. Called once at wiring time (cmd/kbetl); the adapter
// registered by init() is a placeholder until this runs, matching the
// draft package's factory pattern for swapping a backing store in.
func SetFileStore(store objectstore.ObjectStore) {
	Register(model.SourceFile, newFileAdapter(store))
}

// fileAdapter reads a single previously uploaded blob keyed by
// src.Reference from the workspace's object store bucket. A file
// source's Reference is the object key assigned at upload time, not a
// local filesystem path - ingest never reads the operator's disk.
type fileAdapter struct {
	store objectstore.ObjectStore
}

func newFileAdapter(store objectstore.ObjectStore) *fileAdapter {
	return &fileAdapter{store: store}
}

func (f *fileAdapter) Validate(ctx context.Context, src model.Source) error {
	if strings.TrimSpace(src.Reference) == "" {
		return kberr.Newf(kberr.InvalidArgument, "file source requires a reference object key")
	}
	return nil
}

func (f *fileAdapter) Probe(ctx context.Context, src model.Source) (model.ProbeResult, error) {
	if f.store == nil {
		return model.ProbeResult{}, kberr.Newf(kberr.Internal, "file adapter: object store not configured")
	}
	attrs, err := f.store.Head(ctx, src.Reference)
	if err != nil {
		return model.ProbeResult{}, kberr.Wrap(kberr.NotFound, err, "file adapter: head %s", src.Reference)
	}
	return model.ProbeResult{EstimatedPages: 1, EstimatedBytes: attrs.Size, ContentKind: attrs.ContentType}, nil
}

func (f *fileAdapter) Fetch(ctx context.Context, src model.Source, sink model.Sink, checkpoint model.CheckpointToken) (model.FetchResult, error) {
	if checkpoint != "" {
		// A single-object fetch is already complete once delivered; a
		// non-empty checkpoint means this source was already fetched.
		return model.FetchResult{}, nil
	}
	if f.store == nil {
		return model.FetchResult{}, kberr.Newf(kberr.Internal, "file adapter: object store not configured")
	}
	rc, attrs, err := f.store.Get(ctx, src.Reference)
	if err != nil {
		return model.FetchResult{}, kberr.Wrap(kberr.NotFound, err, "file adapter: get %s", src.Reference)
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return model.FetchResult{}, kberr.Wrap(kberr.Transient, err, "file adapter: read %s", src.Reference)
	}

	mimeType := attrs.ContentType
	if mimeType == "" {
		mimeType = guessMIME(src.Reference)
	}
	doc := model.RawDocument{
		SourceID:   src.ID,
		ExternalID: src.Reference,
		URI:        src.Reference,
		MIME:       mimeType,
		Bytes:      b,
		FetchedAt:  time.Now(),
		Checksum:   attrs.ETag,
	}
	if err := sink.Accept(doc, model.CheckpointToken(src.Reference)); err != nil {
		return model.FetchResult{}, kberr.Wrap(kberr.Transient, err, "file adapter: sink rejected %s", src.Reference)
	}
	return model.FetchResult{DocumentsFetched: 1, LastCheckpoint: model.CheckpointToken(src.Reference)}, nil
}

func guessMIME(key string) string {
	if t := mime.TypeByExtension(filepath.Ext(key)); t != "" {
		return t
	}
	return "application/octet-stream"
}
