package objectstore

import (
	"context"
	"io"
	"path"
	"strings"

	"kbetl/internal/kberr"
)

// BlobStore is the pipeline's object storage collaborator contract:
// put_blob(workspace_id, ref, bytes) -> uri; get_blob(uri) -> stream. It
// wraps an ObjectStore, prefixing every key with the workspace id so one
// bucket can serve every tenant without key collisions.
type BlobStore struct {
	backend ObjectStore
	scheme  string // reported in returned URIs, e.g. "blob"
}

// NewBlobStore wraps backend (an S3Store, a MemoryStore, or any other
// ObjectStore) with workspace-scoped key namespacing.
func NewBlobStore(backend ObjectStore) *BlobStore {
	return &BlobStore{backend: backend, scheme: "blob"}
}

func (b *BlobStore) key(workspaceID, ref string) string {
	return path.Join(workspaceID, ref)
}

// PutBlob stores bytes under a key namespaced to workspaceID and returns a
// URI that GetBlob can resolve back to the same object.
func (b *BlobStore) PutBlob(ctx context.Context, workspaceID, ref string, r io.Reader, contentType string) (string, error) {
	if workspaceID == "" {
		return "", kberr.Newf(kberr.InvalidArgument, "put_blob requires a workspace_id")
	}
	if ref == "" {
		return "", kberr.Newf(kberr.InvalidArgument, "put_blob requires a ref")
	}
	key := b.key(workspaceID, ref)
	if _, err := b.backend.Put(ctx, key, r, PutOptions{ContentType: contentType}); err != nil {
		return "", kberr.Wrap(kberr.Transient, err, "put_blob %s", key)
	}
	return b.scheme + "://" + key, nil
}

// GetBlob resolves a URI returned by PutBlob back to a readable stream.
// The caller must close the returned reader.
func (b *BlobStore) GetBlob(ctx context.Context, uri string) (io.ReadCloser, error) {
	key, err := b.keyFromURI(uri)
	if err != nil {
		return nil, err
	}
	r, _, err := b.backend.Get(ctx, key)
	if err != nil {
		if err == ErrNotFound {
			return nil, kberr.Wrap(kberr.NotFound, err, "blob %s not found", uri)
		}
		return nil, kberr.Wrap(kberr.Transient, err, "get_blob %s", uri)
	}
	return r, nil
}

// DeleteBlob removes the object a PutBlob URI points to.
func (b *BlobStore) DeleteBlob(ctx context.Context, uri string) error {
	key, err := b.keyFromURI(uri)
	if err != nil {
		return err
	}
	if err := b.backend.Delete(ctx, key); err != nil {
		return kberr.Wrap(kberr.Transient, err, "delete_blob %s", uri)
	}
	return nil
}

func (b *BlobStore) keyFromURI(uri string) (string, error) {
	prefix := b.scheme + "://"
	if !strings.HasPrefix(uri, prefix) {
		return "", kberr.Newf(kberr.InvalidArgument, "blob uri %q missing %q scheme", uri, b.scheme)
	}
	return strings.TrimPrefix(uri, prefix), nil
}
