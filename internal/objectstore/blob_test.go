package objectstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	store := NewBlobStore(NewMemoryStore())
	ctx := context.Background()

	uri, err := store.PutBlob(ctx, "ws-1", "uploads/doc.pdf", strings.NewReader("hello"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "blob://ws-1/uploads/doc.pdf", uri)

	r, err := store.GetBlob(ctx, uri)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, store.DeleteBlob(ctx, uri))
	_, err = store.GetBlob(ctx, uri)
	assert.Error(t, err)
}

func TestBlobStoreRequiresWorkspaceID(t *testing.T) {
	store := NewBlobStore(NewMemoryStore())
	_, err := store.PutBlob(context.Background(), "", "ref", strings.NewReader("x"), "")
	assert.Error(t, err)
}
