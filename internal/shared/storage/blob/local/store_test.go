package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-backend/internal/shared/storage/blob"
)

func TestPutGetCopyDelete(t *testing.T) {
	ctx := context.Background()
	store := New(t.TempDir())

	require.NoError(t, store.Put(ctx, "c1/2024-11/inv.pdf", []byte("%PDF-1.3")))

	got, err := store.Get(ctx, "c1/2024-11/inv.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.3"), got)

	require.NoError(t, store.Copy(ctx, "c1/2024-11/inv.pdf", "c2/2024-11/inv.pdf"))
	copied, err := store.Get(ctx, "c2/2024-11/inv.pdf")
	require.NoError(t, err)
	assert.Equal(t, got, copied)

	require.NoError(t, store.Delete(ctx, "c1/2024-11/inv.pdf"))
	_, err = store.Get(ctx, "c1/2024-11/inv.pdf")
	assert.ErrorIs(t, err, blob.ErrObjectNotFound)
	assert.ErrorIs(t, err, blob.ErrRemoteStore)

	// Deleting twice is fine.
	assert.NoError(t, store.Delete(ctx, "c1/2024-11/inv.pdf"))
}

func TestRejectsEscapingKeys(t *testing.T) {
	store := New(t.TempDir())

	for _, key := range []string{"", "../outside.pdf", "/etc/passwd"} {
		err := store.Put(context.Background(), key, []byte("x"))
		assert.ErrorIs(t, err, blob.ErrRemoteStore, "key %q", key)
	}
}

func TestCopyMissingSource(t *testing.T) {
	store := New(t.TempDir())

	err := store.Copy(context.Background(), "missing.pdf", "dst.pdf")
	assert.ErrorIs(t, err, blob.ErrObjectNotFound)
}
