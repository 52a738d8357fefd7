package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/casefeed/internal/domain"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	key := FileKey(uuid.New(), "01-22-2020.csv")
	require.NoError(t, store.Put(ctx, key, strings.NewReader("a,b\n1,2\n")))

	rc, err := store.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))
}

func TestLocalStoreOverwriteLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewLocalStore(root)
	require.NoError(t, err)

	key := "files/x/data.csv"
	require.NoError(t, store.Put(ctx, key, strings.NewReader("first")))
	require.NoError(t, store.Put(ctx, key, strings.NewReader("second")))

	entries, err := os.ReadDir(filepath.Join(root, "files", "x"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "data.csv", entries[0].Name())
}

func TestLocalStoreMissingKey(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(ctx, "files/none/data.csv")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "files/none/data.csv"), domain.ErrNotFound)
}

func TestLocalStoreDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	key := FileKey(uuid.New(), "a.csv")
	require.NoError(t, store.Put(ctx, key, strings.NewReader("x")))
	require.NoError(t, store.Delete(ctx, key))

	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../outside.csv", "files/../../etc/passwd"} {
		assert.Error(t, store.Put(ctx, key, strings.NewReader("x")), "key %q", key)
	}
}

func TestFileKeyUsesBaseName(t *testing.T) {
	id := uuid.MustParse("8f14e45f-ceea-467f-a8f3-1a5b2c3d4e5f")

	assert.Equal(t, "files/8f14e45f-ceea-467f-a8f3-1a5b2c3d4e5f/01-22-2020.csv", FileKey(id, "dir/01-22-2020.csv"))
	assert.Equal(t, "files/8f14e45f-ceea-467f-a8f3-1a5b2c3d4e5f/data.csv", FileKey(id, ""))
}
