package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageReadWrite(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "tasks/abc.yaml", []byte("id: abc\n")))

	data, err := store.Read(ctx, "tasks/abc.yaml")
	require.NoError(t, err)
	assert.Equal(t, "id: abc\n", string(data))

	exists, err := store.Exists(ctx, "tasks/abc.yaml")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, "tasks/missing.yaml")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStorageReadMissing(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Read(context.Background(), "tasks/missing.yaml")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorageWriteOverwrites(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "tasks/abc.yaml", []byte("v1")))
	require.NoError(t, store.Write(ctx, "tasks/abc.yaml", []byte("v2")))

	data, err := store.Read(ctx, "tasks/abc.yaml")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestLocalStorageList(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	paths, err := store.List(ctx, "tasks")
	require.NoError(t, err)
	assert.Empty(t, paths)

	require.NoError(t, store.Write(ctx, "tasks/a.yaml", []byte("a")))
	require.NoError(t, store.Write(ctx, "tasks/b.yaml", []byte("b")))
	require.NoError(t, store.Write(ctx, "other/c.yaml", []byte("c")))

	paths, err = store.List(ctx, "tasks")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tasks/a.yaml", "tasks/b.yaml"}, paths)
}
