package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Owner   string            `json:"owner"`
	Entries map[string]string `json:"entries"`
}

func TestFileStore_RoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	in := doc{Owner: "0xabc", Entries: map[string]string{"alice": "0x1"}}
	require.NoError(t, store.Save(ctx, "addressbook", in))

	var out doc
	require.NoError(t, store.Load(ctx, "addressbook", &out))
	assert.Equal(t, in, out)
}

func TestFileStore_LoadMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	var out doc
	err = store.Load(context.Background(), "addressbook", &out)
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestFileStore_SaveReplacesWholeDocument(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "policies", map[string]string{"a": "1", "b": "2"}))
	require.NoError(t, store.Save(ctx, "policies", map[string]string{"c": "3"}))

	var out map[string]string
	require.NoError(t, store.Load(ctx, "policies", &out))
	assert.Equal(t, map[string]string{"c": "3"}, out)
}

func TestFileStore_NoTempFilesLeftBehind(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), "addressbook", doc{Owner: "0xabc"}))

	matches, err := filepath.Glob(filepath.Join(root, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = os.Stat(filepath.Join(root, "addressbook.json"))
	assert.NoError(t, err)
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var out doc
	assert.ErrorIs(t, store.Load(ctx, "addressbook", &out), ErrNotExist)

	in := doc{Owner: "0xabc"}
	require.NoError(t, store.Save(ctx, "addressbook", in))
	require.NoError(t, store.Load(ctx, "addressbook", &out))
	assert.Equal(t, in, out)
}
