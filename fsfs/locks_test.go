package fsfs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockStoreSetGetRemoveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table")
	store, err := OpenLockStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Set(Lock{Path: "/a.txt", Token: "tok-1", Owner: "alice"}))
	got, ok := store.Get("/a.txt")
	require.True(t, ok)
	assert.Equal(t, "tok-1", got.Token)

	reopened, err := OpenLockStore(path)
	require.NoError(t, err)
	got2, ok := reopened.Get("/a.txt")
	require.True(t, ok)
	assert.Equal(t, got, got2)

	require.NoError(t, store.Remove("/a.txt"))
	_, ok = store.Get("/a.txt")
	assert.False(t, ok)
}

func TestVerifyChangesRejectsMissingToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table")
	store, err := OpenLockStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(Lock{Path: "/a.txt", Token: "tok-1", Owner: "alice"}))

	changes := []*Change{{Path: "/a.txt", Kind: ChangeModify, Node: KindFile, ID: fileID(1, NoRevision)}}
	err = store.VerifyChanges(changes, nil)
	assert.Error(t, err)
	assert.True(t, IsKind(err, KindLockVerification))

	err = store.VerifyChanges(changes, map[string]string{"/a.txt": "tok-1"})
	assert.NoError(t, err)
}

func TestVerifyChangesRecursiveCoversDescendants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table")
	store, err := OpenLockStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(Lock{Path: "/dir/child.txt", Token: "tok-2", Owner: "bob"}))

	changes := []*Change{{Path: "/dir", Kind: ChangeDelete, Node: KindDir, ID: fileID(1, NoRevision)}}
	err = store.VerifyChanges(changes, nil)
	assert.Error(t, err)

	err = store.VerifyChanges(changes, map[string]string{"/dir/child.txt": "tok-2"})
	assert.NoError(t, err)
}
