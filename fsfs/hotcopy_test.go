package fsfs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHotCopyFullThenIncremental(t *testing.T) {
	srcDir := filepath.Join(t.TempDir(), "src")
	src, err := CreateRepository(srcDir, MaxFormat, nil)
	require.NoError(t, err)
	defer src.Close()

	txn, err := BeginTxn(src, 0)
	require.NoError(t, err)
	require.NoError(t, txn.MakeFile("/a.txt"))
	require.NoError(t, txn.SetFileContents("/a.txt", []byte("v1")))
	rev1, err := Commit(context.Background(), txn, nil, nil)
	require.NoError(t, err)

	dstDir := filepath.Join(t.TempDir(), "dst")
	rev, err := HotCopy(context.Background(), srcDir, dstDir, nil)
	require.NoError(t, err)
	assert.Equal(t, rev1, rev)

	dst, err := OpenRepository(dstDir, nil)
	require.NoError(t, err)
	defer dst.Close()

	youngest, err := dst.Youngest()
	require.NoError(t, err)
	assert.Equal(t, rev1, youngest)

	root, err := dst.OpenRevisionRoot(rev1)
	require.NoError(t, err)
	content, err := root.ReadFile("/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(content))

	// incremental: commit another revision to the source, copy again.
	txn2, err := BeginTxn(src, rev1)
	require.NoError(t, err)
	require.NoError(t, txn2.MakeFile("/b.txt"))
	rev2, err := Commit(context.Background(), txn2, nil, nil)
	require.NoError(t, err)
	dst.Close()

	rev, err = HotCopy(context.Background(), srcDir, dstDir, nil)
	require.NoError(t, err)
	assert.Equal(t, rev2, rev)

	dst2, err := OpenRepository(dstDir, nil)
	require.NoError(t, err)
	defer dst2.Close()
	youngest2, err := dst2.Youngest()
	require.NoError(t, err)
	assert.Equal(t, rev2, youngest2)
}

func TestOpenRepositoryRefusesMidHotCopyMarker(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "repo")
	repo, err := CreateRepository(dir, MaxFormat, nil)
	require.NoError(t, err)
	repo.Close()

	markerPath := filepath.Join(dir, "db", hotcopyMarkerName)
	require.NoError(t, writeNewFile(markerPath, []byte("")))

	_, err = OpenRepository(dir, nil)
	assert.Error(t, err)
	assert.True(t, IsKind(err, KindCorrupt))
}
