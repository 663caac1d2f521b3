package fsfs

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileID(n int, rev Revnum) ID {
	return ID{NodeID: "x" + string(rune('0'+n)), CopyID: "0", Rev: rev, Offset: int64(n)}
}

func TestChangeEncodeDecodeRoundTrip(t *testing.T) {
	c := &Change{
		Path: "/trunk/a.txt", ID: fileID(1, 3), Kind: ChangeAdd, Node: KindFile,
		TextMod: true, PropMod: false, CopyFromRev: NoRevision,
	}
	var buf bytes.Buffer
	require.NoError(t, c.Encode(&buf))

	got, err := DecodeChanges(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c.Path, got[0].Path)
	assert.Equal(t, c.Kind, got[0].Kind)
	assert.Equal(t, c.ID, got[0].ID)
	assert.True(t, got[0].TextMod)
	assert.False(t, got[0].PropMod)
}

func TestChangeEncodeDecodeWithCopyFrom(t *testing.T) {
	c := &Change{
		Path: "/branches/b/a.txt", ID: fileID(2, 5), Kind: ChangeAdd, Node: KindFile,
		CopyFromRev: Revnum(4), CopyFromPath: "/trunk/a.txt",
	}
	var buf bytes.Buffer
	require.NoError(t, c.Encode(&buf))
	got, err := DecodeChanges(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Revnum(4), got[0].CopyFromRev)
	assert.Equal(t, "/trunk/a.txt", got[0].CopyFromPath)
}

func TestFoldChangesAddThenDeleteVanishes(t *testing.T) {
	changes := []*Change{
		{Path: "/a.txt", ID: fileID(1, NoRevision), Kind: ChangeAdd, Node: KindFile},
		{Path: "/a.txt", ID: fileID(1, NoRevision), Kind: ChangeDelete, Node: KindFile},
	}
	out, err := FoldChanges(changes, false)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFoldChangesModifyModifyCollapses(t *testing.T) {
	id1 := fileID(1, NoRevision)
	changes := []*Change{
		{Path: "/a.txt", ID: id1, Kind: ChangeModify, Node: KindFile, TextMod: true},
		{Path: "/a.txt", ID: id1, Kind: ChangeModify, Node: KindFile, PropMod: true},
	}
	out, err := FoldChanges(changes, false)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].TextMod)
	assert.True(t, out[0].PropMod)
}

func TestFoldChangesDeletePrunesDescendants(t *testing.T) {
	dirID := ID{NodeID: "d0", CopyID: "0", Rev: NoRevision, Txn: "1-0"}
	childID := fileID(1, NoRevision)
	changes := []*Change{
		{Path: "/sub/child.txt", ID: childID, Kind: ChangeAdd, Node: KindFile},
		{Path: "/sub", ID: dirID, Kind: ChangeDelete, Node: KindDir},
	}
	out, err := FoldChanges(changes, false)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "/sub", out[0].Path)
}

func TestFoldChangesResetRemovesEntry(t *testing.T) {
	id1 := fileID(1, NoRevision)
	changes := []*Change{
		{Path: "/a.txt", ID: id1, Kind: ChangeAdd, Node: KindFile},
		{Path: "/a.txt", Kind: ChangeReset},
	}
	out, err := FoldChanges(changes, false)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFoldChangesDeleteThenAddReplaces(t *testing.T) {
	id1 := fileID(1, NoRevision)
	id2 := fileID(2, NoRevision)
	changes := []*Change{
		{Path: "/a.txt", ID: id1, Kind: ChangeDelete, Node: KindFile},
		{Path: "/a.txt", ID: id2, Kind: ChangeAdd, Node: KindFile},
	}
	out, err := FoldChanges(changes, false)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, ChangeReplace, out[0].Kind)
	assert.Equal(t, id2, out[0].ID)
}

func TestFoldChangesResultIsPathSorted(t *testing.T) {
	changes := []*Change{
		{Path: "/z.txt", ID: fileID(1, NoRevision), Kind: ChangeAdd, Node: KindFile},
		{Path: "/a.txt", ID: fileID(2, NoRevision), Kind: ChangeAdd, Node: KindFile},
	}
	out, err := FoldChanges(changes, false)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "/a.txt", out[0].Path)
	assert.Equal(t, "/z.txt", out[1].Path)
}

func TestFoldChangesRejectsAddWithoutPriorDelete(t *testing.T) {
	id1 := fileID(1, NoRevision)
	id2 := fileID(2, NoRevision)
	changes := []*Change{
		{Path: "/a.txt", ID: id1, Kind: ChangeModify, Node: KindFile, TextMod: true},
		{Path: "/a.txt", ID: id2, Kind: ChangeAdd, Node: KindFile},
	}
	_, err := FoldChanges(changes, false)
	assert.Error(t, err)
	assert.True(t, IsKind(err, KindCorrupt))
}

func TestFoldChangesRejectsNonResetWithoutID(t *testing.T) {
	changes := []*Change{
		{Path: "/a.txt", Kind: ChangeAdd, Node: KindFile},
	}
	_, err := FoldChanges(changes, false)
	assert.Error(t, err)
}
