package fsfs

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryPlainEncodeDecodeRoundTrip(t *testing.T) {
	d := NewDirectory()
	d.Set("alpha.txt", KindFile, ID{NodeID: "1", CopyID: "0", Rev: 1, Offset: 0})
	d.Set("sub", KindDir, ID{NodeID: "2", CopyID: "0", Rev: 1, Offset: 10})

	var buf bytes.Buffer
	require.NoError(t, d.EncodePlain(&buf))

	got, err := DecodeDirectory(bufio.NewReader(&buf), nil)
	require.NoError(t, err)
	assert.True(t, d.Equal(got))
}

func TestDirectoryIncrementalOverlay(t *testing.T) {
	base := NewDirectory()
	base.Set("keep.txt", KindFile, ID{NodeID: "1", CopyID: "0", Rev: 1, Offset: 0})
	base.Set("gone.txt", KindFile, ID{NodeID: "2", CopyID: "0", Rev: 1, Offset: 5})

	var buf bytes.Buffer
	require.NoError(t, EncodeDeleteEntry(&buf, "gone.txt"))
	require.NoError(t, EncodeSetEntry(&buf, "new.txt", KindFile, ID{NodeID: "3", CopyID: "0", Rev: 2, Offset: 0}))
	buf.WriteString(propsEndMarker)

	got, err := DecodeDirectory(bufio.NewReader(&buf), base)
	require.NoError(t, err)

	_, ok := got.Get("gone.txt")
	assert.False(t, ok)
	_, ok = got.Get("keep.txt")
	assert.True(t, ok)
	_, ok = got.Get("new.txt")
	assert.True(t, ok)
	assert.Equal(t, 2, got.Len())
}

func TestDirectoryNamesSorted(t *testing.T) {
	d := NewDirectory()
	d.Set("zebra", KindFile, ID{NodeID: "1", CopyID: "0", Rev: 1})
	d.Set("apple", KindFile, ID{NodeID: "2", CopyID: "0", Rev: 1})
	assert.Equal(t, []string{"apple", "zebra"}, d.Names())
}

func TestDirectoryEqualIgnoresOrder(t *testing.T) {
	a := NewDirectory()
	a.Set("x", KindFile, ID{NodeID: "1", CopyID: "0", Rev: 1})
	a.Set("y", KindDir, ID{NodeID: "2", CopyID: "0", Rev: 1})

	b := NewDirectory()
	b.Set("y", KindDir, ID{NodeID: "2", CopyID: "0", Rev: 1})
	b.Set("x", KindFile, ID{NodeID: "1", CopyID: "0", Rev: 1})

	assert.True(t, a.Equal(b))
}
