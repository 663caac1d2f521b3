package fsfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathTreeInsertLookup(t *testing.T) {
	tree := NewPathTree()
	tree.Insert("/trunk/a.txt", 1)
	tree.Insert("/trunk/sub/b.txt", 2)

	v, ok := tree.Lookup("/trunk/a.txt")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = tree.Lookup("/trunk/sub/b.txt")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = tree.Lookup("/trunk/sub")
	assert.False(t, ok, "intermediate component with no inserted value has none")

	_, ok = tree.Lookup("/nope")
	assert.False(t, ok)
}

func TestPathTreeWalkVisitsChildrenBeforeParentsInSortedOrder(t *testing.T) {
	tree := NewPathTree()
	tree.Insert("/trunk", "root")
	tree.Insert("/trunk/z.txt", "z")
	tree.Insert("/trunk/a.txt", "a")
	tree.Insert("/trunk/sub/c.txt", "c")

	entries := tree.WalkOrdered()
	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}

	require.Len(t, paths, 4)
	// children must precede their parent, and siblings are lexicographic.
	assert.Equal(t, []string{"trunk/a.txt", "trunk/sub/c.txt", "trunk/z.txt", "trunk"}, paths)
}
