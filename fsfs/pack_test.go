package fsfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackFoldsCompleteShard(t *testing.T) {
	repo := createTestRepo(t, MaxFormat)
	repo.Format.Layout.ShardSize = 2 // small shard so the test doesn't need 1000 revisions

	base := Revnum(0)
	for i := 0; i < 4; i++ {
		txn, err := BeginTxn(repo, base)
		require.NoError(t, err)
		require.NoError(t, txn.MakeFile("/f"+string(rune('a'+i))))
		rev, err := Commit(context.Background(), txn, nil, nil)
		require.NoError(t, err)
		base = rev
	}
	// revisions 0..4 exist; shard size 2 -> shards {0,1}, {2,3}, {4 (open)}.

	require.NoError(t, Pack(context.Background(), repo, nil))

	minUnpacked, err := repo.MinUnpackedRev()
	require.NoError(t, err)
	assert.Equal(t, Revnum(4), minUnpacked, "shards 0-1 and 2-3 are complete, shard 2 still holds youngest")

	assert.True(t, dirExists(repo.packDir(0)))
	assert.True(t, dirExists(repo.packDir(1)))
	assert.False(t, dirExists(repo.packDir(2)), "shard holding youngest must not be packed yet")

	// content must still be readable transparently through the packed layout.
	root, err := repo.OpenRevisionRoot(1)
	require.NoError(t, err)
	assert.Equal(t, KindDir, root.Root().Kind)
}

func TestPackIsIdempotent(t *testing.T) {
	repo := createTestRepo(t, MaxFormat)
	repo.Format.Layout.ShardSize = 2

	base := Revnum(0)
	for i := 0; i < 3; i++ {
		txn, err := BeginTxn(repo, base)
		require.NoError(t, err)
		require.NoError(t, txn.MakeFile("/f"+string(rune('a'+i))))
		rev, err := Commit(context.Background(), txn, nil, nil)
		require.NoError(t, err)
		base = rev
	}

	require.NoError(t, Pack(context.Background(), repo, nil))
	first, err := repo.MinUnpackedRev()
	require.NoError(t, err)

	require.NoError(t, Pack(context.Background(), repo, nil))
	second, err := repo.MinUnpackedRev()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestPackRejectsUnsupportedFormat(t *testing.T) {
	repo := createTestRepo(t, 3)
	err := Pack(context.Background(), repo, nil)
	assert.Error(t, err)
	assert.True(t, IsKind(err, KindFormatUnsupported))
}
