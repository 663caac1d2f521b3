package fsfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepSharingReusesIdenticalContent(t *testing.T) {
	repo := createTestRepo(t, MaxFormat)
	require.True(t, repo.Config.EnableRepSharing)

	txn1, err := BeginTxn(repo, 0)
	require.NoError(t, err)
	require.NoError(t, txn1.MakeFile("/a.txt"))
	require.NoError(t, txn1.SetFileContents("/a.txt", []byte("shared payload")))
	rev1, err := Commit(context.Background(), txn1, nil, nil)
	require.NoError(t, err)

	txn2, err := BeginTxn(repo, rev1)
	require.NoError(t, err)
	require.NoError(t, txn2.MakeFile("/b.txt"))
	require.NoError(t, txn2.SetFileContents("/b.txt", []byte("shared payload")))
	rev2, err := Commit(context.Background(), txn2, nil, nil)
	require.NoError(t, err)

	rootA, err := repo.OpenRevisionRoot(rev1)
	require.NoError(t, err)
	nodeA, err := rootA.NodeRevisionAt("/a.txt")
	require.NoError(t, err)

	rootB, err := repo.OpenRevisionRoot(rev2)
	require.NoError(t, err)
	nodeB, err := rootB.NodeRevisionAt("/b.txt")
	require.NoError(t, err)

	assert.Equal(t, nodeA.TextRep.Rev, nodeB.TextRep.Rev)
	assert.Equal(t, nodeA.TextRep.Offset, nodeB.TextRep.Offset)

	contentB, err := rootB.ReadFile("/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "shared payload", string(contentB))
}

func TestRepSharingDisabledUnderLegacyFormat(t *testing.T) {
	repo := createTestRepo(t, 3)
	assert.False(t, repo.Config.EnableRepSharing)
	assert.Nil(t, repo.RepCache)

	txn, err := BeginTxn(repo, 0)
	require.NoError(t, err)
	require.NoError(t, txn.MakeFile("/a.txt"))
	require.NoError(t, txn.SetFileContents("/a.txt", []byte("plain content")))
	rev, err := Commit(context.Background(), txn, nil, nil)
	require.NoError(t, err)

	root, err := repo.OpenRevisionRoot(rev)
	require.NoError(t, err)
	got, err := root.ReadFile("/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "plain content", string(got))
}

func TestSelectDeltaBaseBoundaries(t *testing.T) {
	cfg := DefaultConfig(MaxFormat)
	cfg.MaxLinearDeltification = 4
	cfg.MaxDeltificationWalk = 8

	assert.False(t, selectDeltaBase(0, cfg).UseBase, "no predecessors means PLAIN")

	disabled := DefaultConfig(MaxFormat)
	disabled.MaxDeltificationWalk = 0
	assert.False(t, selectDeltaBase(5, disabled).UseBase, "MaxDeltificationWalk=0 disables deltification entirely")

	sel := selectDeltaBase(1, cfg)
	assert.True(t, sel.UseBase)
	assert.Equal(t, 0, sel.AncestorPredCount)
}

func TestSelectDeltaBaseSharedAncestorAndAbandon(t *testing.T) {
	cfg := DefaultConfig(MaxFormat)
	cfg.MaxLinearDeltification = 2
	cfg.MaxDeltificationWalk = 4

	// predCount=6 -> c = 6 & 5 = 4, walk = 6-4 = 2, which is < linear(2)?
	// walk(2) is not < linear(2), so this falls into the shared-ancestor
	// branch: base is the ancestor with pred-count c=4.
	sel := selectDeltaBase(6, cfg)
	require.True(t, sel.UseBase)
	assert.Equal(t, 4, sel.AncestorPredCount)

	// predCount=16 -> c = 16 & 15 = 0, walk = 16, which exceeds
	// MaxDeltificationWalk(4) -> abandon to PLAIN.
	abandon := selectDeltaBase(16, cfg)
	assert.False(t, abandon.UseBase, "walk exceeding MaxDeltificationWalk abandons deltification")
}
