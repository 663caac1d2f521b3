package fsfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyCleanRepositoryHasNoProblems(t *testing.T) {
	repo := createTestRepo(t, MaxFormat)

	txn, err := BeginTxn(repo, 0)
	require.NoError(t, err)
	require.NoError(t, txn.MakeDir("/trunk"))
	require.NoError(t, txn.MakeFile("/trunk/a.txt"))
	require.NoError(t, txn.SetFileContents("/trunk/a.txt", []byte("hello")))
	rev, err := Commit(context.Background(), txn, nil, nil)
	require.NoError(t, err)

	report, err := Verify(context.Background(), repo, 0, rev)
	require.NoError(t, err)
	assert.True(t, report.OK(), "problems: %v", report.Problems)
	assert.Equal(t, int(rev)+1, report.RevisionsChecked)
}

func TestVerifyDetectsMD5Mismatch(t *testing.T) {
	repo := createTestRepo(t, MaxFormat)

	txn, err := BeginTxn(repo, 0)
	require.NoError(t, err)
	require.NoError(t, txn.MakeFile("/a.txt"))
	require.NoError(t, txn.SetFileContents("/a.txt", []byte("hello")))
	rev, err := Commit(context.Background(), txn, nil, nil)
	require.NoError(t, err)

	root, err := repo.OpenRevisionRoot(rev)
	require.NoError(t, err)
	node, err := root.NodeRevisionAt("/a.txt")
	require.NoError(t, err)
	node.TextRep.MD5[0] ^= 0xFF // corrupt the stored checksum in memory

	report := &VerifyReport{}
	err = verifyNode(repo, rev, node, "/a.txt", map[string]bool{}, report)
	require.NoError(t, err)
	assert.False(t, report.OK())
	require.Len(t, report.Problems, 1)
}
