package fsfs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestRepo(t *testing.T, format int) *Repository {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "repo")
	repo, err := CreateRepository(dir, format, nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestCreateRepositoryStartsAtRevisionZero(t *testing.T) {
	repo := createTestRepo(t, MaxFormat)
	youngest, err := repo.Youngest()
	require.NoError(t, err)
	assert.Equal(t, Revnum(0), youngest)

	root, err := repo.OpenRevisionRoot(0)
	require.NoError(t, err)
	assert.Equal(t, KindDir, root.Root().Kind)

	listing, err := root.ReadDir("/")
	require.NoError(t, err)
	assert.Equal(t, 0, listing.Len())
}

func TestCommitRoundTrip(t *testing.T) {
	repo := createTestRepo(t, MaxFormat)

	txn, err := BeginTxn(repo, 0)
	require.NoError(t, err)
	require.NoError(t, txn.MakeDir("/trunk"))
	require.NoError(t, txn.MakeFile("/trunk/hello.txt"))
	require.NoError(t, txn.SetFileContents("/trunk/hello.txt", []byte("hello, world")))

	props := NewProperties()
	props.Set("svn:mime-type", "text/plain")
	require.NoError(t, txn.SetProperties("/trunk/hello.txt", props))

	revprops := NewProperties()
	revprops.Set("svn:author", "tester")
	revprops.Set("svn:log", "initial import")

	rev, err := Commit(context.Background(), txn, nil, revprops)
	require.NoError(t, err)
	assert.Equal(t, Revnum(1), rev)

	youngest, err := repo.Youngest()
	require.NoError(t, err)
	assert.Equal(t, Revnum(1), youngest)

	root, err := repo.OpenRevisionRoot(1)
	require.NoError(t, err)

	content, err := root.ReadFile("/trunk/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(content))

	gotProps, err := root.Properties("/trunk/hello.txt")
	require.NoError(t, err)
	v, ok := gotProps.Get("svn:mime-type")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", v)

	revProps, err := repo.RevisionProperties(1)
	require.NoError(t, err)
	author, ok := revProps.Get("svn:author")
	assert.True(t, ok)
	assert.Equal(t, "tester", author)

	listing, err := root.ReadDir("/trunk")
	require.NoError(t, err)
	assert.Equal(t, 1, listing.Len())
	entry, ok := listing.Get("hello.txt")
	assert.True(t, ok)
	assert.Equal(t, KindFile, entry.Kind)
}

func TestCommitRejectsOutOfDateTransaction(t *testing.T) {
	repo := createTestRepo(t, MaxFormat)

	txnA, err := BeginTxn(repo, 0)
	require.NoError(t, err)
	require.NoError(t, txnA.MakeFile("/a.txt"))

	txnB, err := BeginTxn(repo, 0)
	require.NoError(t, err)
	require.NoError(t, txnB.MakeFile("/b.txt"))

	_, err = Commit(context.Background(), txnA, nil, nil)
	require.NoError(t, err)

	_, err = Commit(context.Background(), txnB, nil, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindOutOfDate))
}

func TestCommitRecordsNodeOriginsOnCopy(t *testing.T) {
	repo := createTestRepo(t, MaxFormat)

	txn1, err := BeginTxn(repo, 0)
	require.NoError(t, err)
	require.NoError(t, txn1.MakeFile("/a.txt"))
	require.NoError(t, txn1.SetFileContents("/a.txt", []byte("v1")))
	rev1, err := Commit(context.Background(), txn1, nil, nil)
	require.NoError(t, err)

	srcRoot, err := repo.OpenRevisionRoot(rev1)
	require.NoError(t, err)
	origNode, err := srcRoot.NodeRevisionAt("/a.txt")
	require.NoError(t, err)

	txn2, err := BeginTxn(repo, rev1)
	require.NoError(t, err)
	require.NoError(t, txn2.CopyFrom(srcRoot, "/a.txt", "/b.txt"))
	rev2, err := Commit(context.Background(), txn2, nil, nil)
	require.NoError(t, err)

	dstRoot, err := repo.OpenRevisionRoot(rev2)
	require.NoError(t, err)
	copiedNode, err := dstRoot.NodeRevisionAt("/b.txt")
	require.NoError(t, err)

	origin, ok := repo.Origins.Get(copiedNode.ID.NodeID)
	require.True(t, ok)
	assert.Equal(t, origNode.ID.NodeID, origin)
}

func TestAbortTxnLeavesYoungestUnchanged(t *testing.T) {
	repo := createTestRepo(t, MaxFormat)
	txn, err := BeginTxn(repo, 0)
	require.NoError(t, err)
	require.NoError(t, txn.MakeFile("/scratch.txt"))
	require.NoError(t, txn.AbortTxn())

	youngest, err := repo.Youngest()
	require.NoError(t, err)
	assert.Equal(t, Revnum(0), youngest)
}

func TestDatedRevisionBisection(t *testing.T) {
	repo := createTestRepo(t, MaxFormat)

	var stamps []time.Time
	for i := 0; i < 3; i++ {
		txn, err := BeginTxn(repo, Revnum(i))
		require.NoError(t, err)
		require.NoError(t, txn.MakeFile("/f"+string(rune('0'+i))))
		revprops := NewProperties()
		stamp := time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC)
		revprops.Set("svn:date", stamp.Format(time.RFC3339Nano))
		_, err = Commit(context.Background(), txn, nil, revprops)
		require.NoError(t, err)
		stamps = append(stamps, stamp)
	}

	rev, err := repo.DatedRevision(stamps[1].Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Revnum(2), rev)

	rev, err = repo.DatedRevision(stamps[0].Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Revnum(0), rev, "a date before the earliest commit clamps to revision 0")
}

func TestDeletedRevisionFindsDeletion(t *testing.T) {
	repo := createTestRepo(t, MaxFormat)

	txn, err := BeginTxn(repo, 0)
	require.NoError(t, err)
	require.NoError(t, txn.MakeFile("/a.txt"))
	rev1, err := Commit(context.Background(), txn, nil, nil)
	require.NoError(t, err)

	txn2, err := BeginTxn(repo, rev1)
	require.NoError(t, err)
	require.NoError(t, txn2.MakeFile("/b.txt"))
	rev2, err := Commit(context.Background(), txn2, nil, nil)
	require.NoError(t, err)

	txn3, err := BeginTxn(repo, rev2)
	require.NoError(t, err)
	require.NoError(t, txn3.Delete("/a.txt"))
	rev3, err := Commit(context.Background(), txn3, nil, nil)
	require.NoError(t, err)

	deletedAt, err := repo.DeletedRevision("/a.txt", rev1, rev3)
	require.NoError(t, err)
	assert.Equal(t, rev3, deletedAt)

	// an inverted range is reordered ascending rather than rejected.
	deletedAt, err = repo.DeletedRevision("/a.txt", rev3, rev1)
	require.NoError(t, err)
	assert.Equal(t, rev3, deletedAt)
}

func TestFileRevisionsCollapsesUnchangedSteps(t *testing.T) {
	repo := createTestRepo(t, MaxFormat)

	txn, err := BeginTxn(repo, 0)
	require.NoError(t, err)
	require.NoError(t, txn.MakeFile("/a.txt"))
	require.NoError(t, txn.SetFileContents("/a.txt", []byte("v1")))
	rev1, err := Commit(context.Background(), txn, nil, nil)
	require.NoError(t, err)

	txn2, err := BeginTxn(repo, rev1)
	require.NoError(t, err)
	require.NoError(t, txn2.MakeFile("/unrelated.txt"))
	rev2, err := Commit(context.Background(), txn2, nil, nil)
	require.NoError(t, err)

	txn3, err := BeginTxn(repo, rev2)
	require.NoError(t, err)
	require.NoError(t, txn3.SetFileContents("/a.txt", []byte("v2")))
	rev3, err := Commit(context.Background(), txn3, nil, nil)
	require.NoError(t, err)

	chunks, err := repo.FileRevisions("/a.txt", 0, rev3)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, rev1, chunks[0].Revision)
	assert.Equal(t, rev3, chunks[1].Revision)
}

func TestCommitRejectsRootPredecessorCountMismatch(t *testing.T) {
	repo := createTestRepo(t, MaxFormat)

	txn, err := BeginTxn(repo, 0)
	require.NoError(t, err)
	require.NoError(t, txn.MakeFile("/a.txt"))

	// Corrupt the transaction's own bookkeeping so it disagrees with the
	// real on-disk head root's predecessor-count.
	txn.nodes[txn.rootKey].PredecessorCount += 5

	_, err = Commit(context.Background(), txn, nil, nil)
	assert.Error(t, err)
	assert.True(t, IsKind(err, KindCorrupt))
}
