package fsfs

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateTxnIDRetriesOnLegacyCollision(t *testing.T) {
	repo := createTestRepo(t, 1)
	require.False(t, formatSupportsTxnCurrent(repo.Format.Version))

	// Pre-create the directory the very first counter value (0) would
	// produce, simulating a stale transaction directory that outlived a
	// restart under a pre-txn-current format.
	collide := NewTxnID(0, 0)
	require.NoError(t, os.MkdirAll(repo.transactionDir(collide), 0755))

	id, err := allocateTxnID(repo, 0)
	require.NoError(t, err)
	assert.NotEqual(t, collide, id, "collision must be retried with the next counter value")
}

func TestAllocateTxnIDRejectsCollisionOnCurrentFormat(t *testing.T) {
	repo := createTestRepo(t, MaxFormat)
	require.True(t, formatSupportsTxnCurrent(repo.Format.Version))

	collide := NewTxnID(0, 0)
	require.NoError(t, os.MkdirAll(repo.transactionDir(collide), 0755))

	_, err := allocateTxnID(repo, 0)
	assert.Error(t, err)
	assert.True(t, IsKind(err, KindCorrupt))
}
