package fsfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase36RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 35, 36, 1295, 1296, 999999999999}
	for _, n := range cases {
		n := n
		t.Run(base36Encode(n), func(t *testing.T) {
			t.Parallel()
			got, err := base36Decode(base36Encode(n))
			require.NoError(t, err)
			assert.Equal(t, n, got)
		})
	}
}

func TestTxnIDBaseRev(t *testing.T) {
	id := NewTxnID(Revnum(42), 7)
	assert.Equal(t, TxnID("42-7"), id)

	base, err := id.BaseRev()
	require.NoError(t, err)
	assert.Equal(t, Revnum(42), base)

	_, err = TxnID("malformed").BaseRev()
	assert.Error(t, err)
}

func TestIDUnparseParseRoundTrip(t *testing.T) {
	cases := []ID{
		{NodeID: "0", CopyID: "0", Rev: 0, Offset: 0},
		{NodeID: "17-3", CopyID: "0", Rev: 5, Offset: 128},
		{NodeID: "_0", CopyID: "_1", Rev: NoRevision, Txn: TxnID("5-2")},
	}
	for _, want := range cases {
		t.Run(want.Unparse(), func(t *testing.T) {
			t.Parallel()
			s := want.Unparse()
			got, err := ParseID(s)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			assert.Equal(t, s, got.String())
		})
	}
}

func TestParseIDRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "nodotshere", "a.b", "a.b.", "a.b.xfoo", "a.b.r1"} {
		_, err := ParseID(s)
		assert.Errorf(t, err, "expected error parsing %q", s)
	}
}

func TestIDAllocatorMarshalRoundTrip(t *testing.T) {
	a := newIDAllocator()
	a.NewNodeID()
	a.NewNodeID()
	a.NewCopyID()

	round, err := parseIDAllocator(a.marshal())
	require.NoError(t, err)
	assert.Equal(t, a.nextNode, round.nextNode)
	assert.Equal(t, a.nextCopy, round.nextCopy)
}

func TestIsTxnScoped(t *testing.T) {
	assert.True(t, isTxnScoped("_0"))
	assert.False(t, isTxnScoped("17-3"))
}

func TestCommittedNodeID(t *testing.T) {
	assert.Equal(t, "0-5", committedNodeID("_0", Revnum(5)))
}
