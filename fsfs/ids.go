package fsfs

import (
	"strconv"
	"strings"
)

// base36 counters are how the engine mints node-IDs, copy-IDs and the
// repository-wide transaction counter (spec §4.1). Kept as plain
// uint64-backed strings rather than a dedicated bignum type: the counters
// are monotonic and small enough to live in a machine word for the
// lifetime of any one repository this implementation will ever manage.

func base36Encode(n uint64) string {
	if n == 0 {
		return "0"
	}
	return strconv.FormatUint(n, 36)
}

func base36Decode(s string) (uint64, error) {
	return strconv.ParseUint(s, 36, 64)
}

// TxnID identifies an in-progress commit: "<base-rev>-<base36-counter>".
type TxnID string

// NewTxnID forms a transaction ID as per spec §4.1/§6.
func NewTxnID(baseRev Revnum, counter uint64) TxnID {
	return TxnID(strconv.FormatInt(int64(baseRev), 10) + "-" + base36Encode(counter))
}

func (t TxnID) String() string { return string(t) }

// BaseRev extracts the base revision encoded in the transaction ID.
func (t TxnID) BaseRev() (Revnum, error) {
	parts := strings.SplitN(string(t), "-", 2)
	if len(parts) != 2 {
		return 0, corruptf("malformed transaction id: %s", t)
	}
	n, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, corruptf("malformed transaction id: %s", t)
	}
	return Revnum(n), nil
}

// Revnum is a committed revision number. Revision 0 is the empty root
// created at repository init.
type Revnum int64

const NoRevision Revnum = -1

// ID is the (node-id, copy-id, revision-or-transaction) triple that
// addresses a node revision (spec §3). Exactly one of Txn or (Rev valid)
// is set, matching the invariant that an ID never carries both forms.
type ID struct {
	NodeID string
	CopyID string
	Rev    Revnum // NoRevision when this is a transaction-form ID
	Offset int64  // valid only when Rev >= 0
	Txn    TxnID  // valid only when Rev == NoRevision
}

// IsTxn reports whether this ID is still in transaction form.
func (id ID) IsTxn() bool { return id.Rev == NoRevision }

// Unparse renders the ID per spec §6: "node-id.copy-id.r<rev>/<offset>"
// or "node-id.copy-id.t<txn>".
func (id ID) Unparse() string {
	var tail string
	if id.IsTxn() {
		tail = "t" + string(id.Txn)
	} else {
		tail = "r" + strconv.FormatInt(int64(id.Rev), 10) + "/" + strconv.FormatInt(id.Offset, 10)
	}
	return id.NodeID + "." + id.CopyID + "." + tail
}

func (id ID) String() string { return id.Unparse() }

// ParseID parses the unparse form produced above; used when reading
// node-rev headers and change records back off disk.
func ParseID(s string) (ID, error) {
	first := strings.IndexByte(s, '.')
	if first < 0 {
		return ID{}, corruptf("invalid id syntax: %s", s)
	}
	rest := s[first+1:]
	second := strings.IndexByte(rest, '.')
	if second < 0 {
		return ID{}, corruptf("invalid id syntax: %s", s)
	}
	nodeID, copyID, tail := s[:first], rest[:second], rest[second+1:]
	if nodeID == "" || copyID == "" || tail == "" {
		return ID{}, corruptf("invalid id syntax: %s", s)
	}

	switch tail[0] {
	case 't':
		return ID{NodeID: nodeID, CopyID: copyID, Rev: NoRevision, Txn: TxnID(tail[1:])}, nil
	case 'r':
		slash := strings.IndexByte(tail, '/')
		if slash < 0 {
			return ID{}, corruptf("invalid id syntax: %s", s)
		}
		rev, err := strconv.ParseInt(tail[1:slash], 10, 64)
		if err != nil {
			return ID{}, corruptf("invalid revision in id: %s", s)
		}
		off, err := strconv.ParseInt(tail[slash+1:], 10, 64)
		if err != nil {
			return ID{}, corruptf("invalid offset in id: %s", s)
		}
		return ID{NodeID: nodeID, CopyID: copyID, Rev: Revnum(rev), Offset: off}, nil
	default:
		return ID{}, corruptf("invalid id syntax: %s", s)
	}
}

// idAllocator mints fresh "_"-prefixed node/copy IDs within a single
// transaction. The repository-scoped counter that allocates transaction
// IDs themselves lives in db/txn-current, advanced by txn.go's
// tryAllocateTxnID under its own advisory lock (spec §4.1, §5 lock #2).
type idAllocator struct {
	nextNode uint64
	nextCopy uint64
}

func newIDAllocator() *idAllocator { return &idAllocator{} }

func (a *idAllocator) NewNodeID() string {
	id := "_" + base36Encode(a.nextNode)
	a.nextNode++
	return id
}

func (a *idAllocator) NewCopyID() string {
	id := "_" + base36Encode(a.nextCopy)
	a.nextCopy++
	return id
}

// marshal/unmarshal the "next-ids" file: "<node-counter> <copy-counter>".
func (a *idAllocator) marshal() string {
	return base36Encode(a.nextNode) + " " + base36Encode(a.nextCopy)
}

func parseIDAllocator(s string) (*idAllocator, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return nil, corruptf("malformed next-ids file: %q", s)
	}
	n, err := base36Decode(parts[0])
	if err != nil {
		return nil, corruptf("malformed next-ids node counter: %q", parts[0])
	}
	c, err := base36Decode(parts[1])
	if err != nil {
		return nil, corruptf("malformed next-ids copy counter: %q", parts[1])
	}
	return &idAllocator{nextNode: n, nextCopy: c}, nil
}

// isTxnScoped reports whether an id string (node-id or copy-id) was
// minted within a transaction and still needs rewriting at commit.
func isTxnScoped(id string) bool { return strings.HasPrefix(id, "_") }

// committedNodeID forms the permanent, no-global-IDs-format node ID from
// a transaction-scoped local ID and the revision it committed into
// (spec §4.1: "<localID>-<rev>").
func committedNodeID(localID string, rev Revnum) string {
	return strings.TrimPrefix(localID, "_") + "-" + strconv.FormatInt(int64(rev), 10)
}
