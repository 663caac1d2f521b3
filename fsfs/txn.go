package fsfs

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/avast/retry-go/v4"
)

// Transaction is an in-progress commit: a mutable overlay on top of
// BaseRev, following the copy-on-write rule spec §4.1/§4.3 describes —
// touching a path clones every directory from the root down to that
// path into transaction-owned node revisions, in place in this
// Transaction's own bookkeeping, and only materializes final node-rev
// records into the proto-revision file when Commit walks the tree.
//
// Unlike a committed ID, a transaction-form ID never carries an offset
// (spec §3: "node-id.copy-id.t<txn>"), so a node touched more than once
// in the same transaction keeps one stable identity throughout; nodeKey
// (node-id + "." + copy-id) is what this type uses internally to find
// that identity's current state.
type Transaction struct {
	repo    *Repository
	ID      TxnID
	BaseRev Revnum

	ids *idAllocator

	protoFile  *os.File
	protoLock  *fileLock
	nextOffset int64

	nodes   map[string]*NodeRevision // nodeKey -> current header state
	dirs    map[string]*Directory    // nodeKey -> current listing, directories only
	paths   map[string]string        // path -> nodeKey, every path touched this txn
	rootKey string

	changesFile *os.File
	changes     []*Change

	txnReps         map[string]*Representation // sha1 hex -> rep already written this txn
	pendingRepCache []pendingRepCacheRow
	pendingOrigins  map[string]string // node-id -> origin node-id, for newly-minted identities this txn
}

func nodeKey(id ID) string { return id.NodeID + "." + id.CopyID }

// BeginTxn opens a new transaction rooted at baseRev (spec §4.1
// "begin-txn"): it allocates a transaction ID off the repository's
// txn-current counter, creates the proto-revision file, the changes
// log, the next-ids counter file, and clones baseRev's root directory
// into transaction-owned form.
func BeginTxn(repo *Repository, baseRev Revnum) (*Transaction, error) {
	youngest, err := repo.Youngest()
	if err != nil {
		return nil, err
	}
	if baseRev < 0 || baseRev > youngest {
		return nil, newErr(KindNoSuchRevision, "no such revision %d", baseRev)
	}

	txnID, err := allocateTxnID(repo, baseRev)
	if err != nil {
		return nil, err
	}

	txnDir := repo.transactionDir(txnID)
	if err := os.MkdirAll(txnDir, 0777); err != nil {
		return nil, ioErrf(err, txnDir)
	}
	if formatSupportsProtoRevDir(repo.Format.Version) {
		if err := os.MkdirAll(filepath.Join(repo.Path, "db", "txn-protorevs"), 0777); err != nil {
			return nil, ioErrf(err, "db/txn-protorevs")
		}
	}

	protoPath := repo.protoRevPath(txnID)
	protoFile, err := os.OpenFile(protoPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, ioErrf(err, protoPath)
	}
	if err := ensureFile(repo.protoRevLockPath(txnID)); err != nil {
		protoFile.Close()
		return nil, err
	}
	changesPath := filepath.Join(txnDir, "changes")
	changesFile, err := os.OpenFile(changesPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		protoFile.Close()
		return nil, ioErrf(err, changesPath)
	}
	if err := writeNewFile(filepath.Join(txnDir, "next-ids"), []byte("0 0\n")); err != nil {
		protoFile.Close()
		changesFile.Close()
		return nil, err
	}

	t := &Transaction{
		repo: repo, ID: txnID, BaseRev: baseRev,
		ids:       newIDAllocator(),
		protoFile: protoFile, protoLock: newFileLock(repo.protoRevLockPath(txnID)),
		nodes: map[string]*NodeRevision{}, dirs: map[string]*Directory{}, paths: map[string]string{},
		changesFile: changesFile,
		txnReps:     map[string]*Representation{},
		pendingOrigins: map[string]string{},
	}

	rootRoot, err := repo.OpenRevisionRoot(baseRev)
	if err != nil {
		t.protoFile.Close()
		t.changesFile.Close()
		return nil, err
	}
	oldRoot := rootRoot.Root()
	rootID := ID{NodeID: oldRoot.ID.NodeID, CopyID: oldRoot.ID.CopyID, Rev: NoRevision, Txn: txnID}
	key := nodeKey(rootID)
	oldID := oldRoot.ID
	newRoot := &NodeRevision{
		ID: rootID, Kind: KindDir,
		PredecessorID: &oldID, PredecessorCount: oldRoot.PredecessorCount + 1,
		CreatedPath: "/", CopyFromRev: NoRevision,
		CopyRootRev: oldRoot.CopyRootRev, CopyRootPath: oldRoot.CopyRootPath,
		IsFreshTxnRoot: true,
		TextRep:        oldRoot.TextRep,
		PropsRep:       oldRoot.PropsRep,
	}
	t.nodes[key] = newRoot
	t.rootKey = key
	t.paths["/"] = key
	dir, err := repo.readDirectory(oldRoot)
	if err != nil {
		t.protoFile.Close()
		t.changesFile.Close()
		return nil, err
	}
	t.dirs[key] = dir.Clone()

	return t, nil
}

// allocateTxnID mints the next transaction id off the repository's
// txn-current counter, under the txn-counter-lock (spec §4.1, §5 lock
// #2).
//
// Current-format repositories never reuse a transaction id: the counter
// only moves forward, so a directory collision at that id means real
// corruption. Legacy formats predate txn-current and are tolerant of the
// occasional collision (an old aborted transaction's directory that
// outlived a restart, say), so for them a collision is retried with the
// next counter value instead of failing outright (spec §4.1).
func allocateTxnID(repo *Repository, baseRev Revnum) (TxnID, error) {
	legacy := !formatSupportsTxnCurrent(repo.Format.Version)

	var txnID TxnID
	err := retry.Do(
		func() error {
			id, collided, err := tryAllocateTxnID(repo, baseRev)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if collided {
				if !legacy {
					return retry.Unrecoverable(newErr(KindCorrupt, "transaction id %s already in use", id))
				}
				return errf("transaction id %s collided with an existing directory, retrying", id)
			}
			txnID = id
			return nil
		},
		retry.Attempts(8),
		retry.DelayType(retry.BackOffDelay),
	)
	if err != nil {
		return "", err
	}
	return txnID, nil
}

// tryAllocateTxnID advances the txn-current counter once and reports
// whether the id it produced already has a transaction directory on
// disk.
func tryAllocateTxnID(repo *Repository, baseRev Revnum) (TxnID, bool, error) {
	if err := repo.txnCounterLock.Lock(); err != nil {
		return "", false, err
	}
	defer repo.txnCounterLock.Unlock()

	path := filepath.Join(repo.Path, "db", "txn-current")
	data, err := os.ReadFile(path)
	counter := uint64(0)
	if err == nil {
		n, perr := base36Decode(strings.TrimSpace(string(data)))
		if perr == nil {
			counter = n
		}
	} else if !os.IsNotExist(err) {
		return "", false, ioErrf(err, path)
	}

	next := counter + 1
	if err := atomicReplace(path, func(w io.Writer) error {
		_, err := w.Write([]byte(base36Encode(next) + "\n"))
		return err
	}, 0644); err != nil {
		return "", false, err
	}
	id := NewTxnID(baseRev, counter)
	return id, dirExists(repo.transactionDir(id)), nil
}

// resolveMutable walks path from the root, cloning each ancestor
// directory into transaction-owned form as it goes, and returns the
// final component's nodeKey. If the leaf does not exist: when create is
// false this is an error; when true a node of kind leafKind is minted
// as a new child of the (now mutable) parent directory.
func (t *Transaction) resolveMutable(path string, create bool, leafKind NodeKind) (string, error) {
	path = "/" + strings.Trim(path, "/")
	if path == "/" {
		return t.rootKey, nil
	}
	parts := splitPathComponents(path)

	parentKey := t.rootKey
	cur := "/"
	for i, part := range parts {
		childPath := cur
		if childPath != "/" {
			childPath += "/"
		}
		childPath += part
		isLeaf := i == len(parts)-1

		dir := t.dirs[parentKey]
		entry, ok := dir.Get(part)

		var childKey string
		switch {
		case ok && isLeaf && create:
			return "", newErr(KindCorrupt, "already exists: %s", childPath)
		case !ok && isLeaf && create:
			newID := ID{NodeID: t.ids.NewNodeID(), CopyID: t.ids.NewCopyID(), Rev: NoRevision, Txn: t.ID}
			childKey = nodeKey(newID)
			t.nodes[childKey] = &NodeRevision{
				ID: newID, Kind: leafKind, CreatedPath: childPath, CopyFromRev: NoRevision,
				CopyRootRev: t.nodes[t.rootKey].CopyRootRev, CopyRootPath: t.nodes[t.rootKey].CopyRootPath,
			}
			if leafKind == KindDir {
				t.dirs[childKey] = NewDirectory()
			}
			t.pendingOrigins[newID.NodeID] = newID.NodeID
			dir.Set(part, leafKind, newID)
			if err := t.addChange(childPath, newID, ChangeAdd, leafKind, true, leafKind != KindDir, NoRevision, ""); err != nil {
				return "", err
			}
		case !ok:
			return "", newErr(KindCorrupt, "no such path: %s", path)
		case isTxnScoped(entry.ID.NodeID):
			childKey = nodeKey(entry.ID)
		default:
			old, err := t.repo.readNodeRevision(entry.ID)
			if err != nil {
				return "", err
			}
			oldID := old.ID
			newID := ID{NodeID: old.ID.NodeID, CopyID: old.ID.CopyID, Rev: NoRevision, Txn: t.ID}
			childKey = nodeKey(newID)
			t.nodes[childKey] = &NodeRevision{
				ID: newID, Kind: old.Kind,
				PredecessorID: &oldID, PredecessorCount: old.PredecessorCount + 1,
				CreatedPath: old.CreatedPath, CopyFromRev: old.CopyFromRev, CopyFromPath: old.CopyFromPath,
				CopyRootRev: old.CopyRootRev, CopyRootPath: old.CopyRootPath,
				TextRep: old.TextRep, PropsRep: old.PropsRep,
			}
			if old.Kind == KindDir {
				oldDir, err := t.repo.readDirectory(old)
				if err != nil {
					return "", err
				}
				t.dirs[childKey] = oldDir.Clone()
			}
			dir.Set(part, old.Kind, newID)
		}

		t.paths[childPath] = childKey
		parentKey = childKey
		cur = childPath
	}
	return parentKey, nil
}

func (t *Transaction) addChange(path string, id ID, kind ChangeKind, node NodeKind, textMod, propMod bool, copyFromRev Revnum, copyFromPath string) error {
	c := &Change{Path: path, ID: id, Kind: kind, Node: node, TextMod: textMod, PropMod: propMod,
		CopyFromRev: copyFromRev, CopyFromPath: copyFromPath}
	t.changes = append(t.changes, c)
	return c.Encode(t.changesFile)
}

// MakeDir creates an empty directory at path (spec §3 "add").
func (t *Transaction) MakeDir(path string) error {
	_, err := t.resolveMutable(path, true, KindDir)
	return err
}

// MakeFile creates an empty file at path.
func (t *Transaction) MakeFile(path string) error {
	_, err := t.resolveMutable(path, true, KindFile)
	return err
}

// Delete removes path from its parent directory and records the
// removal as a change. Sub-path pruning of anything folded underneath
// happens at commit via FoldChanges; this method only needs to record
// one delete at path itself (spec §4.5).
func (t *Transaction) Delete(path string) error {
	path = "/" + strings.Trim(path, "/")
	if path == "/" {
		return newErr(KindCorrupt, "cannot delete the root")
	}
	parentPath := path[:strings.LastIndex(path, "/")]
	if parentPath == "" {
		parentPath = "/"
	}
	name := path[strings.LastIndex(path, "/")+1:]

	parentKey, err := t.resolveMutable(parentPath, false, 0)
	if err != nil {
		return err
	}
	dir := t.dirs[parentKey]
	entry, ok := dir.Get(name)
	if !ok {
		return newErr(KindCorrupt, "no such path: %s", path)
	}
	dir.Remove(name)
	delete(t.paths, path)
	return t.addChange(path, entry.ID, ChangeDelete, entry.Kind, false, false, NoRevision, "")
}

// SetFileContents deltifies/stores content as path's new text
// representation, consulting rep-sharing before writing any new bytes
// (spec §4.2, §4.4 step 13).
func (t *Transaction) SetFileContents(path string, content []byte) error {
	key, err := t.resolveMutable(path, false, 0)
	if err != nil {
		return err
	}
	node := t.nodes[key]
	if node.Kind != KindFile {
		return newErr(KindCorrupt, "%s is not a file", path)
	}
	rep, err := t.writeRepresentation(content, node, false)
	if err != nil {
		return err
	}
	node.TextRep = rep
	return t.addChange(path, node.ID, ChangeModify, KindFile, true, false, NoRevision, "")
}

// SetProperties replaces path's property list (spec §4.2: property
// representations never persist a SHA-1 and so never participate in
// rep-sharing).
func (t *Transaction) SetProperties(path string, props *Properties) error {
	key, err := t.resolveMutable(path, false, 0)
	if err != nil {
		return err
	}
	node := t.nodes[key]
	var buf bytes.Buffer
	if err := props.Encode(&buf); err != nil {
		return err
	}
	rep, err := t.writeRepresentation(buf.Bytes(), node, true)
	if err != nil {
		return err
	}
	node.PropsRep = rep
	return t.addChange(path, node.ID, ChangeModify, node.Kind, false, true, NoRevision, "")
}

// CopyFrom records a cheap copy: the destination node shares the
// source's representations outright and carries copyfrom/copyroot
// metadata rather than duplicating any bytes (spec §3 "copy").
func (t *Transaction) CopyFrom(srcRoot *RevisionRoot, srcPath, dstPath string) error {
	srcNode, err := srcRoot.NodeRevisionAt(srcPath)
	if err != nil {
		return err
	}
	dst := "/" + strings.Trim(dstPath, "/")
	parentPath := dst[:strings.LastIndex(dst, "/")]
	if parentPath == "" {
		parentPath = "/"
	}
	name := dst[strings.LastIndex(dst, "/")+1:]

	parentKey, err := t.resolveMutable(parentPath, false, 0)
	if err != nil {
		return err
	}
	dir := t.dirs[parentKey]
	if _, exists := dir.Get(name); exists {
		return newErr(KindCorrupt, "copy destination already exists: %s", dstPath)
	}

	newID := ID{NodeID: t.ids.NewNodeID(), CopyID: t.ids.NewCopyID(), Rev: NoRevision, Txn: t.ID}
	key := nodeKey(newID)
	t.nodes[key] = &NodeRevision{
		ID: newID, Kind: srcNode.Kind, CreatedPath: dst,
		CopyFromRev: srcRoot.rev, CopyFromPath: srcPath,
		CopyRootRev: srcRoot.rev, CopyRootPath: srcPath,
		TextRep: srcNode.TextRep, PropsRep: srcNode.PropsRep,
	}
	if srcNode.Kind == KindDir {
		srcDir, err := t.repo.readDirectory(srcNode)
		if err != nil {
			return err
		}
		t.dirs[key] = srcDir.Clone()
	}
	origin, ok := t.repo.Origins.Get(srcNode.ID.NodeID)
	if !ok {
		origin = srcNode.ID.NodeID
	}
	t.pendingOrigins[newID.NodeID] = origin
	dir.Set(name, srcNode.Kind, newID)
	t.paths[dst] = key
	return t.addChange(dst, newID, ChangeAdd, srcNode.Kind, false, false, srcRoot.rev, srcPath)
}

// writeRepresentation consults rep-sharing, then (on a miss) selects a
// delta base per spec §4.2 and appends the representation body to the
// proto-revision file under the proto-rev writer lock. node is the
// mutable node-revision the new representation will belong to, supplying
// the predecessor chain a DELTA base is chosen from.
func (t *Transaction) writeRepresentation(content []byte, node *NodeRevision, omitSHA1 bool) (*Representation, error) {
	predCount := node.PredecessorCount
	sum := sha1.Sum(content)
	sumHex := hex.EncodeToString(sum[:])

	if !omitSHA1 && t.repo.Config.EnableRepSharing {
		if shared, ok := t.txnReps[sumHex]; ok {
			return shared, nil
		}
		if shared, ok := t.repo.RepCache.Lookup(context.Background(), sum); ok {
			shared.HasSHA1 = true
			shared.SHA1 = sum
			t.txnReps[sumHex] = shared
			return shared, nil
		}
	}

	locked, err := t.protoLock.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, newErr(KindRepresentationLocked, "proto-revision %s is locked by another writer", t.ID)
	}
	defer t.protoLock.Unlock()

	sel := selectDeltaBase(predCount, t.repo.Config)
	rep := &Representation{Rev: NoRevision, TxnID: t.ID, ExpandedSize: int64(len(content)), MD5: md5.Sum(content)}
	if !omitSHA1 {
		rep.SHA1 = sum
		rep.HasSHA1 = true
	}

	var payload []byte
	if !sel.UseBase {
		rep.Kind = RepPlain
		payload = content
	} else {
		baseRep, err := t.ancestorRep(node, predCount, sel.AncestorPredCount, omitSHA1)
		if err != nil {
			return nil, err
		}
		if baseRep == nil || baseRep.IsMutable() {
			rep.Kind = RepPlain
			payload = content
		} else if sel.AncestorPredCount != predCount-1 {
			hops, err := chainLength(t.repo, baseRep.Rev, baseRep.Offset, maxChainLength(t.repo.Config))
			if err == nil && hops+1 > maxChainLength(t.repo.Config) {
				rep.Kind = RepPlain
				payload = content
			}
		}
		if payload == nil {
			baseFulltext, err := t.repo.readFulltext(baseRep)
			if err != nil {
				return nil, err
			}
			rep.Kind = RepDelta
			rep.BaseRev, rep.BaseOffset, rep.BaseLen = baseRep.Rev, baseRep.Offset, baseRep.Size
			payload = encodeDelta(content, baseFulltext)
		}
	}

	rep.Offset = t.nextOffset
	rep.Size = int64(len(payload))
	n, err := writeRepBody(t.protoFile, rep, payload)
	if err != nil {
		return nil, err
	}
	t.nextOffset += n

	if !omitSHA1 && t.repo.Config.EnableRepSharing {
		t.txnReps[sumHex] = rep
		t.pendingRepCache = append(t.pendingRepCache, pendingRepCacheRow{SHA1: sum, Rep: rep})
	}
	return rep, nil
}

// ancestorRep returns the representation (text, or props when omitSHA1
// is true) belonging to the ancestor node-revision whose
// predecessor-count equals target, resolved by walking node's own
// predecessor chain currentCount-target hops (spec §4.2's c = p & (p-1)
// base rule: AncestorPredCount already encodes how many hops that is
// from currentCount).
func (t *Transaction) ancestorRep(node *NodeRevision, currentCount, target int, omitSHA1 bool) (*Representation, error) {
	if node.PredecessorID == nil {
		return nil, corruptf("no predecessor chain to select a delta base from")
	}
	steps := currentCount - target
	id := node.PredecessorID
	var ancestor *NodeRevision
	for i := 0; i < steps; i++ {
		if id == nil {
			return nil, corruptf("predecessor chain exhausted selecting delta base")
		}
		n, err := t.repo.readNodeRevision(*id)
		if err != nil {
			return nil, err
		}
		ancestor = n
		id = n.PredecessorID
	}
	if ancestor == nil {
		return nil, corruptf("predecessor chain exhausted selecting delta base")
	}
	if omitSHA1 {
		return ancestor.PropsRep, nil
	}
	return ancestor.TextRep, nil
}

// AbortTxn discards a transaction: closes its files and removes its
// directory tree (spec §4.1 "abort-txn").
func (t *Transaction) AbortTxn() error {
	t.protoFile.Close()
	t.changesFile.Close()
	dir := t.repo.transactionDir(t.ID)
	if err := os.RemoveAll(dir); err != nil {
		return ioErrf(err, dir)
	}
	os.Remove(t.repo.protoRevPath(t.ID))
	os.Remove(t.repo.protoRevLockPath(t.ID))
	return nil
}

func (t *Transaction) changesSnapshot() []*Change {
	out := make([]*Change, len(t.changes))
	copy(out, t.changes)
	return out
}

// readDirectoryListing returns a node's pending entries regardless of
// whether it is a fresh or cloned directory. commit.go reads t.dirs
// directly and does not call it.
func (t *Transaction) readDirectoryListing(key string) *Directory { return t.dirs[key] }
