package fsfs

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// fileSection is an io.Writer over a fixed byte offset in f, advancing
// its own logical cursor rather than the file's shared one. commit.go
// writes directory bodies, node-rev headers, the change list and the
// trailer at explicit offsets via WriteAt, since a plain sequential
// Write would otherwise race the cursor left behind by any WriteAt call
// made earlier in the same pass.
type fileSection struct {
	f   *os.File
	off int64
}

func (s *fileSection) Write(p []byte) (int, error) {
	n, err := s.f.WriteAt(p, s.off)
	s.off += int64(n)
	return n, err
}

// Commit runs the full commit pipeline against t: out-of-date check,
// lock verification, node-rev tree rewrite, change-list serialization,
// atomic publication, revprop write, youngest bump, transaction
// cleanup, and rep-cache/node-origins flush (spec §4.4's thirteen steps,
// collapsed here into the phases that actually need their own code).
//
// tokens supplies the lock tokens the caller holds, consulted wherever
// the change list touches a locked path; revprops is the revision's
// property list, which gets an "svn:date" stamped in if the caller
// didn't set one.
func Commit(ctx context.Context, t *Transaction, tokens map[string]string, revprops *Properties) (Revnum, error) {
	repo := t.repo

	if err := checkCancel(ctx); err != nil {
		return 0, err
	}

	// 0. the write lock serializes every commit against every other one
	// (spec §5 lock #1); held for the full pipeline below.
	if err := repo.writeLock.Lock(); err != nil {
		return 0, err
	}
	defer repo.writeLock.Unlock()

	// 1. refresh youngest, reject a transaction based on a stale revision.
	youngest, err := repo.RefreshYoungest()
	if err != nil {
		return 0, err
	}
	if t.BaseRev != youngest {
		return 0, newErr(KindOutOfDate, "transaction %s is based on r%d but youngest is r%d", t.ID, t.BaseRev, youngest)
	}

	// 2. lock verification.
	if err := repo.Locks.VerifyChanges(t.changesSnapshot(), tokens); err != nil {
		return 0, err
	}

	// validate the new root's predecessor-count against the real
	// on-disk head root, not just this transaction's own bookkeeping
	// (spec §4.4 step 5 / §7 "predecessor-count mismatch").
	headRoot, err := repo.OpenRevisionRoot(youngest)
	if err != nil {
		return 0, err
	}
	newRootRev := t.nodes[t.rootKey]
	if newRootRev.PredecessorCount != headRoot.Root().PredecessorCount+1 {
		return 0, corruptf("root node predecessor-count mismatch: got %d, expected %d",
			newRootRev.PredecessorCount, headRoot.Root().PredecessorCount+1)
	}

	// 3. reserve the revision number and its shard directory.
	newRev := youngest + 1
	unpackedPath := repo.revisionFilePathUnpacked(newRev)
	if err := os.MkdirAll(filepath.Dir(unpackedPath), 0777); err != nil {
		return 0, ioErrf(err, unpackedPath)
	}

	// 4. rewrite the node-rev tree, children before parents.
	tree := NewPathTree()
	for path, key := range t.paths {
		tree.Insert(path, key)
	}
	committed := map[string]ID{}
	nodeIDRemap := map[string]string{} // transaction-scoped node-id -> its permanent committed form
	var rootOffset int64 = -1

	for entry := range tree.Walk() {
		if err := checkCancel(ctx); err != nil {
			return 0, err
		}
		key := entry.Value.(string)
		node := t.nodes[key]

		if node.Kind == KindDir {
			dir := t.dirs[key].Clone()
			for _, name := range dir.Names() {
				e, _ := dir.Get(name)
				if e.ID.IsTxn() {
					cid, ok := committed[nodeKey(e.ID)]
					if !ok {
						return 0, corruptf("directory entry %q has no committed id for its child", name)
					}
					dir.Set(name, e.Kind, cid)
				}
			}
			var buf bytes.Buffer
			if err := dir.EncodePlain(&buf); err != nil {
				return 0, err
			}
			rep := &Representation{Rev: newRev, Kind: RepPlain, ExpandedSize: int64(buf.Len())}
			rep.Offset = t.nextOffset
			rep.Size = int64(buf.Len())
			sec := &fileSection{f: t.protoFile, off: t.nextOffset}
			n, err := writeRepBody(sec, rep, buf.Bytes())
			if err != nil {
				return 0, err
			}
			t.nextOffset += n
			node.TextRep = rep
		}

		if node.TextRep != nil && node.TextRep.IsMutable() {
			node.TextRep.Rev = newRev
		}
		if node.PropsRep != nil && node.PropsRep.IsMutable() {
			node.PropsRep.Rev = newRev
		}

		// Transaction-scoped node/copy ids ("_0", "_1", ...) only stay
		// unique for the lifetime of this transaction; a node minted by
		// an unrelated transaction starts its own counter from zero.
		// Rewrite them to the permanent "<local>-<rev>" form here so
		// node identity is unique across the whole repository once
		// committed, not just within one transaction (spec §4.1).
		finalNodeID, finalCopyID := node.ID.NodeID, node.ID.CopyID
		if isTxnScoped(finalNodeID) {
			finalNodeID = committedNodeID(finalNodeID, newRev)
			nodeIDRemap[node.ID.NodeID] = finalNodeID
		}
		if isTxnScoped(finalCopyID) {
			finalCopyID = committedNodeID(finalCopyID, newRev)
		}
		node.ID = ID{NodeID: finalNodeID, CopyID: finalCopyID, Rev: newRev, Offset: t.nextOffset}
		var hdr bytes.Buffer
		bw := bufio.NewWriter(&hdr)
		if err := node.Encode(bw); err != nil {
			return 0, err
		}
		bw.Flush()
		if _, err := t.protoFile.WriteAt(hdr.Bytes(), t.nextOffset); err != nil {
			return 0, ioErrf(err, "")
		}
		t.nextOffset += int64(hdr.Len())

		committed[key] = node.ID
		if key == t.rootKey {
			rootOffset = node.ID.Offset
		}
	}
	if rootOffset < 0 {
		return 0, corruptf("commit produced no root node revision")
	}

	// pendingOrigins was recorded with each node's transaction-scoped id
	// (and, for a fresh non-copy node, an equally transaction-scoped
	// origin pointing at itself); rewrite both sides to the permanent
	// ids the tree walk just minted above before it gets persisted.
	if len(nodeIDRemap) > 0 && len(t.pendingOrigins) > 0 {
		remapped := make(map[string]string, len(t.pendingOrigins))
		for nodeID, origin := range t.pendingOrigins {
			if final, ok := nodeIDRemap[nodeID]; ok {
				nodeID = final
			}
			if final, ok := nodeIDRemap[origin]; ok {
				origin = final
			}
			remapped[nodeID] = origin
		}
		t.pendingOrigins = remapped
	}

	// 6. fold and serialize the change list. Folded records still carry
	// whatever id they were stamped with while still in transaction form;
	// patch those that survived the tree walk over to their final
	// committed id (anything absent from committed was deleted out of the
	// tree before commit and keeps its last-known id, which is purely
	// informational for a delete record).
	folded, err := FoldChanges(t.changesSnapshot(), false)
	if err != nil {
		return 0, err
	}
	for _, c := range folded {
		if c.Kind != ChangeReset && c.ID.IsTxn() {
			if cid, ok := committed[nodeKey(c.ID)]; ok {
				c.ID = cid
			}
		}
	}
	changesOffset := t.nextOffset
	var changesBuf bytes.Buffer
	for _, c := range folded {
		if err := c.Encode(&changesBuf); err != nil {
			return 0, err
		}
	}
	if _, err := t.protoFile.WriteAt(changesBuf.Bytes(), t.nextOffset); err != nil {
		return 0, ioErrf(err, "")
	}
	t.nextOffset += int64(changesBuf.Len())

	// 7. trailer.
	trailer := strconv.FormatInt(rootOffset, 10) + " " + strconv.FormatInt(changesOffset, 10) + "\n"
	if _, err := t.protoFile.WriteAt([]byte(trailer), t.nextOffset); err != nil {
		return 0, ioErrf(err, "")
	}
	t.nextOffset += int64(len(trailer))

	// 8. close and publish the proto-revision file.
	protoPath := repo.protoRevPath(t.ID)
	if err := t.protoFile.Sync(); err != nil {
		t.protoFile.Close()
		return 0, ioErrf(err, protoPath)
	}
	if err := t.protoFile.Close(); err != nil {
		return 0, ioErrf(err, protoPath)
	}
	if prevPath := repo.revisionFilePathUnpacked(youngest); fileExists(prevPath) {
		clonePerm(prevPath, protoPath)
	}
	if err := os.Rename(protoPath, unpackedPath); err != nil {
		return 0, ioErrf(err, unpackedPath)
	}

	// 9. release the proto-rev writer lock resource.
	os.Remove(repo.protoRevLockPath(t.ID))

	// 10. write revprops, stamping svn:date if absent.
	if revprops == nil {
		revprops = NewProperties()
	}
	if _, ok := revprops.Get("svn:date"); !ok {
		revprops.Set("svn:date", time.Now().UTC().Format(time.RFC3339Nano))
	}
	revpropsPath := repo.revpropsFilePath(newRev)
	if err := os.MkdirAll(filepath.Dir(revpropsPath), 0777); err != nil {
		return 0, ioErrf(err, revpropsPath)
	}
	if err := atomicReplace(revpropsPath, revprops.Encode, 0666); err != nil {
		return 0, err
	}

	// 11. bump current.
	if err := WriteCurrent(filepath.Join(repo.Path, "db", "current"), &Current{Youngest: newRev}, repo.Format.Version); err != nil {
		return 0, err
	}
	repo.setYoungest(newRev)

	// 12. purge the transaction directory.
	os.RemoveAll(repo.transactionDir(t.ID))

	// 13. flush queued rep-cache rows.
	if repo.RepCache != nil && len(t.pendingRepCache) > 0 {
		repo.RepCache.Insert(context.Background(), t.pendingRepCache)
	}

	// 14. record any newly-minted node origins.
	if repo.Origins != nil && len(t.pendingOrigins) > 0 {
		if err := repo.Origins.RecordBatch(t.pendingOrigins); err != nil {
			return 0, err
		}
	}

	return newRev, nil
}
