package fsfs

import (
	"context"
	"os"
	"path/filepath"

	"github.com/avast/retry-go/v4"
)

const hotcopyMarkerName = "hotcopy-in-progress"

// HotCopy creates or incrementally refreshes a replica of the repository
// at srcPath inside dstPath (spec §4.7). A brand-new destination gets a
// full copy; an existing one only receives the revisions, revprops and
// shards it's missing, skipping anything sameFile already reports as
// identical. The source can keep committing underneath the copy: if its
// youngest revision advances while a pass is in flight, the whole pass
// restarts rather than leaving the destination in a revision gap.
func HotCopy(ctx context.Context, srcPath, dstPath string, diag Diagnostics) (Revnum, error) {
	if diag == nil {
		diag = discardDiagnostics{}
	}

	var result Revnum
	err := retry.Do(
		func() error {
			rev, restart, err := hotCopyPass(ctx, srcPath, dstPath, diag)
			if restart {
				diag.Report(DiagHotCopyRestart, "source advanced during copy, restarting pass",
					map[string]any{"copied_through": int64(rev)})
				return errf("hot-copy source advanced mid-pass, restarting")
			}
			if err != nil {
				return err
			}
			result = rev
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.DelayType(retry.BackOffDelay),
	)
	if err != nil {
		return 0, err
	}
	return result, nil
}

// hotCopyPass runs one attempt. restart==true means the source moved on
// while we were copying and the caller should retry from scratch; the
// work already on disk in dstPath still stands as a valid floor for the
// next attempt's sameFile skip checks.
func hotCopyPass(ctx context.Context, srcPath, dstPath string, diag Diagnostics) (rev Revnum, restart bool, err error) {
	if err := checkCancel(ctx); err != nil {
		return 0, false, err
	}

	src, err := OpenRepository(srcPath, diag)
	if err != nil {
		return 0, false, err
	}
	defer src.Close()

	startYoungest, err := src.Youngest()
	if err != nil {
		return 0, false, err
	}

	if !fileExists(filepath.Join(dstPath, "db", "format")) {
		if err := initHotCopyDestination(src, dstPath); err != nil {
			return 0, false, err
		}
	}

	dst, err := OpenRepository(dstPath, diag)
	if err != nil {
		return 0, false, err
	}
	defer dst.Close()

	if dst.UUID != src.UUID {
		return 0, false, newErr(KindCorrupt, "hot-copy destination uuid %s does not match source uuid %s", dst.UUID, src.UUID)
	}
	if dst.Format.Version != src.Format.Version {
		return 0, false, newErr(KindFormatUnsupported, "hot-copy destination format %d does not match source format %d", dst.Format.Version, src.Format.Version)
	}

	markerPath := filepath.Join(dstPath, "db", hotcopyMarkerName)
	if err := ensureFile(markerPath); err != nil {
		return 0, false, err
	}
	defer os.Remove(markerPath)

	dstYoungest, err := dst.Youngest()
	if err != nil {
		return 0, false, err
	}

	if err := copyMinUnpackedRev(src, dst); err != nil {
		return dstYoungest, false, err
	}

	if err := copyRevisionRange(ctx, src, dst, dstYoungest+1, startYoungest); err != nil {
		return dstYoungest, false, err
	}

	if err := copyNodeOrigins(src, dst); err != nil {
		return dstYoungest, false, err
	}

	if err := copyLocksAndRepCache(src, dst, startYoungest); err != nil {
		return dstYoungest, false, err
	}

	latest, err := src.RefreshYoungest()
	if err != nil {
		return startYoungest, false, err
	}
	if latest != startYoungest {
		return startYoungest, true, nil
	}
	return startYoungest, false, nil
}

// initHotCopyDestination lays down a brand-new destination tree, copying
// the identity and configuration files that must match the source
// exactly (format, uuid, fsfs.conf) rather than regenerating them, since
// a hot-copy is a replica of an existing repository, not a new one.
//
// The format stamp is written here rather than as the pass's final act:
// opening dst as a *Repository to drive the rest of the copy needs its
// layout up front. hotCopyPass's marker file is what actually guards
// against a reader trusting a half-built destination; its presence check
// in OpenRepository plays the role the source's own last-writes-the-
// format-stamp ordering plays there.
func initHotCopyDestination(src *Repository, dstPath string) error {
	for _, d := range []string{"db", "db/revs", "db/revprops", "db/transactions", "locks"} {
		if err := os.MkdirAll(filepath.Join(dstPath, d), 0777); err != nil {
			return ioErrf(err, d)
		}
	}
	if err := copyFile(filepath.Join(src.Path, "db", "uuid"), filepath.Join(dstPath, "db", "uuid")); err != nil {
		return err
	}
	if err := copyFile(filepath.Join(src.Path, "db", "fsfs.conf"), filepath.Join(dstPath, "db", "fsfs.conf")); err != nil {
		return err
	}
	if err := WriteFormat(filepath.Join(dstPath, "db", "format"), src.Format); err != nil {
		return err
	}
	if err := WriteCurrent(filepath.Join(dstPath, "db", "current"), &Current{Youngest: NoRevision}, src.Format.Version); err != nil {
		return err
	}
	if formatSupportsTxnCurrent(src.Format.Version) {
		if err := writeNewFile(filepath.Join(dstPath, "db", "txn-current"), []byte("0\n")); err != nil {
			return err
		}
	}
	return nil
}

// copyRevisionRange brings dst's revision content up through toRev,
// starting at fromRev. Packed shards are copied wholesale, once per
// shard; unpacked revisions are copied (and revprops always are, since
// this engine never packs revprops) one file at a time. dst's current
// file advances one revision at a time as each copy completes, so a
// hot-copy interrupted mid-range still leaves a destination that opens
// cleanly at whatever it managed to finish (spec §4.7 steps 4/6/7).
func copyRevisionRange(ctx context.Context, src, dst *Repository, fromRev, toRev Revnum) error {
	packedDone := map[Revnum]bool{}
	for r := fromRev; r <= toRev; r++ {
		if err := checkCancel(ctx); err != nil {
			return err
		}
		if formatSupportsPacking(src.Format.Version) && src.isPacked(r) {
			shard := src.shard(r)
			if !packedDone[shard] {
				packedDone[shard] = true
				if err := copyPackedShard(src, dst, shard); err != nil {
					return err
				}
			}
		} else if err := copyUnpackedRevision(src, dst, r); err != nil {
			return err
		}
		if err := copyRevpropsFile(src, dst, r); err != nil {
			return err
		}
		if err := WriteCurrent(filepath.Join(dst.Path, "db", "current"), &Current{Youngest: r}, dst.Format.Version); err != nil {
			return err
		}
		dst.setYoungest(r)
	}
	return nil
}

// copyMinUnpackedRev replicates the source's packing boundary onto dst,
// since a hot-copy that only copied pack files without this would leave
// dst believing nothing is packed (spec §4.7 step 3).
func copyMinUnpackedRev(src, dst *Repository) error {
	if !formatSupportsPacking(src.Format.Version) {
		return nil
	}
	m, err := src.MinUnpackedRev()
	if err != nil {
		return err
	}
	return dst.writeMinUnpackedRev(m)
}

// copyNodeOrigins replicates the node-id -> origin-node-id table
// verbatim (spec §4.7 step 9).
func copyNodeOrigins(src, dst *Repository) error {
	srcPath := filepath.Join(src.Path, "db", "node-origins")
	if !fileExists(srcPath) {
		return nil
	}
	dstPath := filepath.Join(dst.Path, "db", "node-origins")
	if sameFile(srcPath, dstPath) {
		return nil
	}
	if err := copyFile(srcPath, dstPath); err != nil {
		return err
	}
	origins, err := OpenNodeOrigins(dstPath)
	if err != nil {
		return err
	}
	dst.Origins = origins
	return nil
}

// copyPackedShard copies a whole <shard>.pack directory (its pack file
// and manifest together) from src to dst using billy's Filesystem
// capability rooted at each repository's path, rather than naming the
// two files individually, so the copy keeps working if a later format
// adds a third file to the shard directory.
func copyPackedShard(src, dst *Repository, shard Revnum) error {
	srcPack := filepath.Join(src.packDir(shard), "pack")
	dstPack := filepath.Join(dst.packDir(shard), "pack")
	if sameFile(srcPack, dstPack) {
		return nil
	}
	rel, err := filepath.Rel(src.Path, src.packDir(shard))
	if err != nil {
		return ioErrf(err, src.packDir(shard))
	}
	return billyCopyTree(osfsFor(src.Path), osfsFor(dst.Path), rel)
}

func copyUnpackedRevision(src, dst *Repository, rev Revnum) error {
	srcPath := src.revisionFilePathUnpacked(rev)
	dstPath := dst.revisionFilePathUnpacked(rev)
	if sameFile(srcPath, dstPath) {
		return nil
	}
	return copyFile(srcPath, dstPath)
}

func copyRevpropsFile(src, dst *Repository, rev Revnum) error {
	srcPath := src.revpropsFilePath(rev)
	if !fileExists(srcPath) {
		return nil
	}
	dstPath := dst.revpropsFilePath(rev)
	if sameFile(srcPath, dstPath) {
		return nil
	}
	return copyFile(srcPath, dstPath)
}

// copyLocksAndRepCache copies the lock table verbatim (a hot-copy replica
// has no business serving write traffic, but it should still report the
// locks that existed at the moment of the copy) and, for formats that
// carry one, the rep-cache database, purging whatever it references past
// upToRev in case the source raced ahead between the file copy and the
// revision-range copy above.
func copyLocksAndRepCache(src, dst *Repository, upToRev Revnum) error {
	srcLocks := filepath.Join(src.Path, "locks", "table")
	dstLocks := filepath.Join(dst.Path, "locks", "table")
	if fileExists(srcLocks) && !sameFile(srcLocks, dstLocks) {
		if err := copyFile(srcLocks, dstLocks); err != nil {
			return err
		}
	}

	if !formatSupportsRepSharing(src.Format.Version) {
		return nil
	}
	srcCache := filepath.Join(src.Path, "db", "rep-cache.db")
	if !fileExists(srcCache) {
		return nil
	}
	if dst.RepCache != nil {
		dst.RepCache.Close()
		dst.RepCache = nil
	}
	dstCache := filepath.Join(dst.Path, "db", "rep-cache.db")
	if err := copyFile(srcCache, dstCache); err != nil {
		return err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if fileExists(srcCache + suffix) {
			copyFile(srcCache+suffix, dstCache+suffix)
		}
	}

	rc, err := OpenRepCache(dstCache, dst.Diag)
	if err != nil {
		return err
	}
	defer rc.Close()
	return rc.PurgeAfter(context.Background(), upToRev)
}
