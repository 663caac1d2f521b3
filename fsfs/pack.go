package fsfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Pack folds every complete shard below the repository's youngest
// revision into a single pack file plus a manifest of byte offsets
// (spec §3 "Pack", §4's supplemented packing operation): shards are
// only eligible once they're full, since packing a shard still being
// written to would race new revisions landing in it.
//
// Revprops are deliberately left unpacked: spec §9 leaves that as an
// optional follow-on, and this engine's revprop reader already treats
// packed and unpacked layouts identically by path, so there is nothing
// for callers to special-case either way.
func Pack(ctx context.Context, repo *Repository, diag Diagnostics) error {
	if !formatSupportsPacking(repo.Format.Version) {
		return newErr(KindFormatUnsupported, "format %d does not support packing", repo.Format.Version)
	}
	if diag == nil {
		diag = repo.Diag
	}
	if diag == nil {
		diag = discardDiagnostics{}
	}

	if err := repo.writeLock.Lock(); err != nil {
		return err
	}
	defer repo.writeLock.Unlock()

	youngest, err := repo.RefreshYoungest()
	if err != nil {
		return err
	}
	minUnpacked, err := repo.MinUnpackedRev()
	if err != nil {
		return err
	}
	shardSize := Revnum(repo.Format.Layout.ShardSize)

	for shard := repo.shard(minUnpacked); ; shard++ {
		if err := checkCancel(ctx); err != nil {
			return err
		}
		shardStart := shard * shardSize
		shardEnd := shardStart + shardSize // exclusive
		if shardEnd > youngest+1 {
			// the shard containing youngest is still being written to.
			break
		}
		if dirExists(repo.packDir(shard)) {
			// already packed by an earlier run; advance min-unpacked-rev
			// past it and continue to the next candidate.
			if shardEnd > minUnpacked {
				if err := repo.writeMinUnpackedRev(shardEnd); err != nil {
					return err
				}
			}
			continue
		}

		if err := packShard(repo, shard, shardStart, shardEnd); err != nil {
			return err
		}
		if err := repo.writeMinUnpackedRev(shardEnd); err != nil {
			return err
		}
		repo.revFiles.invalidateRange(shardStart, shardEnd)

		for rev := shardStart; rev < shardEnd; rev++ {
			os.Remove(repo.revisionFilePathUnpacked(rev))
		}
		shardDir := filepath.Dir(repo.revisionFilePathUnpacked(shardStart))
		os.Remove(shardDir)

		diag.Report(DiagPack, "packed shard", map[string]any{
			"shard": int64(shard), "from": int64(shardStart), "to": int64(shardEnd - 1),
		})
	}
	return nil
}

// packShard concatenates every revision file in [from, to) into shard's
// pack file, recording each revision's starting offset in the manifest
// alongside it (spec §3's "<shard>.pack/{pack,manifest}").
func packShard(repo *Repository, shard, from, to Revnum) error {
	packDir := repo.packDir(shard)
	if err := os.MkdirAll(packDir, 0777); err != nil {
		return ioErrf(err, packDir)
	}
	packPath := filepath.Join(packDir, "pack")
	manifestPath := filepath.Join(packDir, "manifest")

	packFile, err := os.OpenFile(packPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return ioErrf(err, packPath)
	}
	defer packFile.Close()

	var manifest strings.Builder
	var offset int64
	for rev := from; rev < to; rev++ {
		revPath := repo.revisionFilePathUnpacked(rev)
		data, err := os.ReadFile(revPath)
		if err != nil {
			return ioErrf(err, revPath)
		}
		manifest.WriteString(strconv.FormatInt(offset, 10) + "\n")
		if _, err := packFile.Write(data); err != nil {
			return ioErrf(err, packPath)
		}
		offset += int64(len(data))
	}
	if err := packFile.Sync(); err != nil {
		return ioErrf(err, packPath)
	}
	return atomicReplace(manifestPath, func(w io.Writer) error {
		_, err := w.Write([]byte(manifest.String()))
		return err
	}, 0644)
}
