package fsfs

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository is the top-level filesystem object: one on-disk repository
// root, its format/layout/config, and the shared caches and locks every
// read or write operation goes through (spec §2, §5 "Shared resources").
// Exactly one *Repository should exist per process per repository path;
// OpenRepository and CreateRepository both return a ready-to-use handle
// with its own internal mutexes, so callers don't need an external
// singleton registry.
type Repository struct {
	Path   string
	UUID   string
	Format *FormatStamp
	Config *Config
	Diag   Diagnostics

	mu            sync.Mutex
	youngestKnown bool
	youngest      Revnum

	minUnpackedKnown bool
	minUnpackedRev   Revnum

	revFiles *revFileCache
	dirs     *dirCache

	RepCache *RepCache
	Locks    *LockStore
	Origins  *NodeOrigins

	writeLock      *fileLock
	txnCounterLock *fileLock

	packMu   sync.Mutex
	packMani map[Revnum][]packEntry
}

// CreateRepository initializes a brand-new repository at path with the
// given format number (spec §6 "init"): db/format, an empty revision 0,
// a fresh UUID, and the ambient tree (revs, revprops, transactions,
// locks, rep-cache).
func CreateRepository(path string, format int, diag Diagnostics) (*Repository, error) {
	if format < MinFormat || format > MaxFormat {
		return nil, newErr(KindFormatUnsupported, "unsupported format %d", format)
	}
	for _, d := range []string{"db", "db/revs", "db/revprops", "db/transactions", "locks"} {
		if err := os.MkdirAll(filepath.Join(path, d), 0777); err != nil {
			return nil, ioErrf(err, d)
		}
	}
	layout := defaultLayout()
	if !formatSupportsPacking(format) {
		layout = Layout{Sharded: true, ShardSize: DefaultShardSize}
	}
	if err := WriteFormat(filepath.Join(path, "db", "format"), &FormatStamp{Version: format, Layout: layout}); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	if err := writeNewFile(filepath.Join(path, "db", "uuid"), []byte(id+"\n")); err != nil {
		return nil, err
	}

	cfg := DefaultConfig(format)
	if err := WriteDefaultConfig(filepath.Join(path, "db", "fsfs.conf"), cfg); err != nil {
		return nil, err
	}

	r := &Repository{
		Path: path, UUID: id, Format: &FormatStamp{Version: format, Layout: layout}, Config: cfg,
		revFiles: newRevFileCache(), dirs: newDirCache(),
		writeLock:      newFileLock(filepath.Join(path, "db", "write-lock")),
		txnCounterLock: newFileLock(filepath.Join(path, "db", "txn-current-lock")),
		packMani:       map[Revnum][]packEntry{},
	}
	if diag == nil {
		diag = discardDiagnostics{}
	}
	r.Diag = diag

	if err := r.writeRevisionZero(); err != nil {
		return nil, err
	}
	if formatSupportsTxnCurrent(format) {
		if err := writeNewFile(filepath.Join(path, "db", "txn-current"), []byte("0\n")); err != nil {
			return nil, err
		}
	}
	if formatSupportsPacking(format) {
		if err := writeNewFile(filepath.Join(path, "db", "min-unpacked-rev"), []byte("0\n")); err != nil {
			return nil, err
		}
		r.minUnpackedRev, r.minUnpackedKnown = 0, true
	}

	store, err := OpenLockStore(filepath.Join(path, "locks", "table"))
	if err != nil {
		return nil, err
	}
	r.Locks = store

	origins, err := OpenNodeOrigins(filepath.Join(path, "db", "node-origins"))
	if err != nil {
		return nil, err
	}
	r.Origins = origins

	if formatSupportsRepSharing(format) {
		rc, err := OpenRepCache(filepath.Join(path, "db", "rep-cache.db"), diag)
		if err != nil {
			return nil, err
		}
		r.RepCache = rc
	}

	return r, nil
}

// writeRevisionZero lays down the degenerate empty-root revision 0
// every repository starts from (spec §2).
func (r *Repository) writeRevisionZero() error {
	path := r.revisionFilePathUnpacked(0)
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return ioErrf(err, path)
	}

	root := &NodeRevision{
		ID:          ID{NodeID: "0", CopyID: "0", Rev: 0, Offset: 0},
		Kind:        KindDir,
		CreatedPath: "/",
		CopyFromRev: NoRevision,
		CopyRootRev: 0, CopyRootPath: "/",
	}

	var buf strings.Builder
	bw := bufio.NewWriter(&buf)
	if err := root.Encode(bw); err != nil {
		return err
	}
	bw.Flush()
	rootOffset := int64(0)
	changesOffset := int64(len(buf.String()))
	trailer := strconv.FormatInt(rootOffset, 10) + " " + strconv.FormatInt(changesOffset, 10) + "\n"

	content := buf.String() + trailer
	if err := writeNewFile(path, []byte(content)); err != nil {
		return err
	}

	props := NewProperties()
	props.Set("svn:date", time.Now().UTC().Format(time.RFC3339Nano))
	revpropsPath := r.revpropsFilePath(0)
	if err := os.MkdirAll(filepath.Dir(revpropsPath), 0777); err != nil {
		return ioErrf(err, revpropsPath)
	}
	if err := atomicReplace(revpropsPath, props.Encode, 0666); err != nil {
		return err
	}
	return WriteCurrent(filepath.Join(r.Path, "db", "current"), &Current{Youngest: 0}, r.Format.Version)
}

// OpenRepository opens an existing repository at path. Refuses to open a
// directory a hot-copy left mid-flight (spec §9's resolved "hot-copy
// interruption" open question): the marker is only removed after the
// destination's format stamp is written, so its presence means the
// format/current files there cannot yet be trusted.
func OpenRepository(path string, diag Diagnostics) (*Repository, error) {
	if fileExists(filepath.Join(path, "db", hotcopyMarkerName)) {
		return nil, newErr(KindCorrupt, "repository at %s has an incomplete hot-copy in progress", path)
	}
	format, err := ReadFormat(filepath.Join(path, "db", "format"))
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(filepath.Join(path, "db", "fsfs.conf"), format.Version)
	if err != nil {
		return nil, err
	}
	idBytes, err := os.ReadFile(filepath.Join(path, "db", "uuid"))
	if err != nil {
		return nil, ioErrf(err, "db/uuid")
	}

	if diag == nil {
		diag = discardDiagnostics{}
	}

	r := &Repository{
		Path: path, UUID: strings.TrimSpace(string(idBytes)), Format: format, Config: cfg, Diag: diag,
		revFiles: newRevFileCache(), dirs: newDirCache(),
		writeLock:      newFileLock(filepath.Join(path, "db", "write-lock")),
		txnCounterLock: newFileLock(filepath.Join(path, "db", "txn-current-lock")),
		packMani:       map[Revnum][]packEntry{},
	}

	store, err := OpenLockStore(filepath.Join(path, "locks", "table"))
	if err != nil {
		return nil, err
	}
	r.Locks = store

	origins, err := OpenNodeOrigins(filepath.Join(path, "db", "node-origins"))
	if err != nil {
		return nil, err
	}
	r.Origins = origins

	if formatSupportsRepSharing(format.Version) {
		rc, err := OpenRepCache(filepath.Join(path, "db", "rep-cache.db"), diag)
		if err != nil {
			return nil, err
		}
		r.RepCache = rc
	}

	return r, nil
}

// Close releases every resource this handle opened.
func (r *Repository) Close() error {
	r.revFiles.closeAll()
	if r.RepCache != nil {
		r.RepCache.Close()
	}
	return nil
}

// MinUnpackedRev returns the lowest revision number not yet folded into
// a pack file (spec §3 "min-unpacked-rev"); every revision below it is
// packed, every revision at or above it is a standalone file.
func (r *Repository) MinUnpackedRev() (Revnum, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.minUnpackedKnown {
		return r.minUnpackedRev, nil
	}
	if !formatSupportsPacking(r.Format.Version) {
		return 0, nil
	}
	path := filepath.Join(r.Path, "db", "min-unpacked-rev")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		r.minUnpackedRev, r.minUnpackedKnown = 0, true
		return 0, nil
	}
	if err != nil {
		return 0, ioErrf(err, path)
	}
	n, perr := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if perr != nil {
		return 0, corruptf("malformed min-unpacked-rev: %q", string(data))
	}
	r.minUnpackedRev, r.minUnpackedKnown = Revnum(n), true
	return r.minUnpackedRev, nil
}

// writeMinUnpackedRev persists and caches a new min-unpacked-rev value.
func (r *Repository) writeMinUnpackedRev(rev Revnum) error {
	path := filepath.Join(r.Path, "db", "min-unpacked-rev")
	if err := atomicReplace(path, func(w io.Writer) error {
		_, err := w.Write([]byte(strconv.FormatInt(int64(rev), 10) + "\n"))
		return err
	}, 0644); err != nil {
		return err
	}
	r.mu.Lock()
	r.minUnpackedRev, r.minUnpackedKnown = rev, true
	r.mu.Unlock()
	return nil
}

// Youngest returns the current youngest revision, re-reading db/current
// the first time and thereafter serving the cached value refreshed by
// RefreshYoungest (spec §5's youngest/current cache).
func (r *Repository) Youngest() (Revnum, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.youngestKnown {
		return r.youngest, nil
	}
	cur, err := ReadCurrent(filepath.Join(r.Path, "db", "current"), r.Format.Version)
	if err != nil {
		return 0, err
	}
	r.youngest = cur.Youngest
	r.youngestKnown = true
	return r.youngest, nil
}

// RefreshYoungest forces the cache to re-read db/current, used by commit
// step 1's out-of-date check, by Pack, and by hot-copy to notice a source
// that advanced during a pass.
func (r *Repository) RefreshYoungest() (Revnum, error) {
	r.mu.Lock()
	r.youngestKnown = false
	r.mu.Unlock()
	return r.Youngest()
}

func (r *Repository) setYoungest(rev Revnum) {
	r.mu.Lock()
	r.youngest = rev
	r.youngestKnown = true
	r.mu.Unlock()
}

// --- path layout (spec §2, §6) ---

func (r *Repository) shard(rev Revnum) Revnum { return shardOf(rev, r.Format.Layout) }

func (r *Repository) revisionFilePathUnpacked(rev Revnum) string {
	if !r.Format.Layout.Sharded {
		return filepath.Join(r.Path, "db", "revs", strconv.FormatInt(int64(rev), 10))
	}
	shard := strconv.FormatInt(int64(r.shard(rev)), 10)
	return filepath.Join(r.Path, "db", "revs", shard, strconv.FormatInt(int64(rev), 10))
}

func (r *Repository) packDir(shard Revnum) string {
	return filepath.Join(r.Path, "db", "revs", strconv.FormatInt(int64(shard), 10)+".pack")
}

func (r *Repository) revpropsFilePath(rev Revnum) string {
	if !r.Format.Layout.Sharded {
		return filepath.Join(r.Path, "db", "revprops", strconv.FormatInt(int64(rev), 10))
	}
	shard := strconv.FormatInt(int64(r.shard(rev)), 10)
	return filepath.Join(r.Path, "db", "revprops", shard, strconv.FormatInt(int64(rev), 10))
}

func (r *Repository) transactionDir(txn TxnID) string {
	return filepath.Join(r.Path, "db", "transactions", string(txn)+".txn")
}

func (r *Repository) protoRevPath(txn TxnID) string {
	if formatSupportsProtoRevDir(r.Format.Version) {
		return filepath.Join(r.Path, "db", "txn-protorevs", string(txn)+".rev")
	}
	return filepath.Join(r.transactionDir(txn), "rev")
}

func (r *Repository) protoRevLockPath(txn TxnID) string {
	if formatSupportsProtoRevDir(r.Format.Version) {
		return filepath.Join(r.Path, "db", "txn-protorevs", string(txn)+".rev-lock")
	}
	return filepath.Join(r.transactionDir(txn), "rev-lock")
}

// --- packed-shard manifest handling (spec §4's "Pack") ---

type packEntry struct {
	Offset int64
	Length int64
}

// isPacked reports whether rev lies below min-unpacked-rev, i.e. whether
// it lives in a packed shard rather than a standalone file.
func (r *Repository) isPacked(rev Revnum) bool {
	if !formatSupportsPacking(r.Format.Version) {
		return false
	}
	m, err := r.MinUnpackedRev()
	if err != nil {
		return false
	}
	return rev < m
}

// packManifest reads (and caches) the manifest for a packed shard: one
// decimal byte-offset per line, one line per revision in the shard, in
// revision order.
func (r *Repository) packManifest(shard Revnum) ([]packEntry, error) {
	r.packMu.Lock()
	defer r.packMu.Unlock()
	if m, ok := r.packMani[shard]; ok {
		return m, nil
	}

	manifestPath := filepath.Join(r.packDir(shard), "manifest")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, ioErrf(err, manifestPath)
	}
	packPath := filepath.Join(r.packDir(shard), "pack")
	fi, err := os.Stat(packPath)
	if err != nil {
		return nil, ioErrf(err, packPath)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	offsets := make([]int64, len(lines))
	for i, line := range lines {
		off, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
		if err != nil {
			return nil, corruptf("malformed pack manifest line %d: %q", i, line)
		}
		offsets[i] = off
	}
	entries := make([]packEntry, len(offsets))
	for i, off := range offsets {
		end := fi.Size()
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		entries[i] = packEntry{Offset: off, Length: end - off}
	}
	r.packMani[shard] = entries
	return entries, nil
}

// revisionFileLocation resolves rev to the file holding its content and
// the byte offset within that file where the revision's own data
// begins, transparently accounting for packing.
func (r *Repository) revisionFileLocation(rev Revnum) (path string, base int64, err error) {
	if !formatSupportsPacking(r.Format.Version) || !r.isPacked(rev) {
		return r.revisionFilePathUnpacked(rev), 0, nil
	}
	shard := r.shard(rev)
	entries, err := r.packManifest(shard)
	if err != nil {
		return "", 0, err
	}
	idx := int(rev % Revnum(r.Format.Layout.ShardSize))
	if idx < 0 || idx >= len(entries) {
		return "", 0, corruptf("revision %d not found in pack manifest for shard %d", rev, shard)
	}
	return filepath.Join(r.packDir(shard), "pack"), entries[idx].Offset, nil
}

// revisionFileLength reports how many bytes of the (possibly packed)
// revision file belong to rev, used to slice out the right region before
// parsing its trailer line.
func (r *Repository) revisionFileLength(rev Revnum) (int64, error) {
	if !formatSupportsPacking(r.Format.Version) || !r.isPacked(rev) {
		path := r.revisionFilePathUnpacked(rev)
		fi, err := os.Stat(path)
		if err != nil {
			return 0, ioErrf(err, path)
		}
		return fi.Size(), nil
	}
	shard := r.shard(rev)
	entries, err := r.packManifest(shard)
	if err != nil {
		return 0, err
	}
	idx := int(rev % Revnum(r.Format.Layout.ShardSize))
	if idx < 0 || idx >= len(entries) {
		return 0, corruptf("revision %d not found in pack manifest for shard %d", rev, shard)
	}
	return entries[idx].Length, nil
}
