package fsfs

import (
	"bufio"
	"bytes"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// revisionFile is a read-only mmap'd view of one committed revision
// file (or, transparently, of the pack file slice for a packed
// revision), following teacher's lib/dumpfile.go pattern of mapping the
// whole file once and slicing into it rather than issuing seeks.
type revisionFile struct {
	data mmap.MMap
	file *os.File
	base int64 // byte offset within data where this revision's content starts (0 unless packed)
}

func openRevisionFile(path string, base int64) (*revisionFile, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, ioErrf(err, path)
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, ioErrf(err, path)
	}
	return &revisionFile{data: data, file: f, base: base}, nil
}

func (rf *revisionFile) Close() error {
	rf.data.Unmap()
	return rf.file.Close()
}

// trailer parses the last line: "<root-offset> <changes-offset>\n".
func (rf *revisionFile) trailer(length int64) (rootOffset, changesOffset int64, err error) {
	slice := rf.data[rf.base : rf.base+length]
	trimmed := bytes.TrimRight(slice, "\n")
	nl := bytes.LastIndexByte(trimmed, '\n')
	line := string(trimmed[nl+1:])
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, 0, corruptf("malformed revision trailer: %q", line)
	}
	rootOffset, err1 := strconv.ParseInt(fields[0], 10, 64)
	changesOffset, err2 := strconv.ParseInt(fields[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, corruptf("malformed revision trailer: %q", line)
	}
	return rootOffset, changesOffset, nil
}

func (rf *revisionFile) readerAt(offset int64) *bufio.Reader {
	return bufio.NewReader(bytes.NewReader(rf.data[rf.base+offset:]))
}

// readRepHeaderAt reads only the "PLAIN"/"DELTA ..." line at offset,
// without consuming the payload.
func (rf *revisionFile) readRepHeaderAt(offset int64) (RepKind, Revnum, int64, error) {
	r := rf.readerAt(offset)
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, 0, 0, ioErrf(err, "")
	}
	kind, baseRev, baseOff, _, err := parseRepHeaderLine(line)
	return kind, baseRev, baseOff, err
}

// readRepPayloadAt reads the header line then exactly size bytes of
// payload and verifies ENDREP, at offset.
func (rf *revisionFile) readRepPayloadAt(offset, size int64) (RepKind, Revnum, int64, int64, []byte, error) {
	r := rf.readerAt(offset)
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, 0, 0, 0, nil, ioErrf(err, "")
	}
	kind, baseRev, baseOff, baseLen, err := parseRepHeaderLine(line)
	if err != nil {
		return 0, 0, 0, 0, nil, err
	}
	payload, err := readRepBody(r, size)
	if err != nil {
		return 0, 0, 0, 0, nil, err
	}
	return kind, baseRev, baseOff, baseLen, payload, nil
}

// revFileCache keeps every revision file opened through it mapped until
// closeAll or invalidateRange drops it (there is no size bound and no
// eviction), guarded by a mutex (spec §5's "per-category cache mutexes
// ... short, non-nested").
type revFileCache struct {
	mu    sync.Mutex
	files map[Revnum]*revisionFile
}

func newRevFileCache() *revFileCache {
	return &revFileCache{files: map[Revnum]*revisionFile{}}
}

func (c *revFileCache) getOrOpen(rev Revnum, opener func() (*revisionFile, error)) (*revisionFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rf, ok := c.files[rev]; ok {
		return rf, nil
	}
	rf, err := opener()
	if err != nil {
		return nil, err
	}
	c.files[rev] = rf
	return rf, nil
}

func (c *revFileCache) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for rev, rf := range c.files {
		rf.Close()
		delete(c.files, rev)
	}
}

// invalidateRange drops and closes any cached handle for revisions in
// [from, to), used after packing a shard: those revisions' unpacked
// files are gone, and any later read must reopen against the pack file.
func (c *revFileCache) invalidateRange(from, to Revnum) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for rev := from; rev < to; rev++ {
		if rf, ok := c.files[rev]; ok {
			rf.Close()
			delete(c.files, rev)
		}
	}
}

// ReadRepHeaderAt implements RepHeaderSource for the repository, used by
// selectDeltaBase's shared-base chain-length check (spec §4.2).
func (r *Repository) ReadRepHeaderAt(rev Revnum, offset int64) (RepKind, Revnum, int64, error) {
	rf, err := r.revFile(rev)
	if err != nil {
		return 0, 0, 0, err
	}
	return rf.readRepHeaderAt(offset)
}

func (r *Repository) revFile(rev Revnum) (*revisionFile, error) {
	return r.revFiles.getOrOpen(rev, func() (*revisionFile, error) {
		path, base, err := r.revisionFileLocation(rev)
		if err != nil {
			return nil, err
		}
		return openRevisionFile(path, base)
	})
}

// RevisionRoot is a read handle on one committed revision's tree (spec
// §4.6: "opening a revision root at R").
type RevisionRoot struct {
	repo *Repository
	rev  Revnum
	root *NodeRevision
}

// OpenRevisionRoot opens revision rev for reading. Fails with
// KindNoSuchRevision if rev exceeds current youngest.
func (r *Repository) OpenRevisionRoot(rev Revnum) (*RevisionRoot, error) {
	youngest, err := r.Youngest()
	if err != nil {
		return nil, err
	}
	if rev < 0 || rev > youngest {
		return nil, newErr(KindNoSuchRevision, "no such revision %d", rev)
	}
	rf, err := r.revFile(rev)
	if err != nil {
		return nil, err
	}
	length, err := r.revisionFileLength(rev)
	if err != nil {
		return nil, err
	}
	rootOffset, _, err := rf.trailer(length)
	if err != nil {
		return nil, err
	}
	root, err := DecodeNodeRevision(rf.readerAt(rootOffset), "")
	if err != nil {
		return nil, err
	}
	return &RevisionRoot{repo: r, rev: rev, root: root}, nil
}

// Root returns the revision's root node-revision.
func (rr *RevisionRoot) Root() *NodeRevision { return rr.root }

// NodeRevisionAt resolves path (slash-separated, relative to the
// revision root) to its node-revision, walking directory entries.
func (rr *RevisionRoot) NodeRevisionAt(path string) (*NodeRevision, error) {
	node := rr.root
	for _, part := range splitPathComponents(path) {
		if node.Kind != KindDir {
			return nil, newErr(KindCorrupt, "path component %q is not a directory", part)
		}
		dir, err := rr.repo.readDirectory(node)
		if err != nil {
			return nil, err
		}
		entry, ok := dir.Get(part)
		if !ok {
			return nil, newErr(KindNoSuchPath, "no such path: %s", path)
		}
		child, err := rr.repo.readNodeRevision(entry.ID)
		if err != nil {
			return nil, err
		}
		node = child
	}
	return node, nil
}

// ReadFile returns the fulltext of a file node-revision's data-rep.
func (rr *RevisionRoot) ReadFile(path string) ([]byte, error) {
	node, err := rr.NodeRevisionAt(path)
	if err != nil {
		return nil, err
	}
	if node.Kind != KindFile {
		return nil, newErr(KindCorrupt, "%s is not a file", path)
	}
	if node.TextRep == nil {
		return nil, nil
	}
	return rr.repo.readFulltext(node.TextRep)
}

// ReadDir returns the directory listing at path.
func (rr *RevisionRoot) ReadDir(path string) (*Directory, error) {
	node, err := rr.NodeRevisionAt(path)
	if err != nil {
		return nil, err
	}
	if node.Kind != KindDir {
		return nil, newErr(KindCorrupt, "%s is not a directory", path)
	}
	return rr.repo.readDirectory(node)
}

// Properties returns a node's property list.
func (rr *RevisionRoot) Properties(path string) (*Properties, error) {
	node, err := rr.NodeRevisionAt(path)
	if err != nil {
		return nil, err
	}
	if node.PropsRep == nil {
		return NewProperties(), nil
	}
	payload, err := rr.repo.readFulltext(node.PropsRep)
	if err != nil {
		return nil, err
	}
	return DecodeProperties(bufio.NewReader(bytes.NewReader(payload)))
}

// readNodeRevision reads a committed node-revision by ID.
func (r *Repository) readNodeRevision(id ID) (*NodeRevision, error) {
	if id.IsTxn() {
		return nil, newErr(KindCorrupt, "attempted to read transaction-form id %s as committed", id)
	}
	rf, err := r.revFile(id.Rev)
	if err != nil {
		return nil, err
	}
	return DecodeNodeRevision(rf.readerAt(id.Offset), "")
}

// readDirectory reads and caches a directory node's listing.
func (r *Repository) readDirectory(node *NodeRevision) (*Directory, error) {
	key := node.ID.Unparse()
	if d, ok := r.dirs.get(key); ok {
		return d, nil
	}
	if node.TextRep == nil {
		d := NewDirectory()
		r.dirs.put(key, d)
		return d, nil
	}
	payload, err := r.readFulltext(node.TextRep)
	if err != nil {
		return nil, err
	}
	d, err := DecodeDirectory(bufio.NewReader(bytes.NewReader(payload)), nil)
	if err != nil {
		return nil, err
	}
	r.dirs.put(key, d)
	return d, nil
}

// readFulltext reassembles a representation's fulltext by following
// DELTA base pointers back to a PLAIN root, then applying svndiff
// windows root-to-leaf (spec §4.2 "Reassembly").
func (r *Repository) readFulltext(rep *Representation) ([]byte, error) {
	if rep.IsMutable() {
		return nil, newErr(KindCorrupt, "cannot read fulltext of a representation still in transaction %s", rep.TxnID)
	}

	type hop struct {
		rev, off, size int64
		kind           RepKind
		baseRev        Revnum
		baseOff        int64
		payload        []byte
	}
	var chain []hop

	rev, off, size := int64(rep.Rev), rep.Offset, rep.Size
	for {
		rf, err := r.revFile(Revnum(rev))
		if err != nil {
			return nil, err
		}
		kind, baseRev, baseOff, baseLen, payload, err := rf.readRepPayloadAt(off, size)
		if err != nil {
			return nil, err
		}
		chain = append(chain, hop{rev: rev, off: off, size: size, kind: kind, baseRev: baseRev, baseOff: baseOff, payload: payload})
		if kind == RepPlain {
			break
		}
		rev, off, size = int64(baseRev), baseOff, baseLen
	}

	// chain[len-1] is the PLAIN root; apply forward to the leaf.
	fulltext := chain[len(chain)-1].payload
	for i := len(chain) - 2; i >= 0; i-- {
		var err error
		fulltext, err = applyDelta(chain[i].payload, fulltext)
		if err != nil {
			return nil, err
		}
	}
	if int64(len(fulltext)) != rep.ExpandedSize {
		return nil, corruptf("representation expanded to %d bytes, header promised %d", len(fulltext), rep.ExpandedSize)
	}
	return fulltext, nil
}

// repBodySizeAt returns the base-len field of the representation header
// at (rev, offset): the on-disk size of *that* representation's own
// delta base, or 0 when the header is PLAIN. It is not the size of the
// representation at (rev, offset) itself. readFulltext sizes each base
// from the referring DELTA header's base-len (returned by
// readRepPayloadAt), which txn.go sets to the base representation's Size.
func (r *Repository) repBodySizeAt(rev Revnum, offset int64) (int64, error) {
	rf, err := r.revFile(rev)
	if err != nil {
		return 0, err
	}
	_, _, _, baseLen, err := rf.readRepHeaderAtFull(offset)
	return baseLen, err
}

func (rf *revisionFile) readRepHeaderAtFull(offset int64) (RepKind, Revnum, int64, int64, error) {
	r := rf.readerAt(offset)
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, 0, 0, 0, ioErrf(err, "")
	}
	return parseRepHeaderLine(line)
}

// ReadChanges parses the changed-paths list at a revision's changes
// offset, folded with prefolded=true (spec §4.6).
func (rr *RevisionRoot) ReadChanges() ([]*Change, error) {
	rf, err := rr.repo.revFile(rr.rev)
	if err != nil {
		return nil, err
	}
	length, err := rr.repo.revisionFileLength(rr.rev)
	if err != nil {
		return nil, err
	}
	_, changesOffset, err := rf.trailer(length)
	if err != nil {
		return nil, err
	}
	// The change list runs from changesOffset up to the trailer line,
	// which is left out.
	region := rf.data[rf.base+changesOffset : rf.base+length]
	body := region[:0]
	if nl := bytes.LastIndexByte(bytes.TrimRight(region, "\n"), '\n'); nl >= 0 {
		body = region[:nl+1]
	}
	raw, err := DecodeChanges(bufio.NewReader(bytes.NewReader(body)))
	if err != nil {
		return nil, err
	}
	return FoldChanges(raw, true)
}

// RevisionProperties returns a committed revision's revprops.
func (r *Repository) RevisionProperties(rev Revnum) (*Properties, error) {
	path := r.revpropsFilePath(rev)
	f, err := os.Open(path)
	if err != nil {
		return nil, ioErrf(err, path)
	}
	defer f.Close()
	return DecodeProperties(bufio.NewReader(f))
}
