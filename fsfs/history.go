package fsfs

import (
	"bufio"
	"bytes"
	"time"
)

// DatedRevision returns the youngest revision committed at or before t,
// bisecting on each candidate's svn:date revprop the way commit.go
// stamps it (time.RFC3339Nano, UTC). Revisions without a parseable
// svn:date are treated as not-yet-reached, which only matters for
// hand-crafted repositories that never went through Commit.
func (r *Repository) DatedRevision(t time.Time) (Revnum, error) {
	youngest, err := r.Youngest()
	if err != nil {
		return 0, err
	}

	lo, hi := Revnum(0), youngest
	best := NoRevision
	for lo <= hi {
		mid := lo + (hi-lo)/2
		when, ok, err := r.revisionDate(mid)
		if err != nil {
			return 0, err
		}
		if ok && !when.After(t) {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best == NoRevision {
		// t predates even revision 0: clamp to the oldest revision
		// that exists rather than reporting "no such revision".
		return 0, nil
	}
	return best, nil
}

func (r *Repository) revisionDate(rev Revnum) (time.Time, bool, error) {
	props, err := r.RevisionProperties(rev)
	if err != nil {
		return time.Time{}, false, err
	}
	raw, ok := props.Get("svn:date")
	if !ok {
		return time.Time{}, false, nil
	}
	when, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, nil
	}
	return when, true, nil
}

// nodeIdentityAt resolves path at the root's revision, reporting its
// permanent node id (stable across copy-on-write mutations, per ids.go)
// and whether the path exists at all at that revision.
func nodeIdentityAt(root *RevisionRoot, path string) (string, bool, error) {
	node, err := root.NodeRevisionAt(path)
	if err != nil {
		if IsKind(err, KindNoSuchPath) {
			return "", false, nil
		}
		return "", false, err
	}
	return node.ID.NodeID, true, nil
}

// DeletedRevision finds the first revision after startRev, up through
// endRev, at which path (as it existed at startRev) stopped existing
// under its original node identity - deleted outright, or replaced by
// an unrelated node created at the same path. Returns NoRevision if the
// original node is still present, unreplaced, at endRev.
func (r *Repository) DeletedRevision(path string, startRev, endRev Revnum) (Revnum, error) {
	if startRev > endRev {
		startRev, endRev = endRev, startRev
	}
	startRoot, err := r.OpenRevisionRoot(startRev)
	if err != nil {
		return 0, err
	}
	startID, existed, err := nodeIdentityAt(startRoot, path)
	if err != nil {
		return 0, err
	}
	if !existed {
		return 0, newErr(KindNoSuchPath, "path %q does not exist at r%d", path, startRev)
	}
	if startRev == endRev {
		return NoRevision, nil
	}

	// Binary search for the last revision in [startRev, endRev] where the
	// original node identity is still present at path; the predicate is
	// true at startRev by construction and assumed monotonic thereafter,
	// same assumption the source algorithm this is grounded on makes.
	lo, hi := startRev, endRev
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		root, err := r.OpenRevisionRoot(mid)
		if err != nil {
			return 0, err
		}
		id, existed, err := nodeIdentityAt(root, path)
		if err != nil {
			return 0, err
		}
		if existed && id == startID {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo == endRev {
		return NoRevision, nil
	}
	return lo + 1, nil
}

// FileRevisionChunk is one step of a path's history: the revision at
// which its text and/or properties last changed, with the property
// delta against the previous step pre-computed and the text delta left
// lazy since callers frequently only need a subset (spec §4.8).
type FileRevisionChunk struct {
	Revision    Revnum
	Path        string
	PropDiff    map[string]string
	TextChanged bool

	repo    *Repository
	textRep *Representation
}

// Fulltext returns this step's full file content.
func (c *FileRevisionChunk) Fulltext() ([]byte, error) {
	if c.textRep == nil {
		return nil, nil
	}
	return c.repo.readFulltext(c.textRep)
}

// TextDelta computes a delta from against to this step's fulltext,
// using the same svndiff-window codec representations are stored with.
// Returns nil if this step didn't change the text.
func (c *FileRevisionChunk) TextDelta(against []byte) ([]byte, error) {
	if !c.TextChanged {
		return nil, nil
	}
	cur, err := c.Fulltext()
	if err != nil {
		return nil, err
	}
	return encodeDelta(cur, against), nil
}

func sameRep(a, b *Representation) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Rev == b.Rev && a.Offset == b.Offset
}

// FileRevisions enumerates the steps in path's history between startRev
// and endRev inclusive, collapsing consecutive revisions that touched
// the node without changing its text or properties (spec §4.8:
// "file-revision enumeration").
func (r *Repository) FileRevisions(path string, startRev, endRev Revnum) ([]*FileRevisionChunk, error) {
	if startRev > endRev {
		return nil, newErr(KindCorrupt, "file-revision range %d..%d is inverted", startRev, endRev)
	}

	var chunks []*FileRevisionChunk
	var lastTextRep, lastPropsRep *Representation
	lastProps := NewProperties()

	for rev := startRev; rev <= endRev; rev++ {
		root, err := r.OpenRevisionRoot(rev)
		if err != nil {
			return nil, err
		}
		node, err := root.NodeRevisionAt(path)
		if err != nil {
			if IsKind(err, KindNoSuchPath) {
				continue
			}
			return nil, err
		}
		if node.Kind != KindFile {
			return nil, newErr(KindCorrupt, "%s is not a file at r%d", path, rev)
		}

		textChanged := !sameRep(node.TextRep, lastTextRep)
		propsChanged := !sameRep(node.PropsRep, lastPropsRep)
		if !textChanged && !propsChanged && len(chunks) > 0 {
			continue
		}

		props := NewProperties()
		if node.PropsRep != nil {
			payload, err := r.readFulltext(node.PropsRep)
			if err != nil {
				return nil, err
			}
			props, err = DecodeProperties(bufio.NewReader(bytes.NewReader(payload)))
			if err != nil {
				return nil, err
			}
		}

		chunks = append(chunks, &FileRevisionChunk{
			Revision:    rev,
			Path:        path,
			PropDiff:    lastProps.Diff(props),
			TextChanged: textChanged,
			repo:        r,
			textRep:     node.TextRep,
		})
		lastTextRep, lastPropsRep, lastProps = node.TextRep, node.PropsRep, props
	}
	return chunks, nil
}
