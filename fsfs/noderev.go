package fsfs

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// NodeKind distinguishes files from directories, spec §3.
type NodeKind int

const (
	KindFile NodeKind = iota
	KindDir
)

func (k NodeKind) String() string {
	if k == KindDir {
		return "dir"
	}
	return "file"
}

// NodeRevision is the immutable record spec §3/§4.4 describes: identity,
// predecessor chain, representations, and the copy/path metadata needed
// to answer ancestry questions without walking every intermediate
// revision.
type NodeRevision struct {
	ID   ID
	Kind NodeKind

	PredecessorID    *ID
	PredecessorCount int

	TextRep  *Representation // nil for an empty-content directory/file
	PropsRep *Representation // nil when properties are empty

	CreatedPath string

	CopyFromRev  Revnum // NoRevision when not a copy
	CopyFromPath string

	CopyRootRev  Revnum
	CopyRootPath string

	IsFreshTxnRoot bool

	MergeinfoCount int
	MergeinfoHere  bool
}

// header field names, exactly as the original engine's low_level.c
// spells them on disk.
const (
	fieldID             = "id"
	fieldType           = "type"
	fieldPred           = "pred"
	fieldCount          = "count"
	fieldText           = "text"
	fieldProps          = "props"
	fieldCpath          = "cpath"
	fieldCopyfrom       = "copyfrom"
	fieldCopyroot       = "copyroot"
	fieldIsFreshTxnRoot = "is-fresh-txn-root"
	fieldMinfoCnt       = "minfo-cnt"
	fieldMinfoHere      = "minfo-here"
)

// nodeRevFieldOrder is the order the engine always emits fields in, kept
// as an explicit list (mirroring teacher's Headers.index) so re-encoding
// a record we just parsed reproduces the same byte layout, even though a
// map would answer lookups just as well.
var nodeRevFieldOrder = []string{
	fieldID, fieldType, fieldPred, fieldCount, fieldText, fieldProps,
	fieldCpath, fieldCopyfrom, fieldCopyroot, fieldIsFreshTxnRoot,
	fieldMinfoCnt, fieldMinfoHere,
}

// Encode writes the node-revision header block: one "key: value\n" line
// per populated field, followed by a blank line (spec §3, §6).
func (n *NodeRevision) Encode(w *bufio.Writer) error {
	fields := n.fields()
	for _, key := range nodeRevFieldOrder {
		val, ok := fields[key]
		if !ok {
			continue
		}
		if _, err := w.WriteString(key + ": " + val + "\n"); err != nil {
			return err
		}
	}
	_, err := w.WriteString("\n")
	return err
}

func (n *NodeRevision) fields() map[string]string {
	f := map[string]string{
		fieldID:   n.ID.Unparse(),
		fieldType: n.Kind.String(),
		fieldCpath: n.CreatedPath,
	}
	if n.PredecessorID != nil {
		f[fieldPred] = n.PredecessorID.Unparse()
	}
	if n.PredecessorCount > 0 || n.PredecessorID != nil {
		f[fieldCount] = strconv.Itoa(n.PredecessorCount)
	}
	if n.TextRep != nil {
		f[fieldText] = n.TextRep.marshalLine(n.Kind == KindDir)
	}
	if n.PropsRep != nil {
		f[fieldProps] = n.PropsRep.marshalLine(true)
	}
	if n.CopyFromRev != NoRevision {
		f[fieldCopyfrom] = strconv.FormatInt(int64(n.CopyFromRev), 10) + " " + n.CopyFromPath
	}
	if n.CopyRootPath != "" {
		f[fieldCopyroot] = strconv.FormatInt(int64(n.CopyRootRev), 10) + " " + n.CopyRootPath
	}
	if n.IsFreshTxnRoot {
		f[fieldIsFreshTxnRoot] = "y"
	}
	if n.MergeinfoCount > 0 {
		f[fieldMinfoCnt] = strconv.Itoa(n.MergeinfoCount)
	}
	if n.MergeinfoHere {
		f[fieldMinfoHere] = "y"
	}
	return f
}

// DecodeNodeRevision reads one node-revision header block off r, given
// the transaction ID to attribute to any mutable (rev == -1)
// representations it references.
func DecodeNodeRevision(r *bufio.Reader, txnID TxnID) (*NodeRevision, error) {
	n := &NodeRevision{CopyFromRev: NoRevision}
	saw := map[string]bool{}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, ioErrf(err, "")
		}
		content := trimNewline(line)
		if content == "" {
			break
		}

		key, value, err := splitHeaderLine(content)
		if err != nil {
			return nil, err
		}
		saw[key] = true

		switch key {
		case fieldID:
			id, err := ParseID(value)
			if err != nil {
				return nil, err
			}
			n.ID = id
		case fieldType:
			switch value {
			case "file":
				n.Kind = KindFile
			case "dir":
				n.Kind = KindDir
			default:
				return nil, corruptf("unknown node kind %q", value)
			}
		case fieldPred:
			id, err := ParseID(value)
			if err != nil {
				return nil, err
			}
			n.PredecessorID = &id
		case fieldCount:
			c, err := strconv.Atoi(value)
			if err != nil {
				return nil, corruptf("malformed %s field: %q", fieldCount, value)
			}
			n.PredecessorCount = c
		case fieldText:
			rep, err := parseRepLine(value, txnID)
			if err != nil {
				return nil, err
			}
			n.TextRep = rep
		case fieldProps:
			rep, err := parseRepLine(value, txnID)
			if err != nil {
				return nil, err
			}
			n.PropsRep = rep
		case fieldCpath:
			n.CreatedPath = value
		case fieldCopyfrom:
			rev, path, err := splitRevPath(value)
			if err != nil {
				return nil, err
			}
			n.CopyFromRev, n.CopyFromPath = rev, path
		case fieldCopyroot:
			rev, path, err := splitRevPath(value)
			if err != nil {
				return nil, err
			}
			n.CopyRootRev, n.CopyRootPath = rev, path
		case fieldIsFreshTxnRoot:
			n.IsFreshTxnRoot = value == "y"
		case fieldMinfoCnt:
			c, err := strconv.Atoi(value)
			if err != nil {
				return nil, corruptf("malformed %s field: %q", fieldMinfoCnt, value)
			}
			n.MergeinfoCount = c
		case fieldMinfoHere:
			n.MergeinfoHere = value == "y"
		default:
			// Unknown fields are tolerated: forward-compatible with later
			// format revisions that add optional metadata this engine
			// does not yet understand.
		}
	}

	if !saw[fieldID] {
		return nil, corruptf("node revision missing %q field", fieldID)
	}
	return n, nil
}

func splitHeaderLine(line string) (key, value string, err error) {
	idx := strings.Index(line, ": ")
	if idx == -1 {
		return "", "", corruptf("malformed node revision header line: %q", line)
	}
	return line[:idx], line[idx+2:], nil
}

func splitRevPath(value string) (Revnum, string, error) {
	idx := strings.IndexByte(value, ' ')
	if idx == -1 {
		return 0, "", corruptf("malformed rev/path field: %q", value)
	}
	rev, err := strconv.ParseInt(value[:idx], 10, 64)
	if err != nil {
		return 0, "", corruptf("malformed revision in field: %q", value)
	}
	return Revnum(rev), value[idx+1:], nil
}

func (n *NodeRevision) String() string {
	return fmt.Sprintf("%s (%s) pred=%v count=%d", n.ID, n.Kind, n.PredecessorID, n.PredecessorCount)
}
