package fsfs

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ChangeKind is the closed set of path-change variants spec §4.5/§REDESIGN
// FLAGS names ("best expressed as closed variants").
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota
	ChangeDelete
	ChangeReplace
	ChangeModify
	ChangeReset
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "add"
	case ChangeDelete:
		return "delete"
	case ChangeReplace:
		return "replace"
	case ChangeModify:
		return "modify"
	case ChangeReset:
		return "reset"
	default:
		return "unknown"
	}
}

func parseChangeKind(s string) (ChangeKind, error) {
	switch s {
	case "add":
		return ChangeAdd, nil
	case "delete":
		return ChangeDelete, nil
	case "replace":
		return ChangeReplace, nil
	case "modify":
		return ChangeModify, nil
	case "reset":
		return ChangeReset, nil
	default:
		return 0, corruptf("unknown change kind: %q", s)
	}
}

// Change is one entry in a transaction's change log or a committed
// revision's changed-paths list (spec §3, §4.5).
type Change struct {
	Path    string
	ID      ID // zero value when Kind == ChangeReset
	Kind    ChangeKind
	Node    NodeKind
	TextMod bool
	PropMod bool

	CopyFromRev  Revnum // NoRevision when not a copy
	CopyFromPath string
}

// Encode appends one change-log record: "path kind node text-mod prop-mod
// id copyfrom-rev copyfrom-path\n" (id and copyfrom-path "-", copyfrom-rev
// "-1" when absent).
func (c *Change) Encode(w io.Writer) error {
	idField := "-"
	if c.Kind != ChangeReset {
		idField = c.ID.Unparse()
	}
	copyRev, copyPath := "-1", "-"
	if c.CopyFromRev != NoRevision && c.CopyFromRev != 0 {
		copyRev, copyPath = strconv.FormatInt(int64(c.CopyFromRev), 10), c.CopyFromPath
	}
	fields := []string{
		c.Path, c.Kind.String(), c.Node.String(),
		boolFlag(c.TextMod), boolFlag(c.PropMod),
		idField, copyRev, copyPath,
	}
	_, err := io.WriteString(w, strings.Join(fields, " ")+"\n")
	return err
}

func boolFlag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// DecodeChanges reads a change-log stream off r until EOF, returning
// records in their on-disk (unfolded) order.
func DecodeChanges(r *bufio.Reader) ([]*Change, error) {
	var out []*Change
	for {
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				return out, nil
			}
			return nil, ioErrf(err, "")
		}
		line = trimNewline(line)
		if line == "" {
			if err == io.EOF {
				return out, nil
			}
			continue
		}
		c, perr := parseChangeLine(line)
		if perr != nil {
			return nil, perr
		}
		out = append(out, c)
		if err == io.EOF {
			return out, nil
		}
	}
}

func parseChangeLine(line string) (*Change, error) {
	fields := strings.Fields(line)
	if len(fields) != 8 {
		return nil, corruptf("malformed change record: %q", line)
	}
	kind, err := parseChangeKind(fields[1])
	if err != nil {
		return nil, err
	}
	c := &Change{Path: fields[0], Kind: kind, CopyFromRev: NoRevision}

	switch fields[2] {
	case "file":
		c.Node = KindFile
	case "dir":
		c.Node = KindDir
	}
	c.TextMod = fields[3] == "true"
	c.PropMod = fields[4] == "true"

	if fields[5] != "-" {
		id, err := ParseID(fields[5])
		if err != nil {
			return nil, err
		}
		c.ID = id
	} else if kind != ChangeReset {
		return nil, corruptf("change record %q: non-reset change missing node-rev id", line)
	}

	if fields[6] != "-1" {
		rev, err := strconv.ParseInt(fields[6], 10, 64)
		if err != nil {
			return nil, corruptf("malformed copyfrom revision: %q", fields[6])
		}
		c.CopyFromRev = Revnum(rev)
		if fields[7] != "-" {
			c.CopyFromPath = fields[7]
		}
	}

	return c, nil
}

// FoldChanges is the single rule spec's REDESIGN FLAGS section asks for:
// one fold implementation shared by the commit-time fold and the
// read-time fold, rather than the two subtly-divergent folds the source
// kept. It applies spec §4.5's merge rules in log order and returns the
// result as a path-sorted slice.
//
// prefolded must be true for an already-committed change stream (no
// sub-path pruning needed: the writer already pruned it) and false for
// a still-accumulating transaction change log (descendants of a
// delete/replace must be pruned as they're folded in).
func FoldChanges(changes []*Change, prefolded bool) ([]*Change, error) {
	order := make([]string, 0, len(changes))
	folded := make(map[string]*Change, len(changes))

	for _, c := range changes {
		prev, existed := folded[c.Path]

		if err := sanityCheck(c, prev, existed); err != nil {
			return nil, err
		}

		switch c.Kind {
		case ChangeReset:
			if existed {
				delete(folded, c.Path)
				order = removeFromOrder(order, c.Path)
			}
			continue
		case ChangeDelete:
			if existed && prev.Kind == ChangeAdd {
				// add-then-delete within the same transaction: vanishes entirely.
				delete(folded, c.Path)
				order = removeFromOrder(order, c.Path)
			} else {
				nc := *c
				folded[c.Path] = &nc
				if !existed {
					order = append(order, c.Path)
				}
			}
		case ChangeAdd, ChangeReplace:
			nc := *c
			if existed && prev.Kind == ChangeDelete {
				// add or replace following a delete on the same path is
				// a replace, not a fresh add (spec §4.5).
				nc.Kind = ChangeReplace
			}
			folded[c.Path] = &nc
			if !existed {
				order = append(order, c.Path)
			}
		case ChangeModify:
			if existed && prev.Kind == ChangeModify {
				nc := *prev
				nc.TextMod = nc.TextMod || c.TextMod
				nc.PropMod = nc.PropMod || c.PropMod
				nc.ID = c.ID
				folded[c.Path] = &nc
			} else {
				nc := *c
				folded[c.Path] = &nc
				if !existed {
					order = append(order, c.Path)
				}
			}
		}

		if !prefolded && (c.Kind == ChangeDelete || c.Kind == ChangeReplace) && c.Node == KindDir {
			pruneDescendants(folded, &order, c.Path)
		}
	}

	sort.Strings(order)
	out := make([]*Change, 0, len(order))
	for _, p := range order {
		out = append(out, folded[p])
	}
	return out, nil
}

// sanityCheck applies spec §4.5's corruption rules: a non-reset change
// with no node-rev id; an id change not preceded by a delete; an add
// not preceded by delete/reset; anything but add/replace/reset
// following a delete.
func sanityCheck(c, prev *Change, existed bool) error {
	if c.Kind != ChangeReset && c.ID.NodeID == "" {
		return corruptf("change record for %q: non-reset change with no node-rev id", c.Path)
	}
	if existed && prev.Kind != ChangeDelete && c.Kind != ChangeReset && c.ID != prev.ID {
		return corruptf("change record for %q: node-rev id changed without an intervening delete", c.Path)
	}
	if c.Kind == ChangeAdd && existed && prev.Kind != ChangeDelete && prev.Kind != ChangeReset {
		return corruptf("change record for %q: add follows %s, not delete/reset", c.Path, prev.Kind)
	}
	if existed && prev.Kind == ChangeDelete {
		switch c.Kind {
		case ChangeAdd, ChangeReplace, ChangeReset:
		default:
			return corruptf("change record for %q: %s follows delete", c.Path, c.Kind)
		}
	}
	return nil
}

func removeFromOrder(order []string, path string) []string {
	for i, p := range order {
		if p == path {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

// pruneDescendants discards every folded entry strictly under prefix,
// using separator-based prefix matching (spec §4.5).
func pruneDescendants(folded map[string]*Change, order *[]string, prefix string) {
	dirPrefix := prefix
	if !strings.HasSuffix(dirPrefix, "/") {
		dirPrefix += "/"
	}
	var kept []string
	for _, p := range *order {
		if strings.HasPrefix(p, dirPrefix) {
			delete(folded, p)
			continue
		}
		kept = append(kept, p)
	}
	*order = kept
}
