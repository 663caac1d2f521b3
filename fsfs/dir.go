package fsfs

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// DirEntry is one child of a directory node: its kind and the ID of the
// node revision it currently points to (spec §3: "order-independent
// mapping of name -> (kind, child-ID)").
type DirEntry struct {
	Name string
	Kind NodeKind
	ID   ID
}

// Directory is an in-memory directory listing. It doubles as both the
// fully-reassembled PLAIN view and the target of an incremental overlay
// (spec §4.3 set-entry: dump-then-append), since both forms are read by
// the same sequential K/V-or-D parser.
type Directory struct {
	entries map[string]DirEntry
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{entries: map[string]DirEntry{}}
}

// Clone returns a deep copy.
func (d *Directory) Clone() *Directory {
	nd := NewDirectory()
	for k, v := range d.entries {
		nd.entries[k] = v
	}
	return nd
}

// Get looks up a child by name.
func (d *Directory) Get(name string) (DirEntry, bool) {
	e, ok := d.entries[name]
	return e, ok
}

// Set adds or overwrites a child.
func (d *Directory) Set(name string, kind NodeKind, id ID) {
	d.entries[name] = DirEntry{Name: name, Kind: kind, ID: id}
}

// Remove deletes a child if present.
func (d *Directory) Remove(name string) {
	delete(d.entries, name)
}

// Names returns the child names in sorted order, the order the engine
// always serializes entries in regardless of insertion order (spec §3).
func (d *Directory) Names() []string {
	names := make([]string, 0, len(d.entries))
	for n := range d.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of children.
func (d *Directory) Len() int { return len(d.entries) }

// Equal reports whether two directories list identical entries,
// irrespective of order (spec §8: "listing D twice returns equal
// mappings").
func (d *Directory) Equal(o *Directory) bool {
	if len(d.entries) != len(o.entries) {
		return false
	}
	for name, e := range d.entries {
		oe, ok := o.entries[name]
		if !ok || oe != e {
			return false
		}
	}
	return true
}

func entryValue(e DirEntry) string {
	return e.Kind.String() + " " + e.ID.Unparse()
}

func parseEntryValue(s string) (NodeKind, ID, error) {
	idx := strings.IndexByte(s, ' ')
	if idx == -1 {
		return 0, ID{}, corruptf("malformed directory entry value: %q", s)
	}
	var kind NodeKind
	switch s[:idx] {
	case "file":
		kind = KindFile
	case "dir":
		kind = KindDir
	default:
		return 0, ID{}, corruptf("unknown directory entry kind: %q", s[:idx])
	}
	id, err := ParseID(s[idx+1:])
	if err != nil {
		return 0, ID{}, err
	}
	return kind, id, nil
}

// EncodePlain writes the full listing in sorted "K name / V kind id"
// form terminated by END (spec §4.6).
func (d *Directory) EncodePlain(w io.Writer) error {
	for _, name := range d.Names() {
		e := d.entries[name]
		if err := writeKVPair(w, name, entryValue(e)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, propsEndMarker)
	return err
}

// EncodeSetEntry appends one incremental "set" op to an overlay stream
// (spec §4.3 set-entry).
func EncodeSetEntry(w io.Writer, name string, kind NodeKind, id ID) error {
	return writeKVPair(w, name, entryValue(DirEntry{Name: name, Kind: kind, ID: id}))
}

// EncodeDeleteEntry appends one incremental "delete" op ("D <len>\n<name>\n").
func EncodeDeleteEntry(w io.Writer, name string) error {
	_, err := io.WriteString(w, "D "+strconv.Itoa(len(name))+"\n"+name+"\n")
	return err
}

func writeKVPair(w io.Writer, name, value string) error {
	if _, err := io.WriteString(w, "K "+strconv.Itoa(len(name))+"\n"+name+"\n"); err != nil {
		return err
	}
	_, err := io.WriteString(w, "V "+strconv.Itoa(len(value))+"\n"+value+"\n")
	return err
}

// DecodeDirectory reads a sequence of K/V ("set") and D ("delete")
// operations off r until an END marker or EOF, applying them in order
// onto base (nil for a fresh PLAIN read). The same routine serves a
// one-shot PLAIN read and a dump-then-incremental-overlay replay, since
// both are just this same op stream (spec §4.3, §4.6).
func DecodeDirectory(r *bufio.Reader, base *Directory) (*Directory, error) {
	d := NewDirectory()
	if base != nil {
		d = base.Clone()
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				return d, nil
			}
			if err != io.EOF {
				return nil, ioErrf(err, "")
			}
		}
		if line == propsEndMarker {
			return d, nil
		}
		if line == "" {
			return d, nil
		}

		switch line[0] {
		case 'K':
			name, err := readSizedField(r, line, 'K')
			if err != nil {
				return nil, err
			}
			valLine, err := r.ReadString('\n')
			if err != nil {
				return nil, ioErrf(err, "")
			}
			val, err := readSizedField(r, valLine, 'V')
			if err != nil {
				return nil, err
			}
			kind, id, err := parseEntryValue(val)
			if err != nil {
				return nil, err
			}
			d.Set(name, kind, id)
		case 'D':
			name, err := readSizedField(r, line, 'D')
			if err != nil {
				return nil, err
			}
			d.Remove(name)
		default:
			return nil, corruptf("malformed directory entry op: %q", trimNewline(line))
		}
	}
}

// dirCache is the per-process directory-listing cache spec §4.6 calls
// for: keyed by the node-rev's unparsed ID, short-circuiting repeated
// listings of the same immutable directory content.
type dirCache struct {
	mu    sync.Mutex
	cache map[string]*Directory
}

func newDirCache() *dirCache {
	return &dirCache{cache: map[string]*Directory{}}
}

func (c *dirCache) get(key string) (*Directory, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.cache[key]
	return d, ok
}

func (c *dirCache) put(key string, d *Directory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = d
}
