package fsfs

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
)

// NodeOrigins is the node-ID -> origin-node-ID map spec §3 mentions as
// part of a repository's data model and §4.7 step 9 requires hot-copy to
// replicate verbatim. An origin is set once, the first time a node
// identity is created (by a plain add, or inherited from whatever it was
// copied from), and never changes afterward - this lets later history
// navigation trace a node back through renames-via-copy to where it
// first came into existence, even though a copy mints a brand new
// node-ID in this engine's identifier model.
//
// Like LockStore, this is a flat table rather than the original's own
// directory-per-node-id tree: a single small file round-trips fine for
// everything this package exposes.
type NodeOrigins struct {
	mu      sync.Mutex
	path    string
	origins map[string]string
}

// OpenNodeOrigins loads (or initializes) the node-origins table at path.
func OpenNodeOrigins(path string) (*NodeOrigins, error) {
	o := &NodeOrigins{path: path, origins: map[string]string{}}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return o, nil
	}
	if err != nil {
		return nil, ioErrf(err, path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 2)
		if len(fields) != 2 {
			return nil, corruptf("malformed node-origins row: %q", line)
		}
		o.origins[fields[0]] = fields[1]
	}
	if err := scanner.Err(); err != nil {
		return nil, ioErrf(err, path)
	}
	return o, nil
}

// Get returns the recorded origin of nodeID, if any.
func (o *NodeOrigins) Get(nodeID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	origin, ok := o.origins[nodeID]
	return origin, ok
}

// RecordBatch sets the origin of every nodeID in entries that doesn't
// already have one, then saves once. Called at the end of a successful
// commit (spec §4.2's lifecycle: committed state only).
func (o *NodeOrigins) RecordBatch(entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	o.mu.Lock()
	changed := false
	for nodeID, origin := range entries {
		if _, ok := o.origins[nodeID]; !ok {
			o.origins[nodeID] = origin
			changed = true
		}
	}
	o.mu.Unlock()
	if !changed {
		return nil
	}
	return o.save()
}

func (o *NodeOrigins) save() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return atomicReplace(o.path, func(w io.Writer) error {
		nodeIDs := make([]string, 0, len(o.origins))
		for id := range o.origins {
			nodeIDs = append(nodeIDs, id)
		}
		sort.Strings(nodeIDs)
		for _, id := range nodeIDs {
			if _, err := w.Write([]byte(id + "\t" + o.origins[id] + "\n")); err != nil {
				return err
			}
		}
		return nil
	}, 0644)
}
