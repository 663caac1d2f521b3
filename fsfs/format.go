package fsfs

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
)

// MinFormat/MaxFormat bound the format numbers this engine understands
// (spec §6). Formats above MaxFormat are rejected outright, never
// partially read.
const (
	MinFormat = 1
	MaxFormat = 6

	DefaultShardSize = 1000
)

// Format gating, exactly as spec §6 lays it out.
func formatSupportsPacking(f int) bool       { return f >= 4 }
func formatSupportsRepSharing(f int) bool    { return f >= 4 }
func formatSupportsMergeinfo(f int) bool     { return f >= 3 }
func formatSupportsTxnCurrent(f int) bool    { return f >= 3 }
func formatSupportsProtoRevDir(f int) bool   { return f >= 3 }
func formatSupportsNoGlobalIDs(f int) bool   { return f >= 4 }
func formatSupportsPackedProps(f int) bool   { return f >= 6 }
func formatSupportsDeltification(f int) bool { return f >= 6 }

// Layout describes the "layout" option line in db/format.
type Layout struct {
	Sharded   bool
	ShardSize int
}

// FormatStamp is the parsed content of db/format (spec §6).
type FormatStamp struct {
	Version int
	Layout  Layout
}

func defaultLayout() Layout { return Layout{Sharded: true, ShardSize: DefaultShardSize} }

// ReadFormat parses db/format: first line a decimal version, subsequent
// lines "key value" options.
func ReadFormat(path string) (*FormatStamp, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ioErrf(err, path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return nil, corruptf("empty format file: %s", path)
	}
	version, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return nil, corruptf("malformed format version in %s: %v", path, err)
	}
	if version < MinFormat || version > MaxFormat {
		return nil, &Error{Kind: KindFormatUnsupported, Path: path,
			Message: "unsupported repository format " + strconv.Itoa(version)}
	}

	stamp := &FormatStamp{Version: version, Layout: Layout{Sharded: false}}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch {
		case fields[0] == "layout" && len(fields) >= 2 && fields[1] == "linear":
			stamp.Layout = Layout{Sharded: false}
		case fields[0] == "layout" && len(fields) >= 3 && fields[1] == "sharded":
			size, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, corruptf("malformed shard size in %s: %v", path, err)
			}
			stamp.Layout = Layout{Sharded: true, ShardSize: size}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, ioErrf(err, path)
	}
	return stamp, nil
}

// WriteFormat atomically writes db/format: the format number, then the
// layout option line. CreateRepository calls it before writing any other
// repository file, so it is not the last write of an init.
func WriteFormat(path string, stamp *FormatStamp) error {
	var b strings.Builder
	b.WriteString(strconv.Itoa(stamp.Version))
	b.WriteByte('\n')
	if stamp.Layout.Sharded {
		b.WriteString("layout sharded " + strconv.Itoa(stamp.Layout.ShardSize) + "\n")
	} else {
		b.WriteString("layout linear\n")
	}
	return atomicReplace(path, func(w io.Writer) error {
		_, err := w.Write([]byte(b.String()))
		return err
	}, 0644)
}

// Current is the parsed content of db/current (spec §6).
type Current struct {
	Youngest    Revnum
	NextNodeID  uint64 // legacy formats only
	NextCopyID  uint64 // legacy formats only
}

// ReadCurrent parses db/current according to the format's layout:
// format >= 4 is a single decimal integer; legacy formats are three
// base-36 tokens.
func ReadCurrent(path string, format int) (*Current, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioErrf(err, path)
	}
	line := strings.TrimSpace(string(data))

	if formatSupportsNoGlobalIDs(format) {
		n, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, corruptf("malformed current file: %q", line)
		}
		return &Current{Youngest: Revnum(n)}, nil
	}

	fields := strings.Fields(line)
	if len(fields) != 3 {
		return nil, corruptf("malformed legacy current file: %q", line)
	}
	rev, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return nil, corruptf("malformed current revision: %q", fields[0])
	}
	nodeID, err := base36Decode(fields[1])
	if err != nil {
		return nil, corruptf("malformed current next-node-id: %q", fields[1])
	}
	copyID, err := base36Decode(fields[2])
	if err != nil {
		return nil, corruptf("malformed current next-copy-id: %q", fields[2])
	}
	return &Current{Youngest: Revnum(rev), NextNodeID: nodeID, NextCopyID: copyID}, nil
}

// WriteCurrent overwrites db/current atomically (write-temp-then-rename,
// spec §4.4 step 11).
func WriteCurrent(path string, cur *Current, format int) error {
	var line string
	if formatSupportsNoGlobalIDs(format) {
		line = strconv.FormatInt(int64(cur.Youngest), 10) + "\n"
	} else {
		line = strconv.FormatInt(int64(cur.Youngest), 10) + " " +
			base36Encode(cur.NextNodeID) + " " + base36Encode(cur.NextCopyID) + "\n"
	}
	return atomicReplace(path, func(w io.Writer) error {
		_, err := w.Write([]byte(line))
		return err
	}, 0644)
}

// shardOf returns the shard directory index for a revision under the
// given layout (spec §3: "indexed by revision / S").
func shardOf(rev Revnum, layout Layout) Revnum {
	if !layout.Sharded {
		return 0
	}
	return rev / Revnum(layout.ShardSize)
}
