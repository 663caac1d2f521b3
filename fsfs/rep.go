package fsfs

import (
	"bufio"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RepKind distinguishes the two shapes a representation body can take
// on disk (spec §3/§6): a literal fulltext, or an svndiff window stream
// against an older representation.
type RepKind int

const (
	RepPlain RepKind = iota
	RepDelta
)

func (k RepKind) String() string {
	if k == RepPlain {
		return "PLAIN"
	}
	return "DELTA"
}

// Representation is the descriptor spec §3 names: where its header lives,
// its on-disk and expanded lengths, its checksums, and (if still
// in-flight) the transaction that owns it.
type Representation struct {
	Rev    Revnum // NoRevision while mutable
	TxnID  TxnID
	Offset int64
	Size   int64 // on-disk byte length of the payload, not counting the header line or ENDREP
	ExpandedSize int64

	MD5  [md5.Size]byte
	SHA1 [sha1.Size]byte
	HasSHA1 bool

	Uniquifier string

	Kind       RepKind
	BaseRev    Revnum
	BaseOffset int64
	BaseLen    int64
}

// IsMutable reports whether this representation still lives in a
// transaction rather than a committed revision.
func (r *Representation) IsMutable() bool { return r.Rev == NoRevision }

// marshalLine renders the "text:"/"props:" node-rev field value per
// the original engine's on-disk vocabulary (original_source
// low_level.c read_rep_offsets_body): "<rev> <offset> <size>
// <expanded-size> <md5hex> [<sha1hex> [<uniquifier>]]". omitSHA1
// controls the spec §4.2 rule that directory and property
// representations never persist a SHA-1.
func (r *Representation) marshalLine(omitSHA1 bool) string {
	rev := "-1"
	if !r.IsMutable() {
		rev = strconv.FormatInt(int64(r.Rev), 10)
	}
	line := fmt.Sprintf("%s %d %d %d %s", rev, r.Offset, r.Size, r.ExpandedSize, hex.EncodeToString(r.MD5[:]))
	if !omitSHA1 && r.HasSHA1 {
		line += " " + hex.EncodeToString(r.SHA1[:])
		if r.Uniquifier != "" {
			line += " " + r.Uniquifier
		}
	}
	return line
}

// parseRepLine parses the value half of a "text:"/"props:" header line.
// txnID supplies the owning transaction when rev is "-1".
func parseRepLine(s string, txnID TxnID) (*Representation, error) {
	fields := strings.Fields(s)
	if len(fields) < 4 {
		return nil, corruptf("malformed representation line: %q", s)
	}
	rep := &Representation{}

	rev, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return nil, corruptf("malformed representation revision: %q", fields[0])
	}
	if rev < 0 {
		rep.Rev = NoRevision
		rep.TxnID = txnID
	} else {
		rep.Rev = Revnum(rev)
	}

	off, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, corruptf("malformed representation offset: %q", fields[1])
	}
	rep.Offset = off

	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, corruptf("malformed representation size: %q", fields[2])
	}
	rep.Size = size

	exp, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return nil, corruptf("malformed representation expanded size: %q", fields[3])
	}
	rep.ExpandedSize = exp

	if len(fields) >= 5 {
		md5b, err := hex.DecodeString(fields[4])
		if err != nil || len(md5b) != md5.Size {
			return nil, corruptf("malformed representation md5: %q", fields[4])
		}
		copy(rep.MD5[:], md5b)
	}
	if len(fields) >= 6 {
		sha1b, err := hex.DecodeString(fields[5])
		if err != nil || len(sha1b) != sha1.Size {
			return nil, corruptf("malformed representation sha1: %q", fields[5])
		}
		copy(rep.SHA1[:], sha1b)
		rep.HasSHA1 = true
	}
	if len(fields) >= 7 {
		rep.Uniquifier = fields[6]
	}

	return rep, nil
}

// repHeaderLine/ENDREP are the body-level framing around a
// representation's bytes (spec §6): a one-line header, the payload,
// then a cosmetic "ENDREP\n" sentinel.
func repHeaderLine(rep *Representation) string {
	if rep.Kind == RepPlain {
		return "PLAIN\n"
	}
	return fmt.Sprintf("DELTA %d %d %d\n", rep.BaseRev, rep.BaseOffset, rep.BaseLen)
}

const endRepMarker = "ENDREP\n"

// parseRepHeaderLine parses the "PLAIN" / "DELTA base-rev base-off
// base-len" line that opens a representation body.
func parseRepHeaderLine(line string) (kind RepKind, baseRev Revnum, baseOff, baseLen int64, err error) {
	line = trimNewline(line)
	if line == "PLAIN" {
		return RepPlain, 0, 0, 0, nil
	}
	fields := strings.Fields(line)
	if len(fields) != 4 || fields[0] != "DELTA" {
		return 0, 0, 0, 0, corruptf("malformed representation header: %q", line)
	}
	rev, err1 := strconv.ParseInt(fields[1], 10, 64)
	off, err2 := strconv.ParseInt(fields[2], 10, 64)
	ln, err3 := strconv.ParseInt(fields[3], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, 0, corruptf("malformed representation header: %q", line)
	}
	return RepDelta, Revnum(rev), off, ln, nil
}

// --- Skip-delta base selection (spec §4.2) ---

// BaseSelection is the outcome of choosing a delta base for a node
// revision with the given predecessor-count.
type BaseSelection struct {
	UseBase bool // false means: emit PLAIN
	// AncestorPredCount is the predecessor-count of the ancestor whose
	// representation should be used as the base, valid only if UseBase.
	AncestorPredCount int
}

// selectDeltaBase implements spec §4.2's base-selection rule:
//
//	p == 0                      -> PLAIN
//	c = p & (p-1); walk = p - c
//	walk < MaxLinearDeltification -> base is the immediate predecessor
//	walk > MaxDeltificationWalk    -> abandon, PLAIN, fresh chain
//	otherwise                      -> base is the ancestor with pred-count c
//
// MaxDeltificationWalk == 0 disables deltification entirely (every
// representation is PLAIN), per spec §8's boundary behavior.
func selectDeltaBase(predCount int, cfg *Config) BaseSelection {
	if predCount == 0 || cfg.MaxDeltificationWalk == 0 {
		return BaseSelection{UseBase: false}
	}
	c := predCount & (predCount - 1)
	walk := predCount - c

	linear := cfg.MaxLinearDeltification
	if linear < 1 {
		linear = 1
	}

	if walk < linear {
		return BaseSelection{UseBase: true, AncestorPredCount: predCount - 1}
	}
	if walk > cfg.MaxDeltificationWalk {
		return BaseSelection{UseBase: false}
	}
	return BaseSelection{UseBase: true, AncestorPredCount: c}
}

// maxChainLength is the bound spec §4.2/§8 place on a shared base's
// resulting chain: 2*MaxLinearDeltification + 2.
func maxChainLength(cfg *Config) int {
	return 2*cfg.MaxLinearDeltification + 2
}

// RepHeaderSource lets the base-selection "shared base" check walk a
// delta chain purely from (rev, offset) pairs, without depending on the
// revision-reader package's full machinery. revread.go's
// Repository.ReadRepHeaderAt implements this.
type RepHeaderSource interface {
	ReadRepHeaderAt(rev Revnum, offset int64) (kind RepKind, baseRev Revnum, baseOffset int64, err error)
}

// chainLength walks base pointers from rep until it reaches a PLAIN
// representation (or the walk terminates in error), returning the
// number of DELTA hops traversed. Used to decide, per spec §4.2, whether
// a shared base's resulting chain is too long and a fresh PLAIN should
// be emitted instead.
func chainLength(src RepHeaderSource, rev Revnum, offset int64, bound int) (int, error) {
	hops := 0
	for hops <= bound {
		kind, baseRev, baseOffset, err := src.ReadRepHeaderAt(rev, offset)
		if err != nil {
			return hops, err
		}
		if kind == RepPlain {
			return hops, nil
		}
		hops++
		rev, offset = baseRev, baseOffset
	}
	return hops, nil
}

// writeRepBody writes a representation body (header line, payload,
// ENDREP) to w, returning the byte count written (header+payload+
// sentinel) so the caller can advance its write offset past the body.
func writeRepBody(w io.Writer, rep *Representation, payload []byte) (int64, error) {
	header := repHeaderLine(rep)
	n := 0
	if err := writeAll(w, header); err != nil {
		return 0, err
	}
	n += len(header)
	if err := writeAllBytes(w, payload); err != nil {
		return 0, err
	}
	n += len(payload)
	if err := writeAll(w, endRepMarker); err != nil {
		return 0, err
	}
	n += len(endRepMarker)
	return int64(n), nil
}

func writeAll(w io.Writer, s string) error {
	_, err := io.WriteString(w, s)
	return err
}

func writeAllBytes(w io.Writer, b []byte) error {
	_, err := w.Write(b)
	return err
}

// readRepBody reads exactly size bytes of payload immediately following
// a representation header line already consumed from br, then verifies
// the ENDREP sentinel follows.
func readRepBody(br *bufio.Reader, size int64) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, ioErrf(err, "")
	}
	sentinel := make([]byte, len(endRepMarker))
	if _, err := io.ReadFull(br, sentinel); err != nil {
		return nil, ioErrf(err, "")
	}
	if string(sentinel) != endRepMarker {
		return nil, corruptf("missing ENDREP sentinel")
	}
	return buf, nil
}
