// Package runfile reads and writes the sorted per-shard run files kept under
// the working directory. A run holds one fixed-width entry per row of its
// shard, sorted by (fingerprint, row index), and is the unit the global merge
// consumes. Runs are zstd-compressed and published atomically; a finalized
// run never changes.
package runfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/pretrainer/deduplicator-master/internal/fingerprint"
)

// File format: a single zstd stream containing a header followed by
// fixed-width entries.
const (
	magic       = "drun"
	version     = 1
	headerSize  = len(magic) + 1 + 4 // magic, version, shard ordinal
	entrySize   = fingerprint.Size + 4
	writeBufLen = 256 * 1024
)

// ErrOutOfOrder is returned by Reader when a run file's entries are not
// sorted by (fingerprint, row). A finalized run is sorted by construction, so
// disorder means the file is corrupt or was produced by something else.
var ErrOutOfOrder = errors.New("run entries out of order")

// Entry locates one row's fingerprint: the row index within the run's shard
// plus the digest of the row's content. The shard ordinal lives in the file
// header, not in each entry, since a run covers exactly one shard.
type Entry struct {
	FP  fingerprint.Fingerprint
	Row uint32
}

// Less orders entries by (fingerprint, row), the canonical run order.
func (e Entry) Less(other Entry) bool {
	if c := e.FP.Compare(other.FP); c != 0 {
		return c < 0
	}
	return e.Row < other.Row
}

// SortEntries sorts a spill buffer into run order in place.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Less(entries[j]) })
}

// WriteFile writes sorted entries for one shard to path via a temporary
// sibling plus rename. Entries must already be in run order; segments
// produced from a sorted spill buffer and runs produced by MergeSegments
// both satisfy this.
func WriteFile(path string, ordinal int, entries []Entry) error {
	w, err := newWriter(path, ordinal)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := w.append(e); err != nil {
			w.abort()
			return err
		}
	}
	return w.commit()
}

// writer streams entries into a temporary file, publishing on commit.
type writer struct {
	path string
	tmp  string
	f    *os.File
	zw   *zstd.Encoder
	bw   *bufio.Writer
	buf  [entrySize]byte
}

func newWriter(path string, ordinal int) (*writer, error) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create run file %q: %w", tmp, err)
	}
	bw := bufio.NewWriterSize(f, writeBufLen)
	zw, err := zstd.NewWriter(bw)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("zstd writer for %q: %w", tmp, err)
	}

	var hdr [headerSize]byte
	copy(hdr[:], magic)
	hdr[4] = version
	binary.BigEndian.PutUint32(hdr[5:], uint32(ordinal))
	if _, err := zw.Write(hdr[:]); err != nil {
		zw.Close()
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("write run header %q: %w", tmp, err)
	}
	return &writer{path: path, tmp: tmp, f: f, zw: zw, bw: bw}, nil
}

func (w *writer) append(e Entry) error {
	copy(w.buf[:], e.FP[:])
	binary.BigEndian.PutUint32(w.buf[fingerprint.Size:], e.Row)
	if _, err := w.zw.Write(w.buf[:]); err != nil {
		return fmt.Errorf("write run entry: %w", err)
	}
	return nil
}

func (w *writer) commit() error {
	if err := w.zw.Close(); err != nil {
		w.abort()
		return fmt.Errorf("finish run %q: %w", w.tmp, err)
	}
	if err := w.bw.Flush(); err != nil {
		w.abort()
		return fmt.Errorf("flush run %q: %w", w.tmp, err)
	}
	if err := w.f.Sync(); err != nil {
		w.abort()
		return fmt.Errorf("sync run %q: %w", w.tmp, err)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("close run %q: %w", w.tmp, err)
	}
	if err := os.Rename(w.tmp, w.path); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("publish run %q: %w", w.path, err)
	}
	return nil
}

func (w *writer) abort() {
	w.zw.Close()
	w.f.Close()
	os.Remove(w.tmp)
}

// Reader streams a run file's entries in order, rejecting disorder so a
// corrupt run can never feed the merge silently.
type Reader struct {
	path    string
	f       *os.File
	zr      *zstd.Decoder
	ordinal int
	prev    Entry
	started bool
	buf     [entrySize]byte
}

// Open opens the run file at path and validates its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open run %q: %w", path, err)
	}
	zr, err := zstd.NewReader(bufio.NewReaderSize(f, writeBufLen))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd reader for %q: %w", path, err)
	}

	var hdr [headerSize]byte
	if _, err := io.ReadFull(zr, hdr[:]); err != nil {
		zr.Close()
		f.Close()
		return nil, fmt.Errorf("read run header %q: %w", path, err)
	}
	if string(hdr[:4]) != magic {
		zr.Close()
		f.Close()
		return nil, fmt.Errorf("run %q: bad magic %q", path, hdr[:4])
	}
	if hdr[4] != version {
		zr.Close()
		f.Close()
		return nil, fmt.Errorf("run %q: version %d not supported (want %d)", path, hdr[4], version)
	}
	ordinal := int(binary.BigEndian.Uint32(hdr[5:]))
	return &Reader{path: path, f: f, zr: zr, ordinal: ordinal}, nil
}

// Ordinal returns the shard ordinal recorded in the run header.
func (r *Reader) Ordinal() int { return r.ordinal }

// Next returns the next entry, io.EOF at the end, or ErrOutOfOrder when the
// file violates run order.
func (r *Reader) Next() (Entry, error) {
	n, err := io.ReadFull(r.zr, r.buf[:])
	if err == io.EOF {
		return Entry{}, io.EOF
	}
	if err != nil {
		return Entry{}, fmt.Errorf("read run %q after %d bytes: %w", r.path, n, err)
	}
	var e Entry
	copy(e.FP[:], r.buf[:fingerprint.Size])
	e.Row = binary.BigEndian.Uint32(r.buf[fingerprint.Size:])
	if r.started && !r.prev.Less(e) {
		return Entry{}, fmt.Errorf("run %q: entry for row %d: %w", r.path, e.Row, ErrOutOfOrder)
	}
	r.prev, r.started = e, true
	return e, nil
}

// Close releases the reader.
func (r *Reader) Close() error {
	r.zr.Close()
	return r.f.Close()
}
