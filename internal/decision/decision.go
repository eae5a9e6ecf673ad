// Package decision reads and writes the sealed global decision log plus the
// per-shard drop files derived from it. The log records, for every distinct
// fingerprint in the corpus, which single (shard, row) occurrence is kept;
// drop files give the rewrite stage a shard-local view of the removed rows so
// rewriting never needs the full log in memory.
package decision

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
	"github.com/pretrainer/deduplicator-master/internal/runfile"
)

const (
	logMagic   = "ddec"
	dropMagic  = "ddrp"
	version    = 1
	writeBuf   = 256 * 1024
	maxRemoved = 1 << 30 // sanity bound when decoding occurrence counts
)

// ErrNotSealed is returned when a working directory holds no sealed decision
// log. Callers must distinguish this from a log with zero duplicates, which
// is a valid outcome.
var ErrNotSealed = errors.New("no sealed decision log in working directory")

// Entry is one fingerprint's verdict: the kept occurrence plus every removed
// one. Singletons have an empty Removed list. Removed locations are in
// ascending (shard, row) order and are always greater than Kept.
type Entry struct {
	FP      fingerprint.Fingerprint
	Kept    runfile.Location
	Removed []runfile.Location
}

// Writer streams entries in ascending fingerprint order to a temporary file;
// Seal publishes it. An unsealed temporary is ignored by readers.
type Writer struct {
	path string
	tmp  string
	f    *os.File
	bw   *bufio.Writer
	zw   *zstd.Encoder
}

// NewWriter starts a decision log at path.
func NewWriter(path string) (*Writer, error) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create decision log %q: %w", tmp, err)
	}
	bw := bufio.NewWriterSize(f, writeBuf)
	zw, err := zstd.NewWriter(bw)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("zstd writer for %q: %w", tmp, err)
	}
	hdr := append([]byte(logMagic), version)
	if _, err := zw.Write(hdr); err != nil {
		zw.Close()
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("write decision log header: %w", err)
	}
	return &Writer{path: path, tmp: tmp, f: f, bw: bw, zw: zw}, nil
}

// Append writes one entry. Entries must arrive in ascending fingerprint
// order with Removed sorted; the merge produces both by construction.
func (w *Writer) Append(e Entry) error {
	var scratch [8]byte
	if _, err := w.zw.Write(e.FP[:]); err != nil {
		return fmt.Errorf("write decision entry: %w", err)
	}
	binary.BigEndian.PutUint32(scratch[:4], uint32(1+len(e.Removed)))
	if _, err := w.zw.Write(scratch[:4]); err != nil {
		return fmt.Errorf("write decision entry: %w", err)
	}
	writeLoc := func(l runfile.Location) error {
		binary.BigEndian.PutUint32(scratch[:4], l.Shard)
		binary.BigEndian.PutUint32(scratch[4:], l.Row)
		_, err := w.zw.Write(scratch[:])
		return err
	}
	if err := writeLoc(e.Kept); err != nil {
		return fmt.Errorf("write decision entry: %w", err)
	}
	for _, l := range e.Removed {
		if err := writeLoc(l); err != nil {
			return fmt.Errorf("write decision entry: %w", err)
		}
	}
	return nil
}

// Seal flushes, syncs and publishes the log under its final name. After Seal
// the log is read-only for every consumer.
func (w *Writer) Seal() error {
	if err := w.zw.Close(); err != nil {
		w.Abort()
		return fmt.Errorf("finish decision log: %w", err)
	}
	if err := w.bw.Flush(); err != nil {
		w.Abort()
		return fmt.Errorf("flush decision log: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("sync decision log: %w", err)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("close decision log: %w", err)
	}
	if err := os.Rename(w.tmp, w.path); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("publish decision log %q: %w", w.path, err)
	}
	return nil
}

// Abort discards the unsealed log.
func (w *Writer) Abort() {
	w.zw.Close()
	w.f.Close()
	os.Remove(w.tmp)
}

// Reader streams a sealed decision log entry by entry.
type Reader struct {
	path string
	f    *os.File
	zr   *zstd.Decoder
	prev fingerprint.Fingerprint
	some bool
}

// OpenReader opens the sealed log at path, returning ErrNotSealed when the
// file does not exist.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrNotSealed
	}
	if err != nil {
		return nil, fmt.Errorf("open decision log %q: %w", path, err)
	}
	zr, err := zstd.NewReader(bufio.NewReaderSize(f, writeBuf))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd reader for %q: %w", path, err)
	}
	hdr := make([]byte, len(logMagic)+1)
	if _, err := io.ReadFull(zr, hdr); err != nil {
		zr.Close()
		f.Close()
		return nil, fmt.Errorf("read decision log header %q: %w", path, err)
	}
	if string(hdr[:4]) != logMagic {
		zr.Close()
		f.Close()
		return nil, fmt.Errorf("decision log %q: bad magic %q", path, hdr[:4])
	}
	if hdr[4] != version {
		zr.Close()
		f.Close()
		return nil, fmt.Errorf("decision log %q: version %d not supported (want %d)", path, hdr[4], version)
	}
	return &Reader{path: path, f: f, zr: zr}, nil
}

// Next returns the next entry, or io.EOF at the end. Fingerprint order is
// enforced: a log that goes backwards is corrupt.
func (r *Reader) Next() (Entry, error) {
	var e Entry
	if _, err := io.ReadFull(r.zr, e.FP[:]); err != nil {
		if err == io.EOF {
			return Entry{}, io.EOF
		}
		return Entry{}, fmt.Errorf("read decision log %q: %w", r.path, err)
	}
	if r.some && r.prev.Compare(e.FP) >= 0 {
		return Entry{}, fmt.Errorf("decision log %q: fingerprint %s out of order", r.path, e.FP.Short())
	}
	r.prev, r.some = e.FP, true

	var scratch [8]byte
	if _, err := io.ReadFull(r.zr, scratch[:4]); err != nil {
		return Entry{}, fmt.Errorf("read decision log %q: %w", r.path, err)
	}
	count := binary.BigEndian.Uint32(scratch[:4])
	if count == 0 || count > maxRemoved {
		return Entry{}, fmt.Errorf("decision log %q: implausible occurrence count %d", r.path, count)
	}
	readLoc := func() (runfile.Location, error) {
		if _, err := io.ReadFull(r.zr, scratch[:]); err != nil {
			return runfile.Location{}, fmt.Errorf("read decision log %q: %w", r.path, err)
		}
		return runfile.Location{
			Shard: binary.BigEndian.Uint32(scratch[:4]),
			Row:   binary.BigEndian.Uint32(scratch[4:]),
		}, nil
	}
	var err error
	if e.Kept, err = readLoc(); err != nil {
		return Entry{}, err
	}
	if count > 1 {
		e.Removed = make([]runfile.Location, count-1)
		for i := range e.Removed {
			if e.Removed[i], err = readLoc(); err != nil {
				return Entry{}, err
			}
		}
	}
	return e, nil
}

// Close releases the reader.
func (r *Reader) Close() error {
	r.zr.Close()
	return r.f.Close()
}

// WriteDrops writes the removed row indexes for one shard, sorted ascending,
// as that shard's drop file. rows may arrive unsorted; they are sorted here
// because the merge discovers removals in fingerprint order.
func WriteDrops(path string, rows []uint32) error {
	sort.Slice(rows, func(i, j int) bool { return rows[i] < rows[j] })

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create drop file %q: %w", tmp, err)
	}
	bw := bufio.NewWriterSize(f, writeBuf)
	zw, err := zstd.NewWriter(bw)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("zstd writer for %q: %w", tmp, err)
	}
	abort := func() {
		zw.Close()
		f.Close()
		os.Remove(tmp)
	}

	hdr := append([]byte(dropMagic), version)
	if _, err := zw.Write(hdr); err != nil {
		abort()
		return fmt.Errorf("write drop file header: %w", err)
	}
	var scratch [4]byte
	for _, row := range rows {
		binary.BigEndian.PutUint32(scratch[:], row)
		if _, err := zw.Write(scratch[:]); err != nil {
			abort()
			return fmt.Errorf("write drop file %q: %w", tmp, err)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("finish drop file %q: %w", tmp, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush drop file %q: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync drop file %q: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close drop file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish drop file %q: %w", path, err)
	}
	return nil
}

// LoadDrops reads a shard's drop file into a set of removed row indexes. A
// missing file means the shard has no removed rows.
func LoadDrops(path string) (map[uint32]struct{}, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open drop file %q: %w", path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(bufio.NewReaderSize(f, writeBuf))
	if err != nil {
		return nil, fmt.Errorf("zstd reader for %q: %w", path, err)
	}
	defer zr.Close()

	hdr := make([]byte, len(dropMagic)+1)
	if _, err := io.ReadFull(zr, hdr); err != nil {
		return nil, fmt.Errorf("read drop file header %q: %w", path, err)
	}
	if string(hdr[:4]) != dropMagic {
		return nil, fmt.Errorf("drop file %q: bad magic %q", path, hdr[:4])
	}
	if hdr[4] != version {
		return nil, fmt.Errorf("drop file %q: version %d not supported (want %d)", path, hdr[4], version)
	}

	drops := make(map[uint32]struct{})
	var scratch [4]byte
	for {
		if _, err := io.ReadFull(zr, scratch[:]); err != nil {
			if err == io.EOF {
				return drops, nil
			}
			return nil, fmt.Errorf("read drop file %q: %w", path, err)
		}
		drops[binary.BigEndian.Uint32(scratch[:])] = struct{}{}
	}
}
