package runfile

import (
	"container/heap"
	"fmt"
	"io"
	"os"
)

// Location is one occurrence of a fingerprint in the corpus: the shard it
// lives in plus its row index there. The global merge orders duplicates by
// Location to pick the kept one.
type Location struct {
	Shard uint32
	Row   uint32
}

// Less orders locations by (shard, row), the corpus-canonical order.
func (l Location) Less(other Location) bool {
	if l.Shard != other.Shard {
		return l.Shard < other.Shard
	}
	return l.Row < other.Row
}

// cursor is one open run with its current entry loaded.
type cursor struct {
	r     *Reader
	entry Entry
}

// mergeHeap orders cursors by (fingerprint, shard ordinal, row), so popping
// always yields the globally smallest remaining entry. Equal fingerprints
// surface their kept occurrence first.
type mergeHeap []*cursor

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if c := h[i].entry.FP.Compare(h[j].entry.FP); c != 0 {
		return c < 0
	}
	if h[i].r.ordinal != h[j].r.ordinal {
		return h[i].r.ordinal < h[j].r.ordinal
	}
	return h[i].entry.Row < h[j].entry.Row
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(*cursor)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Merger performs a k-way merge over many open runs, yielding every entry in
// the corpus in (fingerprint, shard, row) order. Memory is bounded by one
// entry per open run, independent of corpus size.
type Merger struct {
	h mergeHeap
}

// NewMerger primes a merger with one cursor per reader. Empty runs are
// skipped. The readers remain owned by the caller and must be closed after
// the merge.
func NewMerger(readers []*Reader) (*Merger, error) {
	m := &Merger{h: make(mergeHeap, 0, len(readers))}
	for _, r := range readers {
		e, err := r.Next()
		if err == io.EOF {
			continue
		}
		if err != nil {
			return nil, err
		}
		m.h = append(m.h, &cursor{r: r, entry: e})
	}
	heap.Init(&m.h)
	return m, nil
}

// Next returns the globally smallest remaining entry with its location, or
// io.EOF once all runs are drained.
func (m *Merger) Next() (Entry, Location, error) {
	if m.h.Len() == 0 {
		return Entry{}, Location{}, io.EOF
	}
	c := m.h[0]
	e := c.entry
	loc := Location{Shard: uint32(c.r.ordinal), Row: e.Row}

	next, err := c.r.Next()
	switch err {
	case nil:
		c.entry = next
		heap.Fix(&m.h, 0)
	case io.EOF:
		heap.Pop(&m.h)
	default:
		return Entry{}, Location{}, err
	}
	return e, loc, nil
}

// MergeSegments merges a shard's sorted spill segments into one finalized run
// at runPath and removes the segments. With a single segment this still
// rewrites the file, which keeps the published run self-validating through
// the same code path.
func MergeSegments(runPath string, ordinal int, segmentPaths []string) (entries int64, err error) {
	readers := make([]*Reader, 0, len(segmentPaths))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()
	for _, p := range segmentPaths {
		r, openErr := Open(p)
		if openErr != nil {
			return 0, openErr
		}
		readers = append(readers, r)
	}

	m, err := NewMerger(readers)
	if err != nil {
		return 0, err
	}
	w, err := newWriter(runPath, ordinal)
	if err != nil {
		return 0, err
	}
	for {
		e, _, err := m.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.abort()
			return 0, err
		}
		if err := w.append(e); err != nil {
			w.abort()
			return 0, err
		}
		entries++
	}
	if err := w.commit(); err != nil {
		return 0, err
	}

	for _, r := range readers {
		r.Close()
	}
	readers = nil
	for _, p := range segmentPaths {
		if err := os.Remove(p); err != nil {
			return 0, fmt.Errorf("remove spill segment %q: %w", p, err)
		}
	}
	return entries, nil
}
