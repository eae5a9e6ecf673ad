package decision

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/pretrainer/deduplicator-master/internal/fingerprint"
	"github.com/pretrainer/deduplicator-master/internal/runfile"
)

func sortedEntries(contents ...string) []Entry {
	entries := make([]Entry, len(contents))
	for i, c := range contents {
		entries[i] = Entry{FP: fingerprint.Of([]byte(c)), Kept: runfile.Location{Shard: 0, Row: uint32(i)}}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].FP.Less(entries[j].FP) })
	return entries
}

func TestLogRoundTrip(t *testing.T) {
	entries := sortedEntries("alpha", "beta", "gamma")
	// Give the middle entry removals; singletons stay as they are.
	entries[1].Removed = []runfile.Location{{Shard: 1, Row: 4}, {Shard: 2, Row: 0}}

	path := filepath.Join(t.TempDir(), "decisions.log")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, e := range entries {
		if err := w.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	var got []Entry
	for {
		e, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, e)
	}
	if len(got) != len(entries) {
		t.Fatalf("entries: got %d, want %d", len(got), len(entries))
	}
	for i := range got {
		if got[i].FP != entries[i].FP || got[i].Kept != entries[i].Kept {
			t.Errorf("entry %d: got %+v, want %+v", i, got[i], entries[i])
		}
		if len(got[i].Removed) != len(entries[i].Removed) {
			t.Fatalf("entry %d removed: got %d, want %d", i, len(got[i].Removed), len(entries[i].Removed))
		}
		for j := range got[i].Removed {
			if got[i].Removed[j] != entries[i].Removed[j] {
				t.Errorf("entry %d removed %d: got %+v, want %+v",
					i, j, got[i].Removed[j], entries[i].Removed[j])
			}
		}
	}
}

func TestOpenReaderMissingLog(t *testing.T) {
	_, err := OpenReader(filepath.Join(t.TempDir(), "decisions.log"))
	if !errors.Is(err, ErrNotSealed) {
		t.Errorf("got %v, want ErrNotSealed", err)
	}
}

func TestUnsealedLogIsInvisible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.log")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(sortedEntries("x")[0]); err != nil {
		t.Fatal(err)
	}
	// Abort instead of Seal: the final name must not exist.
	w.Abort()
	if _, err := OpenReader(path); !errors.Is(err, ErrNotSealed) {
		t.Errorf("got %v, want ErrNotSealed", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("aborted temporary still present: %v", err)
	}
}

func TestDropsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000004.drop")
	// Unsorted input: the merge discovers removals in fingerprint order.
	if err := WriteDrops(path, []uint32{9, 1, 4}); err != nil {
		t.Fatalf("WriteDrops: %v", err)
	}
	drops, err := LoadDrops(path)
	if err != nil {
		t.Fatalf("LoadDrops: %v", err)
	}
	if len(drops) != 3 {
		t.Fatalf("drops: got %d, want 3", len(drops))
	}
	for _, row := range []uint32{1, 4, 9} {
		if _, ok := drops[row]; !ok {
			t.Errorf("row %d missing from drop set", row)
		}
	}
}

func TestLoadDropsMissingFile(t *testing.T) {
	drops, err := LoadDrops(filepath.Join(t.TempDir(), "absent.drop"))
	if err != nil {
		t.Fatalf("LoadDrops: %v", err)
	}
	if drops != nil {
		t.Errorf("got %v, want nil for a shard with no removals", drops)
	}
}
