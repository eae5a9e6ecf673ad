// Package workdir owns the on-disk layout of the working directory shared by
// the deduplicate and diff commands: run files, the decision log, drop files,
// completion markers, and the manifest that pins the input identity.
//
// Layout under the working directory:
//
//	manifest.json       input root, pattern, column, sorted shard list
//	ledger.db           run history (observability only)
//	runs/NNNNNN.run     finalized per-shard runs + .done markers
//	decisions/decisions.log
//	decisions/drops/NNNNNN.drop
//
// Every artifact is published by writing a temporary file and renaming it,
// so a half-written file is never mistaken for a finished one.
package workdir

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerSuffix is appended to an artifact path to form its completion marker.
// A marker's presence is the completion contract; its JSON body is
// informational.
const MarkerSuffix = ".done"

// tmpSuffix marks in-progress files. Stale ones are overwritten on retry and
// never read.
const tmpSuffix = ".tmp"

// Layout resolves every path inside one working directory.
type Layout struct {
	dir string
}

// New returns a Layout rooted at dir. Call Init before writing through it.
func New(dir string) *Layout {
	return &Layout{dir: dir}
}

// Init creates the working directory tree.
func (l *Layout) Init() error {
	for _, d := range []string{l.RunsDir(), l.DropsDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create working directory %q: %w", d, err)
		}
	}
	return nil
}

// Dir returns the working directory root.
func (l *Layout) Dir() string { return l.dir }

// ManifestPath returns the manifest location.
func (l *Layout) ManifestPath() string { return filepath.Join(l.dir, "manifest.json") }

// LedgerPath returns the sqlite run-history database location.
func (l *Layout) LedgerPath() string { return filepath.Join(l.dir, "ledger.db") }

// RunsDir returns the directory holding per-shard run files.
func (l *Layout) RunsDir() string { return filepath.Join(l.dir, "runs") }

// RunPath returns the finalized run file for a shard ordinal.
func (l *Layout) RunPath(ordinal int) string {
	return filepath.Join(l.RunsDir(), fmt.Sprintf("%06d.run", ordinal))
}

// SegmentPath returns the k-th spill segment for a shard ordinal.
func (l *Layout) SegmentPath(ordinal, k int) string {
	return filepath.Join(l.RunsDir(), fmt.Sprintf("%06d.seg%03d", ordinal, k))
}

// DecisionsDir returns the directory holding the decision log and drops.
func (l *Layout) DecisionsDir() string { return filepath.Join(l.dir, "decisions") }

// DecisionLogPath returns the global decision log location.
func (l *Layout) DecisionLogPath() string {
	return filepath.Join(l.DecisionsDir(), "decisions.log")
}

// DropsDir returns the directory holding per-shard drop files.
func (l *Layout) DropsDir() string { return filepath.Join(l.DecisionsDir(), "drops") }

// DropPath returns the drop file for a shard ordinal. The file exists only
// when the shard has at least one removed row.
func (l *Layout) DropPath(ordinal int) string {
	return filepath.Join(l.DropsDir(), fmt.Sprintf("%06d.drop", ordinal))
}

// MarkerFor returns the completion-marker path for an artifact path.
func MarkerFor(artifact string) string { return artifact + MarkerSuffix }

// TmpFor returns the in-progress path for an artifact path.
func TmpFor(artifact string) string { return artifact + tmpSuffix }

// HasMarker reports whether the artifact's completion marker exists.
func HasMarker(artifact string) bool {
	_, err := os.Stat(MarkerFor(artifact))
	return err == nil
}

// RunMarker records what a finalized run contains.
type RunMarker struct {
	Rows       int64     `json:"rows"`
	Entries    int64     `json:"entries"`
	Segments   int       `json:"segments"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// SealMarker records the totals of a sealed decision log.
type SealMarker struct {
	Fingerprints int64     `json:"fingerprints"`
	Duplicates   int64     `json:"duplicates"`
	Removed      int64     `json:"removed"`
	FinishedAt   time.Time `json:"finished_at"`
}

// OutputMarker records what a published output shard contains.
type OutputMarker struct {
	Rows       int64     `json:"rows"`
	Kept       int64     `json:"kept"`
	Dropped    int64     `json:"dropped"`
	FinishedAt time.Time `json:"finished_at"`
}

// WriteMarker publishes the completion marker for artifact with v as its
// JSON body. The artifact itself must already be durable.
func WriteMarker(artifact string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode marker for %q: %w", artifact, err)
	}
	return WriteFileAtomic(MarkerFor(artifact), data)
}

// ReadMarker decodes the completion marker for artifact into v.
func ReadMarker(artifact string, v any) error {
	data, err := os.ReadFile(MarkerFor(artifact))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode marker %q: %w", MarkerFor(artifact), err)
	}
	return nil
}

// WriteFileAtomic writes data to path via a temporary sibling plus rename,
// syncing before the rename so a crash never publishes a torn file.
func WriteFileAtomic(path string, data []byte) error {
	tmp := TmpFor(path)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
