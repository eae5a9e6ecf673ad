package dedup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pretrainer/deduplicator-master/internal/decision"
	"github.com/pretrainer/deduplicator-master/internal/runfile"
	"github.com/pretrainer/deduplicator-master/internal/workdir"
)

// mergeRuns k-way merges every finalized run into the sealed decision log
// plus per-shard drop files. This is the single sequential stage of a pass:
// picking one kept occurrence per fingerprint needs a view of the whole
// corpus, so it runs alone between the two parallel phases. Memory is one
// open cursor per run plus the accumulated drop lists, never corpus-sized
// row data.
func (e *Engine) mergeRuns(ctx context.Context) error {
	start := time.Now()

	readers := make([]*runfile.Reader, 0, e.corpus.Len())
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()
	for _, s := range e.corpus.Shards {
		runPath := e.layout.RunPath(s.Ordinal)
		if !workdir.HasMarker(runPath) {
			// The coordinator guarantees every shard finished; a missing
			// marker here is a defect, not an input problem.
			return fmt.Errorf("internal: no finalized run for shard %d (%s)", s.Ordinal, s.RelPath)
		}
		r, err := runfile.Open(runPath)
		if err != nil {
			return err
		}
		if r.Ordinal() != s.Ordinal {
			r.Close()
			return fmt.Errorf("internal: run %q claims ordinal %d, want %d", runPath, r.Ordinal(), s.Ordinal)
		}
		readers = append(readers, r)
	}

	merger, err := runfile.NewMerger(readers)
	if err != nil {
		return err
	}
	w, err := decision.NewWriter(e.layout.DecisionLogPath())
	if err != nil {
		return err
	}

	var (
		cur          decision.Entry
		open         bool
		drops        = make(map[uint32][]uint32)
		fingerprints int64
		duplicates   int64
		removed      int64
	)
	flush := func() error {
		if !open {
			return nil
		}
		fingerprints++
		if len(cur.Removed) > 0 {
			duplicates++
			removed += int64(len(cur.Removed))
			for _, loc := range cur.Removed {
				drops[loc.Shard] = append(drops[loc.Shard], loc.Row)
			}
		}
		return w.Append(cur)
	}

	for {
		if err := ctx.Err(); err != nil {
			w.Abort()
			return err
		}
		entry, loc, err := merger.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.Abort()
			return err
		}
		if open && entry.FP == cur.FP {
			// The heap pops equal fingerprints in (shard, row) order, so the
			// first occurrence seen is the kept one and later ones are
			// removed, already sorted.
			cur.Removed = append(cur.Removed, loc)
			continue
		}
		if err := flush(); err != nil {
			w.Abort()
			return err
		}
		cur = decision.Entry{FP: entry.FP, Kept: loc}
		open = true
	}
	if err := flush(); err != nil {
		w.Abort()
		return err
	}

	if err := w.Seal(); err != nil {
		return err
	}
	for ordinal, rows := range drops {
		if err := decision.WriteDrops(e.layout.DropPath(int(ordinal)), rows); err != nil {
			return err
		}
	}
	if err := workdir.WriteMarker(e.layout.DecisionLogPath(), workdir.SealMarker{
		Fingerprints: fingerprints,
		Duplicates:   duplicates,
		Removed:      removed,
		FinishedAt:   time.Now().UTC(),
	}); err != nil {
		return err
	}

	e.progress.Fingerprints.Store(fingerprints)
	e.progress.Duplicates.Store(duplicates)
	e.progress.RowsRemoved.Store(removed)
	slog.Info("decision log sealed", "fingerprints", fingerprints,
		"duplicates", duplicates, "rows_removed", removed, "elapsed", time.Since(start))
	return nil
}
