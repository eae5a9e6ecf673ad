package dedup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pretrainer/deduplicator-master/internal/fingerprint"
	"github.com/pretrainer/deduplicator-master/internal/runfile"
	"github.com/pretrainer/deduplicator-master/internal/shard"
	"github.com/pretrainer/deduplicator-master/internal/workdir"
)

// entryBytes is the in-memory footprint of one buffered run entry. The spill
// buffer holds at most spillBytes/entryBytes entries, which bounds a worker's
// peak memory regardless of shard size.
const entryBytes = fingerprint.Size + 4

// buildRun streams one shard, fingerprints every row and finalizes the
// shard's sorted run plus completion marker. Overfull buffers are sorted and
// spilled as segments, then merged into the run.
func (e *Engine) buildRun(ctx context.Context, ordinal int) error {
	start := time.Now()
	path := e.corpus.AbsPath(ordinal)
	runPath := e.layout.RunPath(ordinal)

	maxEntries := int(e.opts.SpillBytes / entryBytes)
	if maxEntries < 1 {
		maxEntries = 1
	}

	r, err := shard.OpenReader(ctx, path, e.opts.Column)
	if err != nil {
		return err
	}
	defer r.Close()

	var (
		buf      = make([]runfile.Entry, 0, min(maxEntries, 1<<20))
		segments []string
		rows     int64
	)
	spill := func() error {
		runfile.SortEntries(buf)
		seg := e.layout.SegmentPath(ordinal, len(segments))
		if err := runfile.WriteFile(seg, ordinal, buf); err != nil {
			return err
		}
		segments = append(segments, seg)
		buf = buf[:0]
		e.progress.Spills.Add(1)
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read shard %q: %w", path, err)
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			content, err := shard.Content(rec, r.ContentIndex(), i)
			if err != nil {
				return fmt.Errorf("shard %q row %d: %w", path, rows, err)
			}
			buf = append(buf, runfile.Entry{FP: fingerprint.Of(content), Row: uint32(rows)})
			rows++
			e.progress.RowsHashed.Add(1)
			e.progress.BytesHashed.Add(int64(len(content)))
			if len(buf) >= maxEntries {
				if err := spill(); err != nil {
					return err
				}
			}
		}
	}
	if len(buf) > 0 {
		if err := spill(); err != nil {
			return err
		}
	}

	entries, err := runfile.MergeSegments(runPath, ordinal, segments)
	if err != nil {
		return err
	}
	if entries != rows {
		return fmt.Errorf("shard %q: run has %d entries for %d rows", path, entries, rows)
	}
	if err := workdir.WriteMarker(runPath, workdir.RunMarker{
		Rows:       rows,
		Entries:    entries,
		Segments:   len(segments),
		ElapsedMS:  time.Since(start).Milliseconds(),
		FinishedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	slog.Debug("run finalized", "ordinal", ordinal, "rows", rows,
		"segments", len(segments), "elapsed", time.Since(start))
	return nil
}
