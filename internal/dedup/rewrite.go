package dedup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pretrainer/deduplicator-master/internal/decision"
	"github.com/pretrainer/deduplicator-master/internal/shard"
	"github.com/pretrainer/deduplicator-master/internal/workdir"
)

// outputPath returns where a shard's deduplicated copy is published, mirroring
// the input tree under the output directory.
func (e *Engine) outputPath(ordinal int) string {
	return filepath.Join(e.opts.OutDir, filepath.FromSlash(e.corpus.Shards[ordinal].RelPath))
}

// rewriteShard re-streams one shard in original order and writes only its
// kept rows to the output. The drop set is the shard's whole slice of the
// global decision, so no cross-shard coordination happens here; every shard
// rewrite is independent.
func (e *Engine) rewriteShard(ctx context.Context, ordinal int) error {
	start := time.Now()
	outPath := e.outputPath(ordinal)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output directory for %q: %w", outPath, err)
	}

	drops, err := decision.LoadDrops(e.layout.DropPath(ordinal))
	if err != nil {
		return err
	}

	r, err := shard.OpenReader(ctx, e.corpus.AbsPath(ordinal), e.opts.Column)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := shard.NewAtomicWriter(outPath, r.Schema())
	if err != nil {
		return err
	}

	var rows, dropped int64
	for {
		if err := ctx.Err(); err != nil {
			w.Abort()
			return err
		}
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.Abort()
			return fmt.Errorf("read shard %q: %w", r.Path(), err)
		}

		n := int(rec.NumRows())
		if len(drops) == 0 {
			if err := w.Write(rec); err != nil {
				w.Abort()
				return err
			}
			rows += int64(n)
			continue
		}

		// Kept rows keep their relative order: contiguous kept ranges are
		// written as zero-copy record slices.
		runStart := -1
		for i := 0; i < n; i++ {
			_, drop := drops[uint32(rows+int64(i))]
			if drop {
				dropped++
			}
			switch {
			case !drop && runStart < 0:
				runStart = i
			case drop && runStart >= 0:
				sl := rec.NewSlice(int64(runStart), int64(i))
				err := w.Write(sl)
				sl.Release()
				if err != nil {
					w.Abort()
					return err
				}
				runStart = -1
			}
		}
		if runStart >= 0 {
			sl := rec.NewSlice(int64(runStart), int64(n))
			err := w.Write(sl)
			sl.Release()
			if err != nil {
				w.Abort()
				return err
			}
		}
		rows += int64(n)
	}

	if int(dropped) != len(drops) {
		w.Abort()
		return fmt.Errorf("internal: shard %q dropped %d rows, decision log removed %d",
			r.Path(), dropped, len(drops))
	}
	kept := w.Rows()
	if err := w.Close(); err != nil {
		return err
	}
	if err := workdir.WriteMarker(outPath, workdir.OutputMarker{
		Rows:       rows,
		Kept:       kept,
		Dropped:    dropped,
		FinishedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	e.progress.RowsKept.Add(kept)
	e.progress.RowsDropped.Add(dropped)
	slog.Debug("output shard published", "ordinal", ordinal, "kept", kept,
		"dropped", dropped, "elapsed", time.Since(start))
	return nil
}
