package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pretrainer/deduplicator-master/internal/corpus"
	"github.com/pretrainer/deduplicator-master/internal/ledger"
	"github.com/pretrainer/deduplicator-master/internal/workdir"
)

// Options configures one deduplication pass.
type Options struct {
	InputRoot  string
	Pattern    string
	Column     string
	WorkDir    string
	OutDir     string
	Workers    int
	SpillBytes int64
	Clear      bool // remove the working and output directories first
}

// DefaultSpillBytes bounds a worker's in-memory run buffer when no limit is
// configured.
const DefaultSpillBytes int64 = 1 << 30

// Engine runs a full deduplication pass: parallel run building, the single
// global merge, then parallel rewrite. All cross-invocation state lives in
// the working directory; the engine itself holds nothing a restart would
// need.
type Engine struct {
	opts     Options
	layout   *workdir.Layout
	corpus   *corpus.Corpus
	ledger   *ledger.Ledger
	progress *Progress
}

// New validates opts and prepares an engine. The working directory is
// created (or cleared) here; shard enumeration happens in Run.
func New(opts Options) (*Engine, error) {
	if opts.InputRoot == "" || opts.OutDir == "" || opts.WorkDir == "" {
		return nil, errors.New("input, output and working directories are all required")
	}
	if opts.Column == "" {
		return nil, errors.New("content column name is required")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.SpillBytes <= 0 {
		opts.SpillBytes = DefaultSpillBytes
	}

	if opts.Clear {
		for _, dir := range []string{opts.WorkDir, opts.OutDir} {
			if err := os.RemoveAll(dir); err != nil {
				return nil, fmt.Errorf("clear %q: %w", dir, err)
			}
		}
	}

	return &Engine{
		opts:     opts,
		layout:   workdir.New(opts.WorkDir),
		progress: &Progress{},
	}, nil
}

// Progress exposes the live counters for the monitor endpoint and the
// reporter.
func (e *Engine) Progress() *Progress { return e.progress }

// Run executes the pass. On a reused working directory it verifies the
// manifest, skips shards with finalized runs, skips the merge when a sealed
// decision log exists, and skips already-published output shards, so an
// interrupted pass completes by recomputing only what is missing.
func (e *Engine) Run(ctx context.Context) (err error) {
	start := time.Now()
	if err := e.layout.Init(); err != nil {
		return err
	}

	if err := e.bindCorpus(); err != nil {
		return err
	}
	e.progress.ShardsTotal.Store(int64(e.corpus.Len()))

	led, err := ledger.Open(e.layout.LedgerPath())
	if err != nil {
		return err
	}
	defer led.Close()
	e.ledger = led

	runID, err := led.StartRun(e.corpus.Len())
	if err != nil {
		return err
	}
	defer func() {
		led.FinishRun(runID, err, e.counters())
		e.progress.SetPhase(PhaseDone)
	}()

	stopReporter := e.startReporter(ctx, runID)
	defer stopReporter()

	slog.Info("deduplication started",
		"shards", e.corpus.Len(),
		"workers", e.opts.Workers,
		"column", e.opts.Column,
		"spill_buffer", humanize.IBytes(uint64(e.opts.SpillBytes)))

	sealed := workdir.HasMarker(e.layout.DecisionLogPath())
	if sealed {
		slog.Info("decision log already sealed, skipping run building and merge")
	} else {
		e.progress.SetPhase(PhaseRuns)
		if err := e.buildRuns(ctx, runID); err != nil {
			return err
		}
		e.progress.SetPhase(PhaseMerge)
		if err := e.mergeRuns(ctx); err != nil {
			return err
		}
	}

	e.progress.SetPhase(PhaseRewrite)
	if err := e.rewriteAll(ctx, runID); err != nil {
		return err
	}

	slog.Info("deduplication finished",
		"shards", e.corpus.Len(),
		"rows_kept", e.progress.RowsKept.Load(),
		"rows_dropped", e.progress.RowsDropped.Load(),
		"elapsed", time.Since(start))
	return nil
}

// counters projects the live progress into the ledger's persisted subset.
func (e *Engine) counters() ledger.Counters {
	return ledger.Counters{
		RunsBuilt:    e.progress.RunsBuilt.Load(),
		RunsSkipped:  e.progress.RunsSkipped.Load(),
		RowsHashed:   e.progress.RowsHashed.Load(),
		Fingerprints: e.progress.Fingerprints.Load(),
		Duplicates:   e.progress.Duplicates.Load(),
		RowsKept:     e.progress.RowsKept.Load(),
		RowsDropped:  e.progress.RowsDropped.Load(),
	}
}

// bindCorpus enumerates the input shards and pins or verifies the working
// directory's manifest. A manifest built for a different column or shard set
// means the directory belongs to another corpus and must not be reused.
func (e *Engine) bindCorpus() error {
	c, err := corpus.Discover(e.opts.InputRoot, e.opts.Pattern)
	if err != nil {
		return err
	}
	m, err := e.layout.LoadManifest()
	switch {
	case errors.Is(err, workdir.ErrNoManifest):
		if err := e.layout.SaveManifest(&workdir.Manifest{
			InputRoot: e.opts.InputRoot,
			Pattern:   e.opts.Pattern,
			Column:    e.opts.Column,
			Shards:    c.RelPaths(),
		}); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if err := m.Verify(e.opts.Column, c.RelPaths()); err != nil {
			return fmt.Errorf("working directory %q cannot be reused: %w", e.opts.WorkDir, err)
		}
	}
	e.corpus = c
	return nil
}

// buildRuns runs the parallel run-building phase, skipping shards whose
// finalized run already carries a completion marker.
func (e *Engine) buildRuns(ctx context.Context, runID int64) error {
	pending := make([]int, 0, e.corpus.Len())
	for _, s := range e.corpus.Shards {
		if workdir.HasMarker(e.layout.RunPath(s.Ordinal)) {
			e.progress.RunsSkipped.Add(1)
			continue
		}
		pending = append(pending, s.Ordinal)
	}
	if skipped := e.progress.RunsSkipped.Load(); skipped > 0 {
		slog.Info("resuming run building", "skipped", skipped, "pending", len(pending))
	}

	return e.runPhase(ctx, "run-builder", pending, func(ctx context.Context, ordinal int) error {
		err := e.buildRun(ctx, ordinal)
		if err == nil {
			e.progress.RunsBuilt.Add(1)
		}
		e.ledger.RecordShardEvent(runID, ordinal, e.corpus.Shards[ordinal].RelPath, "run-builder", err)
		return err
	})
}

// rewriteAll runs the parallel rewrite phase, skipping shards whose output
// already carries a completion marker.
func (e *Engine) rewriteAll(ctx context.Context, runID int64) error {
	pending := make([]int, 0, e.corpus.Len())
	for _, s := range e.corpus.Shards {
		if workdir.HasMarker(e.outputPath(s.Ordinal)) {
			e.progress.RewriteSkipped.Add(1)
			continue
		}
		pending = append(pending, s.Ordinal)
	}
	if skipped := e.progress.RewriteSkipped.Load(); skipped > 0 {
		slog.Info("resuming rewrite", "skipped", skipped, "pending", len(pending))
	}

	return e.runPhase(ctx, "rewrite", pending, func(ctx context.Context, ordinal int) error {
		err := e.rewriteShard(ctx, ordinal)
		if err == nil {
			e.progress.ShardsWritten.Add(1)
		}
		e.ledger.RecordShardEvent(runID, ordinal, e.corpus.Shards[ordinal].RelPath, "rewrite", err)
		return err
	})
}

// startReporter emits a progress log line and refreshes the ledger row every
// few seconds until the returned stop function runs.
func (e *Engine) startReporter(ctx context.Context, runID int64) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				snap := e.progress.Snapshot()
				slog.Info("progress",
					"phase", snap.Phase,
					"runs_built", snap.RunsBuilt,
					"rows_hashed", snap.RowsHashed,
					"bytes_hashed", humanize.IBytes(uint64(snap.BytesHashed)),
					"shards_written", snap.ShardsWritten,
					"rows_dropped", snap.RowsDropped)
				e.ledger.UpdateRunProgress(runID, e.counters())
			case <-stop:
				e.ledger.UpdateRunProgress(runID, e.counters())
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}
