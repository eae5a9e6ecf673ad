package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pretrainer/deduplicator-master/internal/dedup"
	"github.com/pretrainer/deduplicator-master/internal/monitor"
)

var deduplicateCmd = &cobra.Command{
	Use:   "deduplicate",
	Short: "Deduplicate a corpus of parquet shards",
	Long: `Deduplicate reads every shard matching the input pattern, keeps exactly one
occurrence of each distinct content value across the whole corpus (the one
with the lowest shard and row position), and writes one output shard per
input shard with the removed rows filtered out.

Intermediate state lives under the working directory (--tmp) and makes an
interrupted pass resumable: finalized per-shard runs, the sealed decision
log and published output shards are skipped on restart. The result is
byte-identical regardless of worker count.

Examples:
  dedup deduplicate --input /data/corpus --tmp /scratch/dedup --out /data/deduped
  dedup deduplicate --input /data/corpus --tmp /scratch/dedup --out /data/deduped \
      --n-workers 16 --column text --spill-buffer 4GiB`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts, err := optionsFromFlags(cmd)
		if err != nil {
			return err
		}
		monitorAddr := cfg.MonitorAddr
		if cmd.Flags().Changed("monitor") {
			monitorAddr, _ = cmd.Flags().GetString("monitor")
		}

		eng, err := dedup.New(opts)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if monitorAddr == "" {
			return eng.Run(ctx)
		}

		srv := monitor.New(monitorAddr, version, func() *dedup.Snapshot {
			snap := eng.Progress().Snapshot()
			return &snap
		})
		g, gctx := errgroup.WithContext(ctx)
		monCtx, monDone := context.WithCancel(gctx)
		g.Go(func() error { return srv.Run(monCtx) })
		g.Go(func() error {
			defer monDone()
			return eng.Run(gctx)
		})
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	f := deduplicateCmd.Flags()
	f.String("input", "", "input directory holding the corpus shards")
	f.String("input-pattern", "", `shard glob relative to the input directory (default "**/*.parquet.zst")`)
	f.String("tmp", "", "working directory for runs and the decision log")
	f.String("out", "", "output directory for deduplicated shards")
	f.String("column", "", `content column name (default "content")`)
	f.Int("n-workers", 0, "parallel workers for run building and rewrite (default 1)")
	f.String("spill-buffer", "", `per-worker in-memory run buffer, e.g. "512MiB" (default "1GiB")`)
	f.Bool("clear", false, "remove the working and output directories before running")
	f.String("monitor", "", "serve progress JSON on this address while running (e.g. :8745)")
	rootCmd.AddCommand(deduplicateCmd)
}

// optionsFromFlags overlays the command's flags onto the loaded config and
// validates the result.
func optionsFromFlags(cmd *cobra.Command) (dedup.Options, error) {
	c := *cfg
	f := cmd.Flags()
	if f.Changed("input") {
		c.Input, _ = f.GetString("input")
	}
	if f.Changed("input-pattern") {
		c.InputPattern, _ = f.GetString("input-pattern")
	}
	if f.Changed("tmp") {
		c.WorkDir, _ = f.GetString("tmp")
	}
	if f.Changed("out") {
		c.OutDir, _ = f.GetString("out")
	}
	if f.Changed("column") {
		c.Column, _ = f.GetString("column")
	}
	if f.Changed("n-workers") {
		c.Workers, _ = f.GetInt("n-workers")
	}
	if f.Changed("spill-buffer") {
		c.SpillBuffer, _ = f.GetString("spill-buffer")
	}

	spillBytes, err := c.SpillBytes()
	if err != nil {
		return dedup.Options{}, err
	}
	clearDirs := false
	if f.Lookup("clear") != nil {
		clearDirs, _ = f.GetBool("clear")
	}
	return dedup.Options{
		InputRoot:  c.Input,
		Pattern:    c.InputPattern,
		Column:     c.Column,
		WorkDir:    c.WorkDir,
		OutDir:     c.OutDir,
		Workers:    c.Workers,
		SpillBytes: spillBytes,
		Clear:      clearDirs,
	}, nil
}
