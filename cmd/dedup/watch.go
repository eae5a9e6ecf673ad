package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pretrainer/deduplicator-master/internal/dedup"
	"github.com/pretrainer/deduplicator-master/internal/monitor"
	"github.com/pretrainer/deduplicator-master/internal/scheduler"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run deduplication on a cron schedule",
	Long: `Watch runs deduplicate passes on a cron schedule against a shared working
directory, writing each pass's output into a per-pass subdirectory of the
output directory. At most one pass runs at a time; a trigger that lands
while a pass is still running is skipped. The monitor endpoint stays up for
the life of the process.

Example:
  dedup watch --input /data/corpus --tmp /scratch/dedup --out /data/deduped \
      --schedule "0 2 * * *" --monitor :8745`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts, err := optionsFromFlags(cmd)
		if err != nil {
			return err
		}
		schedule := cfg.Schedule
		if cmd.Flags().Changed("schedule") {
			schedule, _ = cmd.Flags().GetString("schedule")
		}
		if schedule == "" {
			return errors.New("watch requires a cron schedule (--schedule or config)")
		}
		monitorAddr := cfg.MonitorAddr
		if cmd.Flags().Changed("monitor") {
			monitorAddr, _ = cmd.Flags().GetString("monitor")
		}
		if monitorAddr == "" {
			monitorAddr = ":8745"
		}
		runNow, _ := cmd.Flags().GetBool("run-now")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		mgr := dedup.NewManager(opts)
		defer mgr.Stop()

		sched := scheduler.New()
		if err := sched.SetJob(schedule, func() {
			if _, err := mgr.Start(ctx, "schedule"); err != nil {
				if errors.Is(err, dedup.ErrAlreadyRunning) {
					slog.Warn("scheduled pass skipped, previous one still running")
					return
				}
				slog.Error("scheduled pass start", "error", err)
			}
		}); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
		if next := sched.NextRunAt(); next != nil {
			slog.Info("watch started", "schedule", schedule, "next_run", next)
		}

		if runNow {
			if _, err := mgr.Start(ctx, "startup"); err != nil {
				return err
			}
		}

		srv := monitor.New(monitorAddr, version, func() *dedup.Snapshot {
			active := mgr.Active()
			if active == nil {
				return nil
			}
			snap := active.Progress.Snapshot()
			return &snap
		})
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Run(gctx) })
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	f := watchCmd.Flags()
	f.String("input", "", "input directory holding the corpus shards")
	f.String("input-pattern", "", `shard glob relative to the input directory (default "**/*.parquet.zst")`)
	f.String("tmp", "", "working directory shared across passes")
	f.String("out", "", "output directory; each pass writes into a per-pass subdirectory")
	f.String("column", "", `content column name (default "content")`)
	f.Int("n-workers", 0, "parallel workers for run building and rewrite (default 1)")
	f.String("spill-buffer", "", `per-worker in-memory run buffer (default "1GiB")`)
	f.String("schedule", "", `cron expression, e.g. "0 2 * * *"`)
	f.String("monitor", "", "progress endpoint address (default :8745)")
	f.Bool("run-now", false, "start a pass immediately in addition to the schedule")
	rootCmd.AddCommand(watchCmd)
}
