package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pretrainer/deduplicator-master/internal/ledger"
	"github.com/pretrainer/deduplicator-master/internal/workdir"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Inspect a working directory's state and run history",
	Long: `Status reports what a working directory contains: the corpus identity its
manifest pins, how many per-shard runs are finalized, whether the decision
log is sealed, and the recent pass history from the ledger.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		workDir, _ := cmd.Flags().GetString("tmp")
		if workDir == "" {
			workDir = cfg.WorkDir
		}
		limit, _ := cmd.Flags().GetInt("limit")
		if cmd.Flags().Changed("no-color") || cfg.NoColor {
			color.NoColor = true
		}

		layout := workdir.New(workDir)
		bold := color.New(color.Bold)

		m, err := layout.LoadManifest()
		if err != nil {
			return err
		}
		bold.Println("Corpus")
		fmt.Printf("  input:   %s\n", m.InputRoot)
		fmt.Printf("  pattern: %s\n", m.Pattern)
		fmt.Printf("  column:  %s\n", m.Column)
		fmt.Printf("  shards:  %d\n", len(m.Shards))
		fmt.Printf("  created: %s\n\n", m.CreatedAt.Format("2006-01-02 15:04:05"))

		finalized := 0
		for i := range m.Shards {
			if workdir.HasMarker(layout.RunPath(i)) {
				finalized++
			}
		}
		bold.Println("Runs")
		fmt.Printf("  finalized: %d / %d\n\n", finalized, len(m.Shards))

		bold.Println("Decision log")
		if workdir.HasMarker(layout.DecisionLogPath()) {
			var seal workdir.SealMarker
			if err := workdir.ReadMarker(layout.DecisionLogPath(), &seal); err != nil {
				return err
			}
			color.Green("  sealed at %s", seal.FinishedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("  fingerprints: %s\n", humanize.Comma(seal.Fingerprints))
			fmt.Printf("  duplicates:   %s\n", humanize.Comma(seal.Duplicates))
			fmt.Printf("  rows removed: %s\n\n", humanize.Comma(seal.Removed))
		} else {
			color.Yellow("  not sealed")
			fmt.Println()
		}

		led, err := ledger.Open(layout.LedgerPath())
		if err != nil {
			return err
		}
		defer led.Close()
		runs, err := led.History(limit)
		if err != nil {
			return err
		}
		bold.Println("History")
		if len(runs) == 0 {
			fmt.Println("  no recorded passes")
			return nil
		}
		for _, r := range runs {
			line := fmt.Sprintf("  %s  %-9s  shards=%d rows=%s dup=%s dropped=%s",
				r.StartedAt.Format("2006-01-02 15:04:05"), r.Status,
				r.ShardsTotal, humanize.Comma(r.RowsHashed),
				humanize.Comma(r.Duplicates), humanize.Comma(r.RowsDropped))
			switch r.Status {
			case "completed":
				color.Green("%s", line)
			case "failed":
				color.Red("%s", line)
				if r.Error != "" {
					fmt.Fprintf(os.Stdout, "      %s\n", r.Error)
				}
			default:
				fmt.Println(line)
			}
		}
		return nil
	},
}

func init() {
	f := statusCmd.Flags()
	f.String("tmp", "", "working directory to inspect")
	f.Int("limit", 10, "number of history rows to show")
	f.Bool("no-color", false, "disable colorized output")
	rootCmd.AddCommand(statusCmd)
}
