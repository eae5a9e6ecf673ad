package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pretrainer/deduplicator-master/internal/dedup"
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show a sample of rows a prior pass removed",
	Long: `Diff reads the sealed decision log from a prior deduplicate pass's working
directory and prints up to --limit removed rows, each paired with the row
that was kept in its place. Only the sampled rows are re-read from the
original shards. The working directory records which input the pass ran
against, so only --tmp is required.

Diff fails if the working directory has no sealed decision log yet; a
sealed log with zero duplicates prints an empty report instead.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		workDir, _ := cmd.Flags().GetString("tmp")
		if workDir == "" {
			workDir = cfg.WorkDir
		}
		column := cfg.Column
		if cmd.Flags().Changed("column") {
			column, _ = cmd.Flags().GetString("column")
		}
		limit, _ := cmd.Flags().GetInt("limit")
		noColor, _ := cmd.Flags().GetBool("no-color")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pairs, err := dedup.NewDiffer(workDir, column, limit).Collect(ctx)
		if err != nil {
			return err
		}
		dedup.WriteReport(os.Stdout, pairs, noColor || cfg.NoColor)
		return nil
	},
}

func init() {
	f := diffCmd.Flags()
	f.String("tmp", "", "working directory of the pass to inspect")
	f.String("column", "", `content column the pass was run with (default "content")`)
	f.Int("limit", 100, "maximum removed/kept pairs to report")
	f.Bool("no-color", false, "disable colorized output")
	rootCmd.AddCommand(diffCmd)
}
