// Command dedup removes exact duplicate rows from a corpus of parquet
// shards, keeping exactly one occurrence of each distinct content value
// across the whole corpus, and inspects what a prior pass removed.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pretrainer/deduplicator-master/internal/config"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

// cfg is loaded by the root PersistentPreRunE before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "dedup",
	Short:         "Exact cross-shard deduplication for parquet corpora",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			c.LogLevel, _ = cmd.Flags().GetString("log-level")
		}
		cfg = c

		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "dedup.yaml", "path to config file (optional)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseLogLevel converts a config string ("debug", "info", "warn", "error")
// to its slog.Level equivalent. Unknown values default to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
