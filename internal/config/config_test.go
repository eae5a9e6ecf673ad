package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pretrainer/deduplicator-master/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dedup.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsApplied(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "input: /data/corpus\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Input != "/data/corpus" {
		t.Errorf("input: got %q, want %q", cfg.Input, "/data/corpus")
	}
	if cfg.InputPattern != "**/*.parquet.zst" {
		t.Errorf("input_pattern default: got %q", cfg.InputPattern)
	}
	if cfg.Column != "content" {
		t.Errorf("column default: got %q", cfg.Column)
	}
	if cfg.Workers != 1 {
		t.Errorf("n_workers default: got %d, want 1", cfg.Workers)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log_level default: got %q", cfg.LogLevel)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Column != "content" {
		t.Errorf("column default: got %q", cfg.Column)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	if _, err := config.Load(writeConfig(t, "colunm: text\n")); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestSpillBytes(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "spill_buffer: 512MiB\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	n, err := cfg.SpillBytes()
	if err != nil {
		t.Fatalf("SpillBytes: %v", err)
	}
	if want := int64(512 << 20); n != want {
		t.Errorf("got %d, want %d", n, want)
	}
}

func TestSpillBytesRejectsGarbage(t *testing.T) {
	if _, err := config.Load(writeConfig(t, "spill_buffer: lots\n")); err == nil {
		t.Error("expected error for unparseable spill_buffer")
	}
}
