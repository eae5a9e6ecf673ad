// Package config loads the optional YAML configuration file. Flags overlay
// whatever the file provides, so the file only needs the keys a deployment
// wants pinned.
package config

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration loaded from the config file.
type Config struct {
	Input        string `yaml:"input"`
	InputPattern string `yaml:"input_pattern"`
	Column       string `yaml:"column"`
	WorkDir      string `yaml:"tmp"`
	OutDir       string `yaml:"out"`
	Workers      int    `yaml:"n_workers"`
	SpillBuffer  string `yaml:"spill_buffer"` // humanized size, e.g. "1GiB"
	MonitorAddr  string `yaml:"monitor_addr"`
	Schedule     string `yaml:"schedule"` // cron expression, watch mode only
	LogLevel     string `yaml:"log_level"`
	NoColor      bool   `yaml:"no_color"`
}

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.InputPattern == "" {
		c.InputPattern = "**/*.parquet.zst"
	}
	if c.Column == "" {
		c.Column = "content"
	}
	if c.Workers == 0 {
		c.Workers = 1
	}
	if c.SpillBuffer == "" {
		c.SpillBuffer = "1GiB"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Load reads the YAML file at path. A missing file is not an error: it
// yields the defaults, since every key can also arrive as a flag. Unknown
// keys are rejected so typos fail loudly.
func Load(path string) (*Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		cfg.applyDefaults()
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	if _, err := cfg.SpillBytes(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return &cfg, nil
}

// SpillBytes parses the spill buffer size.
func (c *Config) SpillBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.SpillBuffer)
	if err != nil {
		return 0, fmt.Errorf("invalid spill_buffer %q: %w", c.SpillBuffer, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("spill_buffer must be positive, got %q", c.SpillBuffer)
	}
	return int64(n), nil
}
