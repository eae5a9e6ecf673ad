package workdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const manifestVersion = 1

// ErrNoManifest is returned when the working directory has no manifest yet.
var ErrNoManifest = errors.New("working directory has no manifest")

// Manifest pins the identity a working directory was built against. Every
// artifact under the directory is only meaningful for exactly this
// (input, pattern, column, shard list) combination; resuming or diffing with
// a different one is rejected rather than silently recomputed.
type Manifest struct {
	Version   int       `json:"version"`
	InputRoot string    `json:"input_root"`
	Pattern   string    `json:"pattern"`
	Column    string    `json:"column"`
	Shards    []string  `json:"shards"` // sorted relative paths; index = ordinal
	CreatedAt time.Time `json:"created_at"`
}

// SaveManifest writes the manifest atomically.
func (l *Layout) SaveManifest(m *Manifest) error {
	m.Version = manifestVersion
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return WriteFileAtomic(l.ManifestPath(), data)
}

// LoadManifest reads the manifest, or ErrNoManifest when absent.
func (l *Layout) LoadManifest() (*Manifest, error) {
	data, err := os.ReadFile(l.ManifestPath())
	if os.IsNotExist(err) {
		return nil, ErrNoManifest
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %q: %w", l.ManifestPath(), err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("manifest version %d not supported (want %d)", m.Version, manifestVersion)
	}
	return &m, nil
}

// Verify checks that the manifest matches the given identity. A mismatch
// means the working directory belongs to a different corpus or column and
// must not be reused.
func (m *Manifest) Verify(column string, shards []string) error {
	if m.Column != column {
		return fmt.Errorf("working directory was built for column %q, not %q", m.Column, column)
	}
	if len(m.Shards) != len(shards) {
		return fmt.Errorf("working directory was built for %d shards, input now matches %d",
			len(m.Shards), len(shards))
	}
	for i := range shards {
		if m.Shards[i] != shards[i] {
			return fmt.Errorf("shard %d changed: working directory has %q, input has %q",
				i, m.Shards[i], shards[i])
		}
	}
	return nil
}
