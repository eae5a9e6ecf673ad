// Package corpus enumerates the input shard files and fixes their canonical
// global ordering for a run.
package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Shard is one immutable input file. Ordinal is the shard's position in the
// sorted enumeration of matched paths; it is the corpus-wide canonical order
// every later stage keys on.
type Shard struct {
	Ordinal int
	RelPath string // slash-separated, relative to the corpus root
}

// Corpus is the fixed set of input shards for one run.
type Corpus struct {
	Root    string
	Pattern string
	Shards  []Shard
}

// Discover matches pattern (doublestar syntax, e.g. "**/*.parquet.zst")
// under root and returns the corpus with ordinals assigned by sorted relative
// path. The sort makes ordinals independent of directory iteration order, so
// the same tree always yields the same ordinals.
func Discover(root, pattern string) (*Corpus, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("input directory %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %q is not a directory", root)
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid input pattern %q", pattern)
	}

	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("match %q under %q: %w", pattern, root, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no shards match %q under %q", pattern, root)
	}
	sort.Strings(matches)

	shards := make([]Shard, len(matches))
	for i, rel := range matches {
		shards[i] = Shard{Ordinal: i, RelPath: rel}
	}
	return &Corpus{Root: root, Pattern: pattern, Shards: shards}, nil
}

// FromManifest rebuilds a Corpus from an already-recorded shard list without
// touching the filesystem. Used when resuming against a sealed manifest.
func FromManifest(root, pattern string, relPaths []string) *Corpus {
	shards := make([]Shard, len(relPaths))
	for i, rel := range relPaths {
		shards[i] = Shard{Ordinal: i, RelPath: rel}
	}
	return &Corpus{Root: root, Pattern: pattern, Shards: shards}
}

// Len returns the number of shards.
func (c *Corpus) Len() int { return len(c.Shards) }

// RelPaths returns the shard paths in ordinal order.
func (c *Corpus) RelPaths() []string {
	paths := make([]string, len(c.Shards))
	for i, s := range c.Shards {
		paths[i] = s.RelPath
	}
	return paths
}

// AbsPath returns the absolute filesystem path of the shard at ordinal.
func (c *Corpus) AbsPath(ordinal int) string {
	return filepath.Join(c.Root, filepath.FromSlash(c.Shards[ordinal].RelPath))
}
