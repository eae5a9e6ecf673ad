package dedup

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pretrainer/deduplicator-master/internal/decision"
	"github.com/pretrainer/deduplicator-master/internal/fingerprint"
	"github.com/pretrainer/deduplicator-master/internal/runfile"
	"github.com/pretrainer/deduplicator-master/internal/workdir"
)

func TestDiffReportsRemovedKeptPair(t *testing.T) {
	// Identical content in shard 0 row 2 and shard 1 row 0: the pass keeps
	// the shard-0 occurrence and diff reports exactly the one pair.
	root := mustBuildCorpus(t,
		[]string{"aa", "bb", "twin"},
		[]string{"twin", "cc"},
	)
	opts := testOptions(t, root, 2)
	mustRun(t, opts)

	pairs, err := NewDiffer(opts.WorkDir, "content", 10).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("pairs: got %d, want 1", len(pairs))
	}
	p := pairs[0]
	if p.FP != fingerprint.Of([]byte("twin")) {
		t.Errorf("fingerprint: got %s", p.FP.Hex())
	}
	if p.Removed.Location != (runfile.Location{Shard: 1, Row: 0}) {
		t.Errorf("removed: got %+v, want shard 1 row 0", p.Removed.Location)
	}
	if p.Kept.Location != (runfile.Location{Shard: 0, Row: 2}) {
		t.Errorf("kept: got %+v, want shard 0 row 2", p.Kept.Location)
	}

	// Both views carry the passthrough payload, not just the content.
	fieldValue := func(v RowView, name string) string {
		for _, f := range v.Fields {
			if f.Name == name {
				return f.Value
			}
		}
		t.Fatalf("field %q missing from %+v", name, v.Fields)
		return ""
	}
	if got := fieldValue(p.Removed, "content"); got != "twin" {
		t.Errorf("removed content: got %q", got)
	}
	if got := fieldValue(p.Removed, "id"); got != "0" {
		t.Errorf("removed id: got %q, want 0", got)
	}
	if got := fieldValue(p.Kept, "id"); got != "2" {
		t.Errorf("kept id: got %q, want 2", got)
	}
}

func TestDiffLimitBounds(t *testing.T) {
	// Five copies of the same content: four removals, limit 2 returns 2 in
	// deterministic (location) order.
	root := mustBuildCorpus(t,
		[]string{"same", "same"},
		[]string{"same", "same", "same"},
	)
	opts := testOptions(t, root, 1)
	mustRun(t, opts)

	pairs, err := NewDiffer(opts.WorkDir, "content", 2).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("pairs: got %d, want 2", len(pairs))
	}
	if pairs[0].Removed.Location != (runfile.Location{Shard: 0, Row: 1}) {
		t.Errorf("first removed: got %+v, want shard 0 row 1", pairs[0].Removed.Location)
	}
	if pairs[1].Removed.Location != (runfile.Location{Shard: 1, Row: 0}) {
		t.Errorf("second removed: got %+v, want shard 1 row 0", pairs[1].Removed.Location)
	}
}

func TestDiffRequiresSealedLog(t *testing.T) {
	// A working directory with a manifest but no sealed decision log must
	// fail clearly, not return an empty report.
	workDir := t.TempDir()
	layout := workdir.New(workDir)
	if err := layout.Init(); err != nil {
		t.Fatal(err)
	}
	if err := layout.SaveManifest(&workdir.Manifest{
		InputRoot: t.TempDir(),
		Pattern:   "*.parquet.zst",
		Column:    "content",
		Shards:    []string{"part-000.parquet.zst"},
	}); err != nil {
		t.Fatal(err)
	}

	_, err := NewDiffer(workDir, "content", 10).Collect(context.Background())
	if !errors.Is(err, decision.ErrNotSealed) {
		t.Errorf("got %v, want ErrNotSealed", err)
	}
}

func TestDiffRejectsColumnMismatch(t *testing.T) {
	root := mustBuildCorpus(t, []string{"a", "a"})
	opts := testOptions(t, root, 1)
	mustRun(t, opts)

	_, err := NewDiffer(opts.WorkDir, "body", 10).Collect(context.Background())
	if err == nil || !strings.Contains(err.Error(), `"body"`) {
		t.Errorf("expected column mismatch naming the column, got %v", err)
	}
}

func TestWriteReport(t *testing.T) {
	root := mustBuildCorpus(t,
		[]string{"x", "y"},
		[]string{"y"},
	)
	opts := testOptions(t, root, 1)
	mustRun(t, opts)

	pairs, err := NewDiffer(opts.WorkDir, "content", 10).Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	WriteReport(&buf, pairs, true)
	out := buf.String()
	for _, want := range []string{"removed shard 1 row 0", "kept    shard 0 row 1", "1 removed/kept pairs"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	var empty bytes.Buffer
	WriteReport(&empty, nil, true)
	if !strings.Contains(empty.String(), "no removed rows") {
		t.Errorf("empty report: got %q", empty.String())
	}
}
