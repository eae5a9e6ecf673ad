package dedup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pretrainer/deduplicator-master/internal/fingerprint"
	"github.com/pretrainer/deduplicator-master/internal/runfile"
	"github.com/pretrainer/deduplicator-master/internal/workdir"
)

func TestKeepsLowestOccurrence(t *testing.T) {
	// "dup" appears in shard 0 (rows 1, 3) and shard 1 (row 0): only shard-0
	// row 1 survives. "solo" rows are untouched.
	root := mustBuildCorpus(t,
		[]string{"solo-a", "dup", "solo-b", "dup"},
		[]string{"dup", "solo-c"},
	)
	opts := testOptions(t, root, 2)
	mustRun(t, opts)

	if got, want := readOutput(t, opts.OutDir, 0), []string{"solo-a", "dup", "solo-b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("shard 0 output: got %v, want %v", got, want)
	}
	if got, want := readOutput(t, opts.OutDir, 1), []string{"solo-c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("shard 1 output: got %v, want %v", got, want)
	}

	entries := readDecisions(t, opts.WorkDir)
	dupFP := fingerprint.Of([]byte("dup"))
	for _, e := range entries {
		if e.FP != dupFP {
			continue
		}
		if e.Kept != (runfile.Location{Shard: 0, Row: 1}) {
			t.Errorf("kept: got %+v, want shard 0 row 1", e.Kept)
		}
		want := []runfile.Location{{Shard: 0, Row: 3}, {Shard: 1, Row: 0}}
		if !reflect.DeepEqual(e.Removed, want) {
			t.Errorf("removed: got %v, want %v", e.Removed, want)
		}
	}
}

func TestUniqueness(t *testing.T) {
	root := mustBuildCorpus(t,
		[]string{"a", "b", "a", "c"},
		[]string{"b", "b", "d"},
		[]string{"a", "d", "e"},
	)
	opts := testOptions(t, root, 3)
	mustRun(t, opts)

	seen := make(map[fingerprint.Fingerprint]int)
	total := 0
	for _, e := range readDecisions(t, opts.WorkDir) {
		seen[e.FP]++
		total += 1 + len(e.Removed)
	}
	for fp, n := range seen {
		if n != 1 {
			t.Errorf("fingerprint %s has %d kept entries, want exactly 1", fp.Short(), n)
		}
	}
	if len(seen) != 5 {
		t.Errorf("distinct fingerprints: got %d, want 5", len(seen))
	}
	if total != 10 {
		t.Errorf("total occurrences: got %d, want 10 (one per input row)", total)
	}
}

func TestDeterministicAcrossWorkerCounts(t *testing.T) {
	shards := [][]string{
		{"w", "x", "y", "w"},
		{"x", "z"},
		{"y", "w", "v", "z", "x"},
		{"u"},
	}
	root := mustBuildCorpus(t, shards...)

	type result struct {
		decisions []struct {
			fp      fingerprint.Fingerprint
			kept    runfile.Location
			removed []runfile.Location
		}
		outputs [][]string
	}
	runWith := func(workers int) result {
		opts := testOptions(t, root, workers)
		mustRun(t, opts)
		var res result
		for _, e := range readDecisions(t, opts.WorkDir) {
			res.decisions = append(res.decisions, struct {
				fp      fingerprint.Fingerprint
				kept    runfile.Location
				removed []runfile.Location
			}{e.FP, e.Kept, e.Removed})
		}
		for i := range shards {
			res.outputs = append(res.outputs, readOutput(t, opts.OutDir, i))
		}
		return res
	}

	base := runWith(1)
	for _, workers := range []int{4, 64} {
		if got := runWith(workers); !reflect.DeepEqual(got, base) {
			t.Errorf("workers=%d produced a different result than workers=1", workers)
		}
	}
}

func TestOrderPreservation(t *testing.T) {
	root := mustBuildCorpus(t,
		[]string{"e", "d", "c", "b", "a"},
		[]string{"c", "e", "f", "a", "g"},
	)
	opts := testOptions(t, root, 2)
	mustRun(t, opts)

	// Shard 1 keeps f and g only; their relative order must match the input.
	got := readOutput(t, opts.OutDir, 1)
	want := []string{"f", "g"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("shard 1 output: got %v, want %v", got, want)
	}
	// Shard 0 is first everywhere, so it survives whole.
	if got := readOutput(t, opts.OutDir, 0); len(got) != 5 {
		t.Errorf("shard 0 output rows: got %d, want 5", len(got))
	}
}

func TestEmptyDuplicateCorpus(t *testing.T) {
	shards := [][]string{
		{"one", "two"},
		{"three"},
	}
	root := mustBuildCorpus(t, shards...)
	opts := testOptions(t, root, 2)
	mustRun(t, opts)

	for i, want := range shards {
		if got := readOutput(t, opts.OutDir, i); !reflect.DeepEqual(got, want) {
			t.Errorf("shard %d: got %v, want %v", i, got, want)
		}
	}

	pairs, err := NewDiffer(opts.WorkDir, "content", 10).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(pairs) != 0 {
		t.Errorf("diff of a duplicate-free corpus: got %d pairs, want 0", len(pairs))
	}
}

func TestIdempotentRerun(t *testing.T) {
	root := mustBuildCorpus(t,
		[]string{"p", "q", "p"},
		[]string{"q", "r"},
	)
	first := testOptions(t, root, 2)
	mustRun(t, first)

	second := first
	second.WorkDir = t.TempDir()
	second.OutDir = t.TempDir()
	mustRun(t, second)

	for i := 0; i < 2; i++ {
		a := readOutput(t, first.OutDir, i)
		b := readOutput(t, second.OutDir, i)
		if !reflect.DeepEqual(a, b) {
			t.Errorf("shard %d differs across reruns: %v vs %v", i, a, b)
		}
	}
}

func TestResumeSkipsFinalizedWork(t *testing.T) {
	root := mustBuildCorpus(t,
		[]string{"a", "b"},
		[]string{"b", "c"},
	)
	opts := testOptions(t, root, 1)
	mustRun(t, opts)

	layout := workdir.New(opts.WorkDir)
	runMarker := workdir.MarkerFor(layout.RunPath(0))
	before, err := os.Stat(runMarker)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate an interruption after run building: drop the decision log and
	// the outputs, keep the runs, and restart into a fresh output directory.
	if err := os.RemoveAll(layout.DecisionsDir()); err != nil {
		t.Fatal(err)
	}
	resumed := opts
	resumed.OutDir = t.TempDir()
	mustRun(t, resumed)

	after, err := os.Stat(runMarker)
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("finalized run was rebuilt on resume; its marker should be untouched")
	}
	if got, want := readOutput(t, resumed.OutDir, 1), []string{"c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("resumed output: got %v, want %v", got, want)
	}
}

func TestSealedLogShortCircuitsRebuild(t *testing.T) {
	root := mustBuildCorpus(t,
		[]string{"a", "b"},
		[]string{"b", "c"},
	)
	opts := testOptions(t, root, 1)
	mustRun(t, opts)

	layout := workdir.New(opts.WorkDir)
	sealMarker := workdir.MarkerFor(layout.DecisionLogPath())
	before, err := os.Stat(sealMarker)
	if err != nil {
		t.Fatal(err)
	}

	rerun := opts
	rerun.OutDir = t.TempDir()
	mustRun(t, rerun)

	after, err := os.Stat(sealMarker)
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("sealed decision log was rebuilt; merge should be skipped")
	}
}

func TestSpillBoundedBuffer(t *testing.T) {
	// A spill buffer of two entries forces multiple segments per shard; the
	// finalized result must be identical to the unbounded run.
	root := mustBuildCorpus(t,
		[]string{"m", "n", "m", "o", "p", "n", "q"},
		[]string{"o", "r"},
	)
	opts := testOptions(t, root, 1)
	opts.SpillBytes = 2 * entryBytes
	mustRun(t, opts)

	var marker workdir.RunMarker
	if err := workdir.ReadMarker(workdir.New(opts.WorkDir).RunPath(0), &marker); err != nil {
		t.Fatalf("read run marker: %v", err)
	}
	if marker.Segments < 2 {
		t.Errorf("segments: got %d, want at least 2", marker.Segments)
	}
	if marker.Rows != 7 || marker.Entries != 7 {
		t.Errorf("marker rows/entries: got %d/%d, want 7/7", marker.Rows, marker.Entries)
	}

	if got, want := readOutput(t, opts.OutDir, 0), []string{"m", "n", "o", "p", "q"}; !reflect.DeepEqual(got, want) {
		t.Errorf("shard 0 output: got %v, want %v", got, want)
	}
	if got, want := readOutput(t, opts.OutDir, 1), []string{"r"}; !reflect.DeepEqual(got, want) {
		t.Errorf("shard 1 output: got %v, want %v", got, want)
	}
}

func TestMissingColumnAborts(t *testing.T) {
	root := mustBuildCorpus(t, []string{"a"}, []string{"b"})
	opts := testOptions(t, root, 2)
	opts.Column = "text"

	eng, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = eng.Run(context.Background())
	if err == nil {
		t.Fatal("expected run to abort on missing column")
	}
	var shardErrs ShardErrors
	if !errors.As(err, &shardErrs) {
		t.Fatalf("got %T, want ShardErrors: %v", err, err)
	}
	if shardErrs[0].Path == "" {
		t.Error("shard failure should carry the shard path")
	}

	// No output shard may be published after an aborted pass.
	entries, err := os.ReadDir(opts.OutDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".tmp" {
			t.Errorf("aborted pass published %q", e.Name())
		}
	}
}

func TestManifestMismatchRejected(t *testing.T) {
	root := mustBuildCorpus(t, []string{"a"})
	opts := testOptions(t, root, 1)
	mustRun(t, opts)

	// Same working directory, different column: must be rejected, not
	// silently recomputed.
	wrong := opts
	wrong.OutDir = t.TempDir()
	wrong.Column = "id"
	eng, err := New(wrong)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Run(context.Background()); err == nil {
		t.Error("expected manifest mismatch error for a different column")
	}
}
