package dedup

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/pretrainer/deduplicator-master/internal/decision"
	"github.com/pretrainer/deduplicator-master/internal/shard"
	"github.com/pretrainer/deduplicator-master/internal/workdir"
)

var testSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "content", Type: arrow.BinaryTypes.String},
}, nil)

// mustWriteShard writes one parquet shard with the given content values and
// sequential ids.
func mustWriteShard(tb testing.TB, path string, contents []string) {
	tb.Helper()
	b := array.NewRecordBuilder(memory.DefaultAllocator, testSchema)
	defer b.Release()
	for i, c := range contents {
		b.Field(0).(*array.Int64Builder).Append(int64(i))
		b.Field(1).(*array.StringBuilder).Append(c)
	}
	rec := b.NewRecord()
	defer rec.Release()

	w, err := shard.NewAtomicWriter(path, testSchema)
	if err != nil {
		tb.Fatalf("NewAtomicWriter: %v", err)
	}
	if err := w.Write(rec); err != nil {
		tb.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		tb.Fatalf("Close: %v", err)
	}
}

// mustBuildCorpus writes one shard per content slice, named so sorted order
// matches slice order, and returns the corpus root.
func mustBuildCorpus(tb testing.TB, shards ...[]string) string {
	tb.Helper()
	root := tb.TempDir()
	for i, contents := range shards {
		mustWriteShard(tb, filepath.Join(root, fmt.Sprintf("part-%03d.parquet.zst", i)), contents)
	}
	return root
}

// testOptions returns engine options over the given corpus with fresh tmp
// and out directories.
func testOptions(tb testing.TB, root string, workers int) Options {
	tb.Helper()
	return Options{
		InputRoot:  root,
		Pattern:    "*.parquet.zst",
		Column:     "content",
		WorkDir:    tb.TempDir(),
		OutDir:     tb.TempDir(),
		Workers:    workers,
		SpillBytes: DefaultSpillBytes,
	}
}

// mustRun executes a full pass and fails the test on error.
func mustRun(tb testing.TB, opts Options) {
	tb.Helper()
	eng, err := New(opts)
	if err != nil {
		tb.Fatalf("New: %v", err)
	}
	if err := eng.Run(context.Background()); err != nil {
		tb.Fatalf("Run: %v", err)
	}
}

// readDecisions loads the sealed decision log of a working directory.
func readDecisions(tb testing.TB, workDir string) []decision.Entry {
	tb.Helper()
	r, err := decision.OpenReader(workdir.New(workDir).DecisionLogPath())
	if err != nil {
		tb.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	var out []decision.Entry
	for {
		e, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			tb.Fatalf("decision Next: %v", err)
		}
		out = append(out, e)
	}
}

// readOutput returns the content values of one output shard in row order.
func readOutput(tb testing.TB, outDir string, ordinal int) []string {
	tb.Helper()
	path := filepath.Join(outDir, fmt.Sprintf("part-%03d.parquet.zst", ordinal))
	r, err := shard.OpenReader(context.Background(), path, "content")
	if err != nil {
		tb.Fatalf("open output shard: %v", err)
	}
	defer r.Close()
	var out []string
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			tb.Fatalf("read output shard: %v", err)
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			c, err := shard.Content(rec, r.ContentIndex(), i)
			if err != nil {
				tb.Fatalf("Content: %v", err)
			}
			out = append(out, string(c))
		}
	}
}
