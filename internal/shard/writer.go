package shard

import (
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// zstdLevel matches the compression the input corpus is written with.
const zstdLevel = 5

// AtomicWriter writes an output shard to a temporary sibling of its final
// path and renames it into place on Close. A crash mid-write leaves only the
// temporary, which the next attempt overwrites; the final name is never
// visible until the shard is complete.
type AtomicWriter struct {
	path string
	tmp  string
	f    *os.File
	fw   *pqarrow.FileWriter
	rows int64
}

// NewAtomicWriter starts an output shard at path with the given schema,
// parquet-encoded with zstd page compression like the inputs.
func NewAtomicWriter(path string, schema *arrow.Schema) (*AtomicWriter, error) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create output shard %q: %w", tmp, err)
	}

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithCompressionLevel(zstdLevel),
	)
	// pqarrow closes the sink on FileWriter.Close when it implements
	// io.Closer; hide Close so the file stays open for the Sync in Close.
	fw, err := pqarrow.NewFileWriter(schema, struct{ io.Writer }{f}, props, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("parquet writer for %q: %w", tmp, err)
	}
	return &AtomicWriter{path: path, tmp: tmp, f: f, fw: fw}, nil
}

// Write appends a record batch to the shard.
func (w *AtomicWriter) Write(rec arrow.Record) error {
	if err := w.fw.Write(rec); err != nil {
		return fmt.Errorf("write output shard %q: %w", w.tmp, err)
	}
	w.rows += rec.NumRows()
	return nil
}

// Rows returns the number of rows written so far.
func (w *AtomicWriter) Rows() int64 { return w.rows }

// Close finishes the parquet file, syncs it and publishes it under its final
// name.
func (w *AtomicWriter) Close() error {
	if err := w.fw.Close(); err != nil {
		w.f.Close()
		os.Remove(w.tmp)
		return fmt.Errorf("finish output shard %q: %w", w.tmp, err)
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		os.Remove(w.tmp)
		return fmt.Errorf("sync output shard %q: %w", w.tmp, err)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("close output shard %q: %w", w.tmp, err)
	}
	if err := os.Rename(w.tmp, w.path); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("publish output shard %q: %w", w.path, err)
	}
	return nil
}

// Abort discards the temporary file without publishing.
func (w *AtomicWriter) Abort() {
	w.fw.Close()
	w.f.Close()
	os.Remove(w.tmp)
}
