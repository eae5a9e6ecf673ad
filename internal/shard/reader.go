// Package shard reads and writes the columnar shard files that make up the
// corpus: parquet with zstd page compression. Readers stream record batches;
// the writer publishes output shards atomically so a crash never leaves a
// partially written file under a final name.
package shard

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// readBatchSize caps rows per record batch so reader memory stays bounded by
// batch size, not shard size.
const readBatchSize = 4096

// Reader streams one shard's rows as arrow record batches, with the content
// column resolved up front so callers fail before any row work when the
// schema is wrong.
type Reader struct {
	path       string
	pf         *file.Reader
	rr         pqarrow.RecordReader
	schema     *arrow.Schema
	contentIdx int
}

// OpenReader opens the shard at path and resolves column as the content
// field. The column must exist and hold string or binary values.
func OpenReader(ctx context.Context, path, column string) (*Reader, error) {
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("open shard %q: %w", path, err)
	}

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: readBatchSize}, memory.DefaultAllocator)
	if err != nil {
		pf.Close()
		return nil, fmt.Errorf("read shard %q: %w", path, err)
	}

	schema, err := fr.Schema()
	if err != nil {
		pf.Close()
		return nil, fmt.Errorf("read schema of %q: %w", path, err)
	}

	idx, err := contentIndex(schema, column)
	if err != nil {
		pf.Close()
		return nil, fmt.Errorf("shard %q: %w", path, err)
	}

	rr, err := fr.GetRecordReader(ctx, nil, nil)
	if err != nil {
		pf.Close()
		return nil, fmt.Errorf("read rows of %q: %w", path, err)
	}

	return &Reader{path: path, pf: pf, rr: rr, schema: schema, contentIdx: idx}, nil
}

// contentIndex locates column in schema and checks it can yield bytes.
func contentIndex(schema *arrow.Schema, column string) (int, error) {
	indices := schema.FieldIndices(column)
	if len(indices) == 0 {
		return 0, fmt.Errorf("column %q not in schema", column)
	}
	if len(indices) > 1 {
		return 0, fmt.Errorf("column %q appears %d times in schema", column, len(indices))
	}
	idx := indices[0]
	switch schema.Field(idx).Type.ID() {
	case arrow.STRING, arrow.LARGE_STRING, arrow.BINARY, arrow.LARGE_BINARY:
		return idx, nil
	default:
		return 0, fmt.Errorf("column %q has type %s, want string or binary",
			column, schema.Field(idx).Type)
	}
}

// Schema returns the shard's full arrow schema, passthrough columns included.
func (r *Reader) Schema() *arrow.Schema { return r.schema }

// ContentIndex returns the resolved content column index in the schema.
func (r *Reader) ContentIndex() int { return r.contentIdx }

// Path returns the shard path, for error reporting.
func (r *Reader) Path() string { return r.path }

// Next returns the next record batch, or io.EOF when the shard is exhausted.
// The record is only valid until the following Next call; callers that keep
// data longer must Retain it.
func (r *Reader) Next() (arrow.Record, error) {
	return r.rr.Read()
}

// Close releases the record reader and closes the file.
func (r *Reader) Close() error {
	r.rr.Release()
	return r.pf.Close()
}

// Content returns the raw bytes of the content column at row i of rec.
// A null value is an error: every record must carry content.
func Content(rec arrow.Record, contentIdx, i int) ([]byte, error) {
	col := rec.Column(contentIdx)
	if col.IsNull(i) {
		return nil, fmt.Errorf("null content value at row %d", i)
	}
	switch a := col.(type) {
	case *array.String:
		return []byte(a.Value(i)), nil
	case *array.LargeString:
		return []byte(a.Value(i)), nil
	case *array.Binary:
		return a.Value(i), nil
	case *array.LargeBinary:
		return a.Value(i), nil
	default:
		return nil, fmt.Errorf("content column decoded as %T, want string or binary array", col)
	}
}
