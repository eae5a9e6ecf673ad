package dedup

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"

	"github.com/pretrainer/deduplicator-master/internal/corpus"
	"github.com/pretrainer/deduplicator-master/internal/decision"
	"github.com/pretrainer/deduplicator-master/internal/fingerprint"
	"github.com/pretrainer/deduplicator-master/internal/runfile"
	"github.com/pretrainer/deduplicator-master/internal/shard"
	"github.com/pretrainer/deduplicator-master/internal/workdir"
)

// maxFieldRunes truncates rendered column values in the report.
const maxFieldRunes = 120

// Field is one rendered column of a reported row.
type Field struct {
	Name  string
	Value string
}

// RowView is a reported row: where it lives plus its rendered columns,
// passthrough payload included.
type RowView struct {
	Location  runfile.Location
	ShardPath string
	Fields    []Field
}

// Pair is one removed row alongside the row kept in its place.
type Pair struct {
	FP      fingerprint.Fingerprint
	Removed RowView
	Kept    RowView
}

// Differ produces a bounded sample of removed/kept row pairs from a prior
// pass's working directory. It re-reads only the rows the sample needs,
// never the full corpus, and never mutates anything.
type Differ struct {
	workDir string
	column  string
	limit   int
}

// NewDiffer prepares a diff against workDir. column must match the column
// the working directory was built with; limit bounds the report size.
func NewDiffer(workDir, column string, limit int) *Differ {
	return &Differ{workDir: workDir, column: column, limit: limit}
}

// Collect returns up to limit pairs in deterministic order: ascending by
// fingerprint, then by removed location. It fails with
// decision.ErrNotSealed when the working directory holds no sealed decision
// log — distinct from a sealed log with zero duplicates, which yields an
// empty, valid report.
func (d *Differ) Collect(ctx context.Context) ([]Pair, error) {
	layout := workdir.New(d.workDir)

	m, err := layout.LoadManifest()
	if err != nil {
		return nil, fmt.Errorf("working directory %q: %w", d.workDir, err)
	}
	if m.Column != d.column {
		return nil, fmt.Errorf("working directory %q was built for column %q, not %q",
			d.workDir, m.Column, d.column)
	}
	if !workdir.HasMarker(layout.DecisionLogPath()) {
		return nil, fmt.Errorf("working directory %q: %w", d.workDir, decision.ErrNotSealed)
	}

	r, err := decision.OpenReader(layout.DecisionLogPath())
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// Pass 1: pick the sample from the log alone.
	var pairs []Pair
	for len(pairs) < d.limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		for _, removed := range entry.Removed {
			pairs = append(pairs, Pair{
				FP:      entry.FP,
				Removed: RowView{Location: removed},
				Kept:    RowView{Location: entry.Kept},
			})
			if len(pairs) >= d.limit {
				break
			}
		}
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	// Pass 2: fetch only the sampled rows from the original shards.
	c := corpus.FromManifest(m.InputRoot, m.Pattern, m.Shards)
	needed := make(map[uint32]map[uint32]struct{})
	for _, p := range pairs {
		for _, loc := range []runfile.Location{p.Removed.Location, p.Kept.Location} {
			if needed[loc.Shard] == nil {
				needed[loc.Shard] = make(map[uint32]struct{})
			}
			needed[loc.Shard][loc.Row] = struct{}{}
		}
	}
	views, err := d.fetchRows(ctx, c, needed)
	if err != nil {
		return nil, err
	}
	for i := range pairs {
		removed, ok := views[pairs[i].Removed.Location]
		if !ok {
			return nil, fmt.Errorf("internal: removed row %d of shard %d not found in corpus",
				pairs[i].Removed.Location.Row, pairs[i].Removed.Location.Shard)
		}
		kept, ok := views[pairs[i].Kept.Location]
		if !ok {
			return nil, fmt.Errorf("internal: kept row %d of shard %d not found in corpus",
				pairs[i].Kept.Location.Row, pairs[i].Kept.Location.Shard)
		}
		pairs[i].Removed, pairs[i].Kept = removed, kept
	}
	return pairs, nil
}

// fetchRows streams each involved shard once, up to its highest needed row,
// and renders the needed rows.
func (d *Differ) fetchRows(ctx context.Context, c *corpus.Corpus, needed map[uint32]map[uint32]struct{}) (map[runfile.Location]RowView, error) {
	shards := make([]uint32, 0, len(needed))
	for s := range needed {
		shards = append(shards, s)
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i] < shards[j] })

	views := make(map[runfile.Location]RowView)
	for _, ordinal := range shards {
		if int(ordinal) >= c.Len() {
			return nil, fmt.Errorf("decision log references shard %d, corpus has %d", ordinal, c.Len())
		}
		path := c.AbsPath(int(ordinal))
		if err := d.fetchShardRows(ctx, path, ordinal, needed[ordinal], views); err != nil {
			return nil, err
		}
	}
	return views, nil
}

func (d *Differ) fetchShardRows(ctx context.Context, path string, ordinal uint32, rows map[uint32]struct{}, views map[runfile.Location]RowView) error {
	r, err := shard.OpenReader(ctx, path, d.column)
	if err != nil {
		return err
	}
	defer r.Close()

	remaining := len(rows)
	var base int64
	for remaining > 0 {
		rec, err := r.Next()
		if err == io.EOF {
			return fmt.Errorf("shard %q ended before all sampled rows were read", path)
		}
		if err != nil {
			return fmt.Errorf("read shard %q: %w", path, err)
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			row := uint32(base + int64(i))
			if _, ok := rows[row]; !ok {
				continue
			}
			fields := make([]Field, rec.NumCols())
			for j := range fields {
				val := "null"
				if !rec.Column(j).IsNull(i) {
					val = truncate(rec.Column(j).ValueStr(i))
				}
				fields[j] = Field{Name: r.Schema().Field(j).Name, Value: val}
			}
			views[runfile.Location{Shard: ordinal, Row: row}] = RowView{
				Location:  runfile.Location{Shard: ordinal, Row: row},
				ShardPath: path,
				Fields:    fields,
			}
			remaining--
		}
		base += rec.NumRows()
	}
	return nil
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxFieldRunes {
		return s
	}
	return string(runes[:maxFieldRunes]) + "…"
}

// WriteReport renders pairs as a colorized listing. An empty report prints a
// single note rather than nothing, so "no duplicates" is visibly distinct
// from a failure.
func WriteReport(w io.Writer, pairs []Pair, noColor bool) {
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	bold := color.New(color.Bold)
	if noColor {
		for _, c := range []*color.Color{red, green, bold} {
			c.DisableColor()
		}
	}

	if len(pairs) == 0 {
		fmt.Fprintln(w, "no removed rows")
		return
	}
	for i, p := range pairs {
		bold.Fprintf(w, "[%d] fingerprint %s\n", i+1, p.FP.Hex())
		red.Fprintf(w, "  - removed shard %d row %d (%s)\n",
			p.Removed.Location.Shard, p.Removed.Location.Row, p.Removed.ShardPath)
		writeFields(w, p.Removed.Fields)
		green.Fprintf(w, "  + kept    shard %d row %d (%s)\n",
			p.Kept.Location.Shard, p.Kept.Location.Row, p.Kept.ShardPath)
		writeFields(w, p.Kept.Fields)
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "%d removed/kept pairs\n", len(pairs))
}

func writeFields(w io.Writer, fields []Field) {
	for _, f := range fields {
		fmt.Fprintf(w, "      %s: %s\n", f.Name, f.Value)
	}
}
