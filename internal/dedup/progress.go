package dedup

import "sync/atomic"

// Phase identifies which stage of a pass is currently running.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseRuns
	PhaseMerge
	PhaseRewrite
	PhaseDone
)

// String returns the phase name used in logs and the progress endpoint.
func (p Phase) String() string {
	switch p {
	case PhaseRuns:
		return "runs"
	case PhaseMerge:
		return "merge"
	case PhaseRewrite:
		return "rewrite"
	case PhaseDone:
		return "done"
	default:
		return "idle"
	}
}

// Progress holds live counters updated by the workers. All fields are atomic
// so they can be written from worker goroutines and read from the progress
// reporter and the monitor endpoint without locks.
type Progress struct {
	phase atomic.Int32

	// Run-building phase
	ShardsTotal  atomic.Int64
	RunsBuilt    atomic.Int64
	RunsSkipped  atomic.Int64
	RowsHashed   atomic.Int64
	BytesHashed  atomic.Int64
	Spills       atomic.Int64

	// Merge phase
	Fingerprints atomic.Int64
	Duplicates   atomic.Int64 // fingerprints with more than one occurrence
	RowsRemoved  atomic.Int64

	// Rewrite phase
	ShardsWritten  atomic.Int64
	RewriteSkipped atomic.Int64
	RowsKept       atomic.Int64
	RowsDropped    atomic.Int64

	Errors atomic.Int64
}

// SetPhase records the stage transition.
func (p *Progress) SetPhase(ph Phase) { p.phase.Store(int32(ph)) }

// CurrentPhase returns the stage the pass is in.
func (p *Progress) CurrentPhase() Phase { return Phase(p.phase.Load()) }

// Snapshot is a point-in-time copy of the counters, JSON-shaped for the
// monitor endpoint.
type Snapshot struct {
	Phase          string `json:"phase"`
	ShardsTotal    int64  `json:"shards_total"`
	RunsBuilt      int64  `json:"runs_built"`
	RunsSkipped    int64  `json:"runs_skipped"`
	RowsHashed     int64  `json:"rows_hashed"`
	BytesHashed    int64  `json:"bytes_hashed"`
	Spills         int64  `json:"spills"`
	Fingerprints   int64  `json:"fingerprints"`
	Duplicates     int64  `json:"duplicates"`
	RowsRemoved    int64  `json:"rows_removed"`
	ShardsWritten  int64  `json:"shards_written"`
	RewriteSkipped int64  `json:"rewrite_skipped"`
	RowsKept       int64  `json:"rows_kept"`
	RowsDropped    int64  `json:"rows_dropped"`
	Errors         int64  `json:"errors"`
}

// Snapshot copies the counters.
func (p *Progress) Snapshot() Snapshot {
	return Snapshot{
		Phase:          p.CurrentPhase().String(),
		ShardsTotal:    p.ShardsTotal.Load(),
		RunsBuilt:      p.RunsBuilt.Load(),
		RunsSkipped:    p.RunsSkipped.Load(),
		RowsHashed:     p.RowsHashed.Load(),
		BytesHashed:    p.BytesHashed.Load(),
		Spills:         p.Spills.Load(),
		Fingerprints:   p.Fingerprints.Load(),
		Duplicates:     p.Duplicates.Load(),
		RowsRemoved:    p.RowsRemoved.Load(),
		ShardsWritten:  p.ShardsWritten.Load(),
		RewriteSkipped: p.RewriteSkipped.Load(),
		RowsKept:       p.RowsKept.Load(),
		RowsDropped:    p.RowsDropped.Load(),
		Errors:         p.Errors.Load(),
	}
}
