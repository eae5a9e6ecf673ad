package dedup

import (
	"fmt"
	"strings"
)

// ShardError is one shard's failure in a parallel phase, carrying enough
// identity to name the offending input.
type ShardError struct {
	Ordinal int
	Path    string
	Stage   string
	Err     error
}

func (e ShardError) Error() string {
	return fmt.Sprintf("shard %d (%s) failed during %s: %v", e.Ordinal, e.Path, e.Stage, e.Err)
}

func (e ShardError) Unwrap() error { return e.Err }

// ShardErrors aggregates failures collected across a phase. The coordinator
// surfaces them only after all in-flight work has drained, so the working
// directory is never left looking resumable when it is not.
type ShardErrors []ShardError

func (es ShardErrors) Error() string {
	if len(es) == 1 {
		return es[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d shards failed:", len(es))
	for _, e := range es {
		b.WriteString("\n  ")
		b.WriteString(e.Error())
	}
	return b.String()
}
