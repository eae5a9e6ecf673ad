package dedup

import (
	"context"
	"log/slog"
	"sync"
)

// runPhase dispatches the given shard ordinals to a fixed pool of workers.
// After the first failure no new shards are handed out, but in-flight shards
// run to completion and every failure is collected; the aggregate surfaces
// only once the pool has drained. The result never depends on worker count
// or scheduling: workers only produce per-shard artifacts keyed by ordinal.
func (e *Engine) runPhase(ctx context.Context, stage string, ordinals []int, fn func(context.Context, int) error) error {
	workers := e.opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(ordinals) {
		workers = len(ordinals)
	}

	tasks := make(chan int)
	failed := make(chan struct{})
	var failOnce sync.Once

	var mu sync.Mutex
	var errs ShardErrors
	report := func(ordinal int, err error) {
		mu.Lock()
		errs = append(errs, ShardError{
			Ordinal: ordinal,
			Path:    e.corpus.AbsPath(ordinal),
			Stage:   stage,
			Err:     err,
		})
		mu.Unlock()
		e.progress.Errors.Add(1)
		failOnce.Do(func() { close(failed) })
	}

	go func() {
		defer close(tasks)
		for _, ordinal := range ordinals {
			select {
			case tasks <- ordinal:
			case <-failed:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ordinal := range tasks {
				if err := fn(ctx, ordinal); err != nil {
					slog.Error("shard failed", "stage", stage, "ordinal", ordinal,
						"path", e.corpus.AbsPath(ordinal), "error", err)
					report(ordinal, err)
				}
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil && len(errs) == 0 {
		return err
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
