package dedup

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyRunning is returned when a pass is started while one is in
// progress.
var ErrAlreadyRunning = errors.New("a deduplication pass is already in progress")

// ActivePass holds live information about the running pass.
type ActivePass struct {
	UUID        string
	StartedAt   time.Time
	TriggeredBy string
	OutDir      string
	Progress    *Progress
}

// Manager enforces a single-active-pass invariant for watch mode, where a
// schedule and the monitor endpoint can both observe (and must not overlap)
// runs against the same working directory. It is safe for concurrent use.
type Manager struct {
	mu   sync.Mutex
	opts Options

	active   *ActivePass
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager creates a Manager that will run passes with the given base
// options. Each pass writes into a fresh subdirectory of opts.OutDir named
// by its run UUID, so successive scheduled passes never collide.
func NewManager(opts Options) *Manager {
	return &Manager{opts: opts}
}

// Start launches an asynchronous pass. Returns ErrAlreadyRunning if one is
// in progress: scheduled triggers that land mid-pass are skipped, not
// queued.
func (m *Manager) Start(parentCtx context.Context, triggeredBy string) (*ActivePass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, ErrAlreadyRunning
	}

	opts := m.opts
	id := uuid.NewString()
	opts.OutDir = filepath.Join(m.opts.OutDir, id)
	opts.Clear = false // the working directory is shared across passes

	eng, err := New(opts)
	if err != nil {
		return nil, err
	}

	passCtx, cancel := context.WithCancel(parentCtx)
	active := &ActivePass{
		UUID:        id,
		StartedAt:   time.Now(),
		TriggeredBy: triggeredBy,
		OutDir:      opts.OutDir,
		Progress:    eng.Progress(),
	}
	m.active = active
	m.cancelFn = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		if err := eng.Run(passCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("deduplication pass failed", "uuid", id, "triggered_by", triggeredBy, "error", err)
		}
		m.mu.Lock()
		m.active = nil
		m.cancelFn = nil
		m.mu.Unlock()
	}()

	return active, nil
}

// Active returns a snapshot of the running pass, or nil when idle.
func (m *Manager) Active() *ActivePass {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	snap := *m.active
	return &snap
}

// Stop cancels any running pass and waits for it to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.cancelFn != nil {
		m.cancelFn()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
