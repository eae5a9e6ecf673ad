// Package ledger records run history in a SQLite database inside the working
// directory. The ledger is observability only: resumability is decided by
// completion markers on disk, never by ledger rows, so a lost or corrupt
// ledger costs history, not correctness.
package ledger

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ledger wraps the run-history database.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger at path, applies PRAGMAs for WAL mode,
// enforces a single writer connection and runs pending migrations.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %q: %w", path, err)
	}

	// Single writer prevents SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("goose set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("goose up: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

// StartRun inserts a running dedup_runs row and returns its ID.
func (l *Ledger) StartRun(shardsTotal int) (int64, error) {
	now := time.Now().Unix()
	res, err := l.db.Exec(`
		INSERT INTO dedup_runs (run_uuid, started_at, status, shards_total, created_at)
		VALUES (?, ?, 'running', ?, ?)`,
		uuid.NewString(), now, shardsTotal, now)
	if err != nil {
		return 0, fmt.Errorf("create run record: %w", err)
	}
	return res.LastInsertId()
}

// Counters is the subset of progress the ledger persists. Defined here so
// the ledger does not import the engine.
type Counters struct {
	RunsBuilt    int64
	RunsSkipped  int64
	RowsHashed   int64
	Fingerprints int64
	Duplicates   int64
	RowsKept     int64
	RowsDropped  int64
}

// UpdateRunProgress refreshes the live counters on a running row. Failures
// are logged, not returned: history must never fail a pass.
func (l *Ledger) UpdateRunProgress(runID int64, c Counters) {
	_, err := l.db.Exec(`
		UPDATE dedup_runs
		SET runs_built = ?, runs_skipped = ?, rows_hashed = ?,
		    fingerprints = ?, duplicates = ?, rows_kept = ?, rows_dropped = ?
		WHERE id = ?`,
		c.RunsBuilt, c.RunsSkipped, c.RowsHashed,
		c.Fingerprints, c.Duplicates, c.RowsKept, c.RowsDropped, runID)
	if err != nil {
		slog.Warn("ledger: update run progress", "run_id", runID, "error", err)
	}
}

// FinishRun finalizes a row with its terminal status and counters.
func (l *Ledger) FinishRun(runID int64, runErr error, c Counters) {
	l.UpdateRunProgress(runID, c)
	status := "completed"
	var errText sql.NullString
	if runErr != nil {
		status = "failed"
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := l.db.Exec(`
		UPDATE dedup_runs SET status = ?, finished_at = ?, error = ? WHERE id = ?`,
		status, time.Now().Unix(), errText, runID)
	if err != nil {
		slog.Warn("ledger: finish run", "run_id", runID, "error", err)
	}
}

// RecordShardEvent persists a shard failure. Successful shards are not
// recorded; markers on disk already say what completed. A nil err is a
// no-op.
func (l *Ledger) RecordShardEvent(runID int64, ordinal int, path, stage string, shardErr error) {
	if shardErr == nil {
		return
	}
	_, err := l.db.Exec(`
		INSERT INTO shard_events (run_id, ordinal, path, stage, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, ordinal, path, stage, shardErr.Error(), time.Now().Unix())
	if err != nil {
		slog.Warn("ledger: record shard event", "run_id", runID, "ordinal", ordinal, "error", err)
	}
}

// Run is one historical dedup_runs row.
type Run struct {
	ID           int64
	UUID         string
	StartedAt    time.Time
	FinishedAt   time.Time
	Status       string
	ShardsTotal  int64
	RowsHashed   int64
	Fingerprints int64
	Duplicates   int64
	RowsKept     int64
	RowsDropped  int64
	Error        string
}

// History returns the most recent runs, newest first.
func (l *Ledger) History(limit int) ([]Run, error) {
	rows, err := l.db.Query(`
		SELECT id, run_uuid, started_at, COALESCE(finished_at, 0), status,
		       shards_total, rows_hashed, fingerprints, duplicates,
		       rows_kept, rows_dropped, COALESCE(error, '')
		FROM dedup_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query run history: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.UUID, &started, &finished, &r.Status,
			&r.ShardsTotal, &r.RowsHashed, &r.Fingerprints, &r.Duplicates,
			&r.RowsKept, &r.RowsDropped, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run history: %w", err)
		}
		r.StartedAt = time.Unix(started, 0)
		if finished > 0 {
			r.FinishedAt = time.Unix(finished, 0)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
