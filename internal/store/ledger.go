// Package store keeps the local task ledger: which commands ran, which Earth
// Engine operations they started, and the last state seen for each.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"leafprep/internal/logging"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one CLI invocation that may start tasks.
type Run struct {
	ID         string
	Command    string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// TaskRecord is the last known state of one operation.
type TaskRecord struct {
	Operation   string
	RunID       string
	Description string
	AssetID     string
	State       string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Ledger is a SQLite-backed record of runs and tasks.
type Ledger struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open creates or opens the ledger at path. ":memory:" gives a private
// in-memory ledger.
func Open(path string) (*Ledger, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, path: path}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logging.StoreDebug("Opened ledger %s", path)
	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS tasks (
		operation TEXT PRIMARY KEY,
		run_id TEXT,
		description TEXT NOT NULL,
		asset_id TEXT,
		state TEXT NOT NULL,
		error TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
	CREATE INDEX IF NOT EXISTS idx_tasks_run ON tasks(run_id);
	`
	_, err := l.db.Exec(schema)
	return err
}

// =============================================================================
// RUNS
// =============================================================================

// StartRun records the start of a command.
func (l *Ledger) StartRun(command string) (*Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := &Run{
		ID:        uuid.New().String(),
		Command:   command,
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := l.db.Exec(`INSERT INTO runs (id, command, status, started_at) VALUES (?, ?, ?, ?)`,
		r.ID, r.Command, r.Status, r.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	logging.Store("Run %s started: %s", r.ID, command)
	return r, nil
}

// FinishRun marks a run succeeded, or failed when runErr is non-nil.
func (l *Ledger) FinishRun(id string, runErr error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	status, msg := RunSucceeded, ""
	if runErr != nil {
		status, msg = RunFailed, runErr.Error()
	}
	res, err := l.db.Exec(`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, msg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	logging.Store("Run %s finished: %s", id, status)
	return nil
}

// Runs returns the most recent runs, newest first.
func (l *Ledger) Runs(limit int) ([]Run, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.Query(`
		SELECT id, command, status, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var errMsg sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Command, &r.Status, &errMsg, &r.StartedAt, &finished); err != nil {
			return nil, err
		}
		r.Error = errMsg.String
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// TASKS
// =============================================================================

// UpsertTask inserts a task or updates its state. CreatedAt is kept from the
// first insert.
func (l *Ledger) UpsertTask(t TaskRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	var runID interface{}
	if t.RunID != "" {
		runID = t.RunID
	}
	_, err := l.db.Exec(`
		INSERT INTO tasks (operation, run_id, description, asset_id, state, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(operation) DO UPDATE SET
			state = excluded.state,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, t.Operation, runID, t.Description, t.AssetID, t.State, t.Error, now, now)
	if err != nil {
		return fmt.Errorf("failed to record task %s: %w", t.Operation, err)
	}
	logging.StoreDebug("Task %s (%s) -> %s", t.Description, t.Operation, t.State)
	return nil
}

// Task returns one task, or nil when it is unknown.
func (l *Ledger) Task(operation string) (*TaskRecord, error) {
	tasks, err := l.queryTasks(`WHERE operation = ?`, operation)
	if err != nil || len(tasks) == 0 {
		return nil, err
	}
	return &tasks[0], nil
}

// TasksByState returns tasks currently in any of states. No states means all tasks.
func (l *Ledger) TasksByState(states ...string) ([]TaskRecord, error) {
	if len(states) == 0 {
		return l.queryTasks("")
	}
	args := make([]interface{}, len(states))
	for i, s := range states {
		args[i] = s
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(states)), ",")
	return l.queryTasks("WHERE state IN ("+placeholders+")", args...)
}

// TasksByRun returns the tasks a run started.
func (l *Ledger) TasksByRun(runID string) ([]TaskRecord, error) {
	return l.queryTasks(`WHERE run_id = ?`, runID)
}

func (l *Ledger) queryTasks(where string, args ...interface{}) ([]TaskRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.Query(`
		SELECT operation, run_id, description, asset_id, state, error, created_at, updated_at
		FROM tasks `+where+` ORDER BY created_at, operation`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var t TaskRecord
		var runID, assetID, errMsg sql.NullString
		if err := rows.Scan(&t.Operation, &runID, &t.Description, &assetID, &t.State, &errMsg,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.RunID = runID.String
		t.AssetID = assetID.String
		t.Error = errMsg.String
		out = append(out, t)
	}
	return out, rows.Err()
}
