// Package tasks tracks Earth Engine export and import operations until they
// reach a terminal state.
package tasks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"leafprep/internal/earthengine"
	"leafprep/internal/logging"
	"leafprep/internal/store"
)

// DefaultPollInterval is the fixed delay between status checks.
const DefaultPollInterval = 10 * time.Second

// OperationGetter reads the current state of an operation.
type OperationGetter interface {
	GetOperation(ctx context.Context, name string) (*earthengine.Operation, error)
}

// Recorder persists task state changes.
type Recorder interface {
	UpsertTask(t store.TaskRecord) error
}

// Task is a tracked operation handle.
type Task struct {
	Operation   string
	Description string
	AssetID     string
	State       string
	Error       string
}

// Terminal reports whether the task will not change state again.
func (t Task) Terminal() bool { return earthengine.IsTerminal(t.State) }

// Failed reports whether the task ended without producing its asset.
func (t Task) Failed() bool {
	return t.State == earthengine.StateFailed || t.State == earthengine.StateCancelled
}

// FailureError lists the tasks that ended FAILED or CANCELLED.
type FailureError struct {
	Tasks []Task
}

func (e *FailureError) Error() string {
	parts := make([]string, len(e.Tasks))
	for i, t := range e.Tasks {
		parts[i] = fmt.Sprintf("%s (%s)", t.Description, t.State)
		if t.Error != "" {
			parts[i] = fmt.Sprintf("%s (%s: %s)", t.Description, t.State, t.Error)
		}
	}
	return fmt.Sprintf("%d task(s) failed: %s", len(e.Tasks), strings.Join(parts, ", "))
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPollInterval sets the delay between polls.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithLedger records every state change under runID.
func WithLedger(r Recorder, runID string) Option {
	return func(t *Tracker) {
		t.ledger = r
		t.runID = runID
	}
}

// Tracker holds task handles and polls them.
type Tracker struct {
	client   OperationGetter
	ledger   Recorder
	runID    string
	interval time.Duration

	mu    sync.Mutex
	tasks []*Task
	index map[string]*Task
}

// NewTracker creates an empty tracker.
func NewTracker(client OperationGetter, opts ...Option) *Tracker {
	t := &Tracker{
		client:   client,
		interval: DefaultPollInterval,
		index:    make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Child returns an empty tracker sharing the client, ledger and interval, for
// callers that must wait on a subset of operations.
func (t *Tracker) Child() *Tracker {
	return &Tracker{
		client:   t.client,
		ledger:   t.ledger,
		runID:    t.runID,
		interval: t.interval,
		index:    make(map[string]*Task),
	}
}

// Add tracks a newly started operation. A nil operation (a skipped export) is ignored.
func (t *Tracker) Add(op *earthengine.Operation, assetID string) {
	if op == nil {
		return
	}
	t.AddTask(Task{
		Operation:   op.Name,
		Description: op.Metadata.Description,
		AssetID:     assetID,
		State:       op.State(),
	})
}

// AddTask tracks a task handle. Re-adding an operation replaces its handle.
func (t *Tracker) AddTask(task Task) {
	if task.State == "" {
		task.State = earthengine.StatePending
	}
	t.mu.Lock()
	if existing, ok := t.index[task.Operation]; ok {
		*existing = task
	} else {
		tt := task
		t.tasks = append(t.tasks, &tt)
		t.index[task.Operation] = &tt
	}
	t.mu.Unlock()
	t.record(task)
}

// Tasks returns a snapshot of every tracked task.
func (t *Tracker) Tasks() []Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Task, len(t.tasks))
	for i, task := range t.tasks {
		out[i] = *task
	}
	return out
}

// Pending counts tasks not yet terminal.
func (t *Tracker) Pending() int {
	n := 0
	for _, task := range t.Tasks() {
		if !task.Terminal() {
			n++
		}
	}
	return n
}

// ForAsset returns the most recently tracked task producing assetID.
func (t *Tracker) ForAsset(assetID string) (Task, bool) {
	tasks := t.Tasks()
	for i := len(tasks) - 1; i >= 0; i-- {
		if tasks[i].AssetID == assetID {
			return tasks[i], true
		}
	}
	return Task{}, false
}

// Refresh polls every non-terminal task once and reports whether all tasks
// are terminal afterwards.
func (t *Tracker) Refresh(ctx context.Context) (bool, error) {
	return t.refresh(ctx, func(Task) bool { return true })
}

func (t *Tracker) refresh(ctx context.Context, include func(Task) bool) (bool, error) {
	done := true
	for _, task := range t.Tasks() {
		if task.Terminal() || !include(task) {
			continue
		}
		op, err := t.client.GetOperation(ctx, task.Operation)
		if err != nil {
			return false, fmt.Errorf("failed to poll %s: %w", task.Description, err)
		}
		next := task
		next.State = op.State()
		if op.Error != nil {
			next.Error = op.Error.Message
		}
		if next.State != task.State {
			logging.Tasks("%s: %s -> %s", task.Description, task.State, next.State)
			t.update(next)
		}
		if !next.Terminal() {
			done = false
		}
	}
	return done, nil
}

// Wait blocks until every tracked task is terminal, polling with the fixed
// interval. It returns a *FailureError when any task failed or was cancelled.
func (t *Tracker) Wait(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategoryTasks, "wait")
	defer timer.StopWithInfo()

	if err := t.poll(ctx, func(Task) bool { return true }); err != nil {
		return err
	}
	return t.Err()
}

// WaitFor blocks until the tasks producing the given assets are terminal.
// Assets with no tracked task return immediately. Only failures among those
// tasks are reported.
func (t *Tracker) WaitFor(ctx context.Context, assetIDs ...string) error {
	want := make(map[string]bool, len(assetIDs))
	for _, id := range assetIDs {
		want[id] = true
	}
	include := func(task Task) bool { return want[task.AssetID] }
	if err := t.poll(ctx, include); err != nil {
		return err
	}
	var failed []Task
	for _, task := range t.Tasks() {
		if include(task) && task.Failed() && !t.superseded(task) {
			failed = append(failed, task)
		}
	}
	if len(failed) > 0 {
		return &FailureError{Tasks: failed}
	}
	return nil
}

// superseded reports whether a later task for the same asset exists, as
// happens when a failed export is started again.
func (t *Tracker) superseded(task Task) bool {
	if task.AssetID == "" {
		return false
	}
	latest, ok := t.ForAsset(task.AssetID)
	return ok && latest.Operation != task.Operation
}

func (t *Tracker) poll(ctx context.Context, include func(Task) bool) error {
	for {
		done, err := t.refresh(ctx, include)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		logging.TasksDebug("%d task(s) pending, next poll in %v", t.Pending(), t.interval)

		delay := time.NewTimer(t.interval)
		select {
		case <-ctx.Done():
			delay.Stop()
			return ctx.Err()
		case <-delay.C:
		}
	}
}

// Err returns a *FailureError for failed terminal tasks, or nil.
func (t *Tracker) Err() error {
	var failed []Task
	for _, task := range t.Tasks() {
		if task.Failed() && !t.superseded(task) {
			failed = append(failed, task)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &FailureError{Tasks: failed}
}

func (t *Tracker) update(task Task) {
	finished := false
	t.mu.Lock()
	if existing, ok := t.index[task.Operation]; ok {
		finished = !existing.Terminal() && task.Terminal()
		*existing = task
	}
	t.mu.Unlock()
	t.record(task)
	if finished {
		logging.Audit().TaskFinished(task.Operation, task.AssetID, task.State, task.Error, !task.Failed())
	}
}

func (t *Tracker) record(task Task) {
	if t.ledger == nil {
		return
	}
	err := t.ledger.UpsertTask(store.TaskRecord{
		Operation:   task.Operation,
		RunID:       t.runID,
		Description: task.Description,
		AssetID:     task.AssetID,
		State:       task.State,
		Error:       task.Error,
	})
	if err != nil {
		logging.Get(logging.CategoryTasks).Warn("Failed to record %s: %v", task.Operation, err)
	}
}

// TaskLister reads tasks from the ledger.
type TaskLister interface {
	TasksByState(states ...string) ([]store.TaskRecord, error)
}

// Resume builds a tracker holding every ledger task that was not terminal
// when last seen.
func Resume(client OperationGetter, ledger interface {
	Recorder
	TaskLister
}, runID string, opts ...Option) (*Tracker, error) {
	records, err := ledger.TasksByState(
		earthengine.StatePending, earthengine.StateRunning, earthengine.StateCancelling)
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithLedger(ledger, runID))
	t := NewTracker(client, opts...)
	for _, r := range records {
		t.mu.Lock()
		task := &Task{
			Operation:   r.Operation,
			Description: r.Description,
			AssetID:     r.AssetID,
			State:       r.State,
			Error:       r.Error,
		}
		t.tasks = append(t.tasks, task)
		t.index[r.Operation] = task
		t.mu.Unlock()
	}
	logging.Tasks("Resumed %d unfinished task(s)", len(records))
	return t, nil
}
