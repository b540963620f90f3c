package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"leafprep/internal/earthengine"
	"leafprep/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedClient returns the next scripted state of an operation on every poll;
// the last state repeats.
type scriptedClient struct {
	mu     sync.Mutex
	states map[string][]string
	polls  map[string]int
	err    error
}

func newScriptedClient(states map[string][]string) *scriptedClient {
	return &scriptedClient{states: states, polls: make(map[string]int)}
}

func (c *scriptedClient) GetOperation(_ context.Context, name string) (*earthengine.Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	seq := c.states[name]
	i := c.polls[name]
	if i >= len(seq) {
		i = len(seq) - 1
	}
	c.polls[name]++
	op := &earthengine.Operation{Name: name, Metadata: earthengine.OperationMetadata{State: seq[i]}}
	if seq[i] == earthengine.StateFailed {
		op.Done = true
		op.Error = &earthengine.APIError{Code: 3, Message: "Table is empty"}
	}
	return op, nil
}

func TestTracker_WaitSucceeds(t *testing.T) {
	client := newScriptedClient(map[string][]string{
		"ops/a": {"RUNNING", "RUNNING", "SUCCEEDED"},
		"ops/b": {"SUCCEEDED"},
	})
	tr := NewTracker(client, WithPollInterval(time.Millisecond))
	tr.Add(&earthengine.Operation{Name: "ops/a", Metadata: earthengine.OperationMetadata{Description: "a", State: "PENDING"}}, "assets/a")
	tr.AddTask(Task{Operation: "ops/b", Description: "b"})
	tr.Add(nil, "assets/skipped")

	require.NoError(t, tr.Wait(context.Background()))
	assert.Equal(t, 0, tr.Pending())
	assert.Len(t, tr.Tasks(), 2)
	assert.Equal(t, 3, client.polls["ops/a"])

	task, ok := tr.ForAsset("assets/a")
	require.True(t, ok)
	assert.Equal(t, earthengine.StateSucceeded, task.State)
}

func TestTracker_WaitReportsFailures(t *testing.T) {
	client := newScriptedClient(map[string][]string{
		"ops/ok":     {"SUCCEEDED"},
		"ops/bad":    {"RUNNING", "FAILED"},
		"ops/cancel": {"CANCELLING", "CANCELLED"},
	})
	tr := NewTracker(client, WithPollInterval(time.Millisecond))
	tr.AddTask(Task{Operation: "ops/ok", Description: "reservoirs"})
	tr.AddTask(Task{Operation: "ops/bad", Description: "selected_polygons"})
	tr.AddTask(Task{Operation: "ops/cancel", Description: "fires"})

	err := tr.Wait(context.Background())
	require.Error(t, err)

	var failure *FailureError
	require.True(t, errors.As(err, &failure))
	require.Len(t, failure.Tasks, 2)
	assert.Contains(t, err.Error(), "2 task(s) failed")
	assert.Contains(t, err.Error(), "selected_polygons (FAILED: Table is empty)")
	assert.Contains(t, err.Error(), "fires (CANCELLED)")
	assert.NotContains(t, err.Error(), "reservoirs")
}

func TestTracker_WaitStopsOnCancel(t *testing.T) {
	client := newScriptedClient(map[string][]string{"ops/a": {"RUNNING"}})
	tr := NewTracker(client, WithPollInterval(time.Hour))
	tr.AddTask(Task{Operation: "ops/a", Description: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- tr.Wait(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
}

func TestTracker_PollErrorPropagates(t *testing.T) {
	client := newScriptedClient(map[string][]string{"ops/a": {"RUNNING"}})
	client.err = &earthengine.APIError{Code: 500, Message: "backend error"}
	tr := NewTracker(client, WithPollInterval(time.Millisecond))
	tr.AddTask(Task{Operation: "ops/a", Description: "a"})

	err := tr.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to poll a")
}

func TestTracker_EmptyWaitReturnsImmediately(t *testing.T) {
	tr := NewTracker(newScriptedClient(nil))
	assert.NoError(t, tr.Wait(context.Background()))
}

func TestTracker_RecordsToLedgerAndResumes(t *testing.T) {
	ledger, err := store.Open(":memory:")
	require.NoError(t, err)
	defer ledger.Close()

	run, err := ledger.StartRun("pipeline run")
	require.NoError(t, err)

	client := newScriptedClient(map[string][]string{
		"ops/a": {"RUNNING"},
		"ops/b": {"SUCCEEDED"},
	})
	tr := NewTracker(client, WithLedger(ledger, run.ID))
	tr.AddTask(Task{Operation: "ops/a", Description: "a", AssetID: "assets/a"})
	tr.AddTask(Task{Operation: "ops/b", Description: "b", AssetID: "assets/b"})

	done, err := tr.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, done)

	rec, err := ledger.Task("ops/b")
	require.NoError(t, err)
	assert.Equal(t, earthengine.StateSucceeded, rec.State)

	client.states["ops/a"] = []string{"SUCCEEDED"}
	resumed, err := Resume(client, ledger, run.ID, WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	require.Len(t, resumed.Tasks(), 1)
	assert.Equal(t, "ops/a", resumed.Tasks()[0].Operation)

	require.NoError(t, resumed.Wait(context.Background()))
	rec, err = ledger.Task("ops/a")
	require.NoError(t, err)
	assert.Equal(t, earthengine.StateSucceeded, rec.State)
}

func TestWatchModel_QuitsWhenDone(t *testing.T) {
	client := newScriptedClient(map[string][]string{"ops/a": {"SUCCEEDED"}})
	tr := NewTracker(client)
	tr.AddTask(Task{Operation: "ops/a", Description: "wells", AssetID: "assets/wells"})

	m := NewWatchModel(context.Background(), tr)
	msg := m.poll()()
	next, cmd := m.Update(msg)
	require.NotNil(t, cmd)

	wm := next.(WatchModel)
	assert.True(t, wm.done)
	assert.NoError(t, wm.Err())
	assert.Contains(t, wm.View(), "All tasks finished")
	assert.Contains(t, wm.View(), "wells")
}

func TestWatchModel_ReportsFailure(t *testing.T) {
	client := newScriptedClient(map[string][]string{"ops/a": {"FAILED"}})
	tr := NewTracker(client)
	tr.AddTask(Task{Operation: "ops/a", Description: "wells"})

	m := NewWatchModel(context.Background(), tr)
	next, _ := m.Update(m.poll()())
	wm := next.(WatchModel)

	var failure *FailureError
	require.True(t, errors.As(wm.Err(), &failure))
	assert.Contains(t, wm.View(), "Table is empty")
}

func TestTracker_WaitFor(t *testing.T) {
	client := newScriptedClient(map[string][]string{
		"ops/wells":  {"RUNNING", "SUCCEEDED"},
		"ops/slow":   {"RUNNING"},
		"ops/broken": {"FAILED"},
		"ops/retry":  {"SUCCEEDED"},
	})
	tr := NewTracker(client, WithPollInterval(time.Millisecond))
	tr.AddTask(Task{Operation: "ops/wells", Description: "wells", AssetID: "assets/wells"})
	tr.AddTask(Task{Operation: "ops/slow", Description: "slow", AssetID: "assets/slow"})

	require.NoError(t, tr.WaitFor(context.Background(), "assets/wells", "assets/untracked"))
	assert.Equal(t, 0, client.polls["ops/slow"], "unrelated tasks are not polled")
	assert.Equal(t, 1, tr.Pending())

	tr.AddTask(Task{Operation: "ops/broken", Description: "flags", AssetID: "assets/flags"})
	var failure *FailureError
	require.ErrorAs(t, tr.WaitFor(context.Background(), "assets/flags"), &failure)
	assert.Equal(t, "flags", failure.Tasks[0].Description)

	tr.AddTask(Task{Operation: "ops/retry", Description: "flags", AssetID: "assets/flags"})
	require.NoError(t, tr.WaitFor(context.Background(), "assets/flags"), "a later successful task supersedes the failure")
	task, ok := tr.ForAsset("assets/flags")
	require.True(t, ok)
	assert.Equal(t, "ops/retry", task.Operation)
}

func TestTracker_Child(t *testing.T) {
	client := newScriptedClient(map[string][]string{"ops/a": {"SUCCEEDED"}})
	parent := NewTracker(client, WithPollInterval(time.Millisecond))
	parent.AddTask(Task{Operation: "ops/p", Description: "parent", State: earthengine.StateRunning})

	child := parent.Child()
	child.AddTask(Task{Operation: "ops/a", Description: "a"})
	require.NoError(t, child.Wait(context.Background()))
	assert.Len(t, parent.Tasks(), 1)
	assert.Equal(t, time.Millisecond, child.interval)
}
