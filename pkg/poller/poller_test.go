package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dashboard-backend/pkg/tasks"
)

// scriptedStatusClient returns the queued snapshots one per call, then
// keeps returning the last one.
type scriptedStatusClient struct {
	mu    sync.Mutex
	snaps []tasks.Snapshot
	err   error
	calls int
}

func (c *scriptedStatusClient) TaskStatus(ctx context.Context, taskID string) (tasks.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return tasks.Snapshot{}, c.err
	}
	if len(c.snaps) == 0 {
		return tasks.Snapshot{ID: taskID, State: tasks.StatePending}, nil
	}
	snap := c.snaps[0]
	if len(c.snaps) > 1 {
		c.snaps = c.snaps[1:]
	}
	return snap, nil
}

type recordedEvents struct {
	mu       sync.Mutex
	progress [][3]interface{}
	payloads []string
	finals   []bool
	errs     []error
	prompts  int
}

func (r *recordedEvents) callbacks() Callbacks {
	return Callbacks{
		OnProgress: func(current, total int, note string) {
			r.mu.Lock()
			r.progress = append(r.progress, [3]interface{}{current, total, note})
			r.mu.Unlock()
		},
		OnData: func(payload json.RawMessage, final bool) {
			r.mu.Lock()
			r.payloads = append(r.payloads, string(payload))
			r.finals = append(r.finals, final)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnRefreshPrompt: func() {
			r.mu.Lock()
			r.prompts++
			r.mu.Unlock()
		},
	}
}

func fastConfig() Config {
	return Config{Interval: 5 * time.Millisecond, MaxAttempts: 10, StaleAge: 5 * time.Minute}
}

func waitState(t *testing.T, p *Poller, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return p.State() == want }, 2*time.Second, 2*time.Millisecond)
}

func TestPollerFinalWithoutTask(t *testing.T) {
	events := &recordedEvents{}
	p := New(&scriptedStatusClient{}, fastConfig(), events.callbacks())

	p.Begin("manager_dashboard:{}", json.RawMessage(`{"cached":true}`), "")

	assert.Equal(t, StateDisplayingFinal, p.State())
	require.Len(t, events.payloads, 1)
	assert.True(t, events.finals[0])
}

func TestPollerPartialThenFinal(t *testing.T) {
	client := &scriptedStatusClient{snaps: []tasks.Snapshot{
		{State: tasks.StateProgress, Current: 1, Total: 4, Note: "counting"},
		{State: tasks.StateProgress, Current: 3, Total: 4, Note: "grouping"},
		{State: tasks.StateSuccess, Result: json.RawMessage(`{"full":true}`)},
	}}
	events := &recordedEvents{}
	p := New(client, fastConfig(), events.callbacks())

	p.Begin("manager_dashboard:{}", json.RawMessage(`{"partial":true}`), "task-1")
	waitState(t, p, StateDisplayingFinal)

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.payloads, 2)
	assert.Equal(t, `{"partial":true}`, events.payloads[0])
	assert.False(t, events.finals[0])
	assert.Equal(t, `{"full":true}`, events.payloads[1])
	assert.True(t, events.finals[1])
	require.NotEmpty(t, events.progress)
	assert.Equal(t, [3]interface{}{1, 4, "counting"}, events.progress[0])
}

func TestPollerTaskFailure(t *testing.T) {
	client := &scriptedStatusClient{snaps: []tasks.Snapshot{
		{State: tasks.StateFailure, Error: "aggregation failed", FailureKind: tasks.FailureComputation},
	}}
	events := &recordedEvents{}
	p := New(client, fastConfig(), events.callbacks())

	p.Begin("manager_dashboard:{}", json.RawMessage(`{"partial":true}`), "task-1")
	waitState(t, p, StateDisplayingError)

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.errs, 1)
	assert.Contains(t, events.errs[0].Error(), "aggregation failed")
	// The partial payload shown before the failure stays displayed.
	require.Len(t, events.payloads, 1)
}

func TestPollerAttemptBudget(t *testing.T) {
	// A task that never terminates exhausts the client-side budget.
	client := &scriptedStatusClient{}
	events := &recordedEvents{}
	p := New(client, fastConfig(), events.callbacks())

	p.Begin("manager_dashboard:{}", json.RawMessage(`{}`), "task-1")
	waitState(t, p, StateDisplayingError)

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.errs, 1)
	assert.ErrorIs(t, events.errs[0], ErrPollBudgetExceeded)

	client.mu.Lock()
	assert.Equal(t, 10, client.calls)
	client.mu.Unlock()
}

func TestPollerUnknownTask(t *testing.T) {
	client := &scriptedStatusClient{err: tasks.ErrTaskNotFound}
	events := &recordedEvents{}
	p := New(client, fastConfig(), events.callbacks())

	p.Begin("manager_dashboard:{}", json.RawMessage(`{}`), "gone")
	waitState(t, p, StateDisplayingError)

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.errs, 1)
	assert.ErrorIs(t, events.errs[0], tasks.ErrTaskNotFound)
}

func TestPollerBeginReplacesPolling(t *testing.T) {
	client := &scriptedStatusClient{}
	events := &recordedEvents{}
	p := New(client, fastConfig(), events.callbacks())

	p.Begin("manager_dashboard:{}", json.RawMessage(`{}`), "task-1")
	waitState(t, p, StatePolling)

	// A new request for another dashboard abandons the old task.
	client2 := tasks.Snapshot{State: tasks.StateSuccess, Result: json.RawMessage(`{"v":2}`)}
	client.mu.Lock()
	client.snaps = []tasks.Snapshot{client2}
	client.mu.Unlock()

	p.Begin("cost_dashboard:{}", json.RawMessage(`{}`), "task-2")
	waitState(t, p, StateDisplayingFinal)
}

// sessionClient blocks task-1 status reads until released and keeps
// every other task pending, counting its polls.
type sessionClient struct {
	mu         sync.Mutex
	release    chan struct{}
	otherPolls int
}

func (c *sessionClient) TaskStatus(ctx context.Context, taskID string) (tasks.Snapshot, error) {
	if taskID == "task-1" {
		<-c.release
		return tasks.Snapshot{ID: taskID, State: tasks.StateSuccess, Result: json.RawMessage(`{"abandoned":true}`)}, nil
	}
	c.mu.Lock()
	c.otherPolls++
	c.mu.Unlock()
	return tasks.Snapshot{ID: taskID, State: tasks.StatePending}, nil
}

func (c *sessionClient) polls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.otherPolls
}

func TestPollerReplacedSessionCannotCommit(t *testing.T) {
	client := &sessionClient{release: make(chan struct{})}
	events := &recordedEvents{}
	p := New(client, fastConfig(), events.callbacks())

	p.Begin("manager_dashboard:{}", json.RawMessage(`{"v":1}`), "task-1")
	p.Begin("cost_dashboard:{}", json.RawMessage(`{"v":2}`), "task-2")
	waitState(t, p, StatePolling)

	// The abandoned session completes after being replaced; its result
	// must not surface or disturb the live session.
	close(client.release)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, StatePolling, p.State())
	events.mu.Lock()
	assert.NotContains(t, events.payloads, `{"abandoned":true}`)
	for _, final := range events.finals {
		assert.False(t, final)
	}
	events.mu.Unlock()

	// The live session is still cancellable.
	p.Stop()
	assert.Equal(t, StateIdle, p.State())
	settled := client.polls()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, settled, client.polls())
}

func TestPollerStop(t *testing.T) {
	client := &scriptedStatusClient{}
	p := New(client, fastConfig(), Callbacks{})

	p.Begin("manager_dashboard:{}", json.RawMessage(`{}`), "task-1")
	waitState(t, p, StatePolling)

	p.Stop()
	assert.Equal(t, StateIdle, p.State())
}

func TestPollerPushEventTriggersRefresh(t *testing.T) {
	events := &recordedEvents{}
	p := New(&scriptedStatusClient{}, fastConfig(), events.callbacks())

	refreshed := 0
	p.SetRefreshFunc(func() { refreshed++ })

	p.Begin("manager_dashboard:{period:30D}", json.RawMessage(`{}`), "")

	// Non-matching patterns are ignored.
	p.HandlePushEvent([]string{"cost_dashboard:*"})
	assert.Zero(t, refreshed)

	p.HandlePushEvent([]string{"cost_dashboard:*", "manager_dashboard:*"})
	assert.Equal(t, 1, refreshed)
}

func TestPollerPushEventWithoutDisplayedKey(t *testing.T) {
	p := New(&scriptedStatusClient{}, fastConfig(), Callbacks{})
	refreshed := 0
	p.SetRefreshFunc(func() { refreshed++ })

	p.HandlePushEvent([]string{"manager_dashboard:*"})
	assert.Zero(t, refreshed)
}

func TestPollerVisibilityPrompt(t *testing.T) {
	events := &recordedEvents{}
	config := fastConfig()
	config.StaleAge = 20 * time.Millisecond
	p := New(&scriptedStatusClient{}, config, events.callbacks())

	p.Begin("manager_dashboard:{}", json.RawMessage(`{}`), "")

	// Recently updated: no prompt.
	p.VisibilityRegained()
	assert.Zero(t, events.prompts)

	time.Sleep(40 * time.Millisecond)
	p.VisibilityRegained()
	assert.Equal(t, 1, events.prompts)

	// The prompt never refreshes on its own.
	assert.Equal(t, StateDisplayingFinal, p.State())
}

func TestPollerNoUnsolicitedRefresh(t *testing.T) {
	// With no push event and no visibility prompt the machine stays
	// put after displaying the final payload.
	client := &scriptedStatusClient{snaps: []tasks.Snapshot{
		{State: tasks.StateSuccess, Result: json.RawMessage(`{}`)},
	}}
	events := &recordedEvents{}
	p := New(client, fastConfig(), events.callbacks())

	p.Begin("manager_dashboard:{}", json.RawMessage(`{}`), "task-1")
	waitState(t, p, StateDisplayingFinal)

	calls := func() int {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.calls
	}
	settled := calls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, calls())
	assert.Equal(t, StateDisplayingFinal, p.State())

	events.mu.Lock()
	defer events.mu.Unlock()
	var finalCount int
	for _, f := range events.finals {
		if f {
			finalCount++
		}
	}
	assert.Equal(t, 1, finalCount)
}

var errBoom = errors.New("boom")

func TestPollerErrorKeepsLastPayload(t *testing.T) {
	client := &scriptedStatusClient{err: errBoom}
	events := &recordedEvents{}
	p := New(client, fastConfig(), events.callbacks())

	p.Begin("manager_dashboard:{}", json.RawMessage(`{"last":"good"}`), "task-1")
	waitState(t, p, StateDisplayingError)

	p.mu.Lock()
	last := string(p.lastPayload)
	p.mu.Unlock()
	assert.JSONEq(t, `{"last":"good"}`, last)
}
