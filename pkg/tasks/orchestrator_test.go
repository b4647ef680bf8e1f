package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dashboard-backend/internal/config"
	"dashboard-backend/pkg/cache"
)

func newTestOrchestrator(t *testing.T, cfg config.TaskConfig) (*Orchestrator, *cache.MemoryStore) {
	t.Helper()
	store := cache.NewMemoryStore()
	o := NewOrchestrator(store, cache.DefaultCacheConfig(), cfg)
	return o, store
}

func waitTerminal(t *testing.T, o *Orchestrator, taskID string) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		s, err := o.Status(taskID)
		if err != nil {
			return false
		}
		snap = s
		return s.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestOrchestratorSuccessCommitsResult(t *testing.T) {
	o, store := newTestOrchestrator(t, config.TaskConfig{})
	key := cache.BuildKey(cache.NamespaceManager, map[string]string{"period": "30D"})

	taskID := o.Submit(key, func(ctx context.Context, report ProgressFunc) (json.RawMessage, error) {
		report(1, 2, "aggregating")
		return json.RawMessage(`{"kpis":{"total":3}}`), nil
	})

	snap := waitTerminal(t, o, taskID)
	assert.Equal(t, StateSuccess, snap.State)
	assert.JSONEq(t, `{"kpis":{"total":3}}`, string(snap.Result))
	assert.Equal(t, 1, snap.Attempt)
	assert.False(t, snap.FinishedAt.IsZero())

	entry, found := store.Get(key)
	require.True(t, found)
	assert.Equal(t, cache.FreshnessFresh, entry.Freshness)
	assert.Equal(t, taskID, entry.SourceTaskID)
	assert.JSONEq(t, `{"kpis":{"total":3}}`, string(entry.Payload))

	assert.Equal(t, 0, o.InFlight())
}

func TestOrchestratorSingleFlight(t *testing.T) {
	o, _ := newTestOrchestrator(t, config.TaskConfig{})
	key := cache.BuildKey(cache.NamespaceManager, map[string]string{"period": "30D"})

	release := make(chan struct{})
	var calls int32
	fn := func(ctx context.Context, report ProgressFunc) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return json.RawMessage(`{}`), nil
	}

	var mu sync.Mutex
	ids := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := o.Submit(key, fn)
			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Every submitter for the same key joins the one in-flight task.
	assert.Len(t, ids, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, o.InFlight())

	close(release)
	for id := range ids {
		waitTerminal(t, o, id)
	}

	// Once terminal, a new submit gets a new task.
	newID := o.Submit(key, func(ctx context.Context, report ProgressFunc) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	for id := range ids {
		assert.NotEqual(t, id, newID)
	}
	waitTerminal(t, o, newID)
}

func TestOrchestratorProgressReporting(t *testing.T) {
	o, _ := newTestOrchestrator(t, config.TaskConfig{})
	key := cache.BuildKey(cache.NamespaceCost, nil)

	reported := make(chan struct{})
	release := make(chan struct{})
	taskID := o.Submit(key, func(ctx context.Context, report ProgressFunc) (json.RawMessage, error) {
		report(2, 4, "grouping costs")
		close(reported)
		<-release
		return json.RawMessage(`{}`), nil
	})

	<-reported
	snap, err := o.Status(taskID)
	require.NoError(t, err)
	assert.Equal(t, StateProgress, snap.State)
	assert.Equal(t, 2, snap.Current)
	assert.Equal(t, 4, snap.Total)
	assert.Equal(t, "grouping costs", snap.Note)

	close(release)
	waitTerminal(t, o, taskID)
}

func TestOrchestratorComputationFailure(t *testing.T) {
	o, store := newTestOrchestrator(t, config.TaskConfig{})
	key := cache.BuildKey(cache.NamespaceManager, nil)

	taskID := o.Submit(key, func(ctx context.Context, report ProgressFunc) (json.RawMessage, error) {
		return nil, errors.New("aggregation pipeline failed")
	})

	snap := waitTerminal(t, o, taskID)
	assert.Equal(t, StateFailure, snap.State)
	assert.Equal(t, FailureComputation, snap.FailureKind)
	assert.Contains(t, snap.Error, "aggregation pipeline failed")

	// A failed task must not write anything to the cache.
	_, found := store.Get(key)
	assert.False(t, found)
}

func TestOrchestratorPanicBecomesFailure(t *testing.T) {
	o, _ := newTestOrchestrator(t, config.TaskConfig{})
	key := cache.BuildKey(cache.NamespaceManager, nil)

	taskID := o.Submit(key, func(ctx context.Context, report ProgressFunc) (json.RawMessage, error) {
		panic("nil map write")
	})

	snap := waitTerminal(t, o, taskID)
	assert.Equal(t, StateFailure, snap.State)
	assert.Equal(t, FailureComputation, snap.FailureKind)
	assert.Contains(t, snap.Error, "nil map write")
	assert.Equal(t, 0, o.InFlight())
}

func TestOrchestratorTimeout(t *testing.T) {
	o, _ := newTestOrchestrator(t, config.TaskConfig{Deadline: 30 * time.Millisecond})
	key := cache.BuildKey(cache.NamespaceManager, nil)

	taskID := o.Submit(key, func(ctx context.Context, report ProgressFunc) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	snap := waitTerminal(t, o, taskID)
	assert.Equal(t, StateFailure, snap.State)
	assert.Equal(t, FailureTimeout, snap.FailureKind)
	assert.Equal(t, 0, o.InFlight())
}

func TestOrchestratorCancel(t *testing.T) {
	o, _ := newTestOrchestrator(t, config.TaskConfig{})
	key := cache.BuildKey(cache.NamespaceManager, nil)

	started := make(chan struct{})
	taskID := o.Submit(key, func(ctx context.Context, report ProgressFunc) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started

	require.NoError(t, o.Cancel(taskID))

	snap := waitTerminal(t, o, taskID)
	assert.Equal(t, StateFailure, snap.State)
	assert.Equal(t, FailureCancelled, snap.FailureKind)

	assert.ErrorIs(t, o.Cancel("no-such-task"), ErrTaskNotFound)
}

func TestOrchestratorSupersededResubmits(t *testing.T) {
	o, store := newTestOrchestrator(t, config.TaskConfig{MaxRetries: 3})
	key := cache.BuildKey(cache.NamespaceManager, map[string]string{"period": "30D"})

	release := make(chan struct{})
	var calls int32
	fn := func(ctx context.Context, report ProgressFunc) (json.RawMessage, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-release
		}
		return json.RawMessage(`{"run":true}`), nil
	}

	require.NoError(t, store.Put(key, cache.Entry{
		Payload:    json.RawMessage(`{}`),
		ComputedAt: 1,
	}))

	taskID := o.Submit(key, fn)

	// Invalidate while the first attempt is still computing; its commit
	// will be superseded and a second attempt takes over.
	marked, err := store.MarkStale(key)
	require.NoError(t, err)
	require.Equal(t, 1, marked)
	close(release)

	snap := waitTerminal(t, o, taskID)
	assert.Equal(t, StateSuccess, snap.State)

	require.Eventually(t, func() bool {
		entry, found := store.Get(key)
		return found && entry.Freshness == cache.FreshnessFresh
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestOrchestratorResubmitBudget(t *testing.T) {
	o, _ := newTestOrchestrator(t, config.TaskConfig{MaxRetries: 2})
	fn := func(ctx context.Context, report ProgressFunc) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}

	// At the retry ceiling the orchestrator stops resubmitting.
	o.resubmit(Snapshot{Key: "manager_dashboard:{}", Attempt: 2}, fn)
	assert.Equal(t, 0, o.InFlight())

	o.resubmit(Snapshot{Key: "manager_dashboard:{}", Attempt: 1}, fn)
	id := o.Submit("manager_dashboard:{}", fn)
	snap := waitTerminal(t, o, id)
	assert.LessOrEqual(t, snap.Attempt, 2)
}

func TestOrchestratorSweep(t *testing.T) {
	o, _ := newTestOrchestrator(t, config.TaskConfig{GracePeriod: 50 * time.Millisecond})
	key := cache.BuildKey(cache.NamespaceManager, nil)

	taskID := o.Submit(key, func(ctx context.Context, report ProgressFunc) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	waitTerminal(t, o, taskID)

	// Within the grace period the snapshot is still queryable.
	o.sweep(time.Now())
	_, err := o.Status(taskID)
	assert.NoError(t, err)

	o.sweep(time.Now().Add(time.Minute))
	_, err = o.Status(taskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

// slowVersionStore simulates a shared backend where reading a key's
// version is a network round-trip.
type slowVersionStore struct {
	*cache.MemoryStore
	delay time.Duration
}

func (s *slowVersionStore) Version(key string) (int64, error) {
	time.Sleep(s.delay)
	return s.MemoryStore.Version(key)
}

func TestOrchestratorStatusNotStalledBySlowVersionRead(t *testing.T) {
	store := &slowVersionStore{MemoryStore: cache.NewMemoryStore(), delay: 200 * time.Millisecond}
	o := NewOrchestrator(store, cache.DefaultCacheConfig(), config.TaskConfig{})

	blockFn := func(ctx context.Context, report ProgressFunc) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	firstID := o.Submit("manager_dashboard:{}", blockFn)

	// While another submit sits inside the version read, status of an
	// unrelated task must answer immediately.
	secondID := make(chan string, 1)
	go func() { secondID <- o.Submit("cost_dashboard:{}", blockFn) }()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	_, err := o.Status(firstID)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Less(t, elapsed, 100*time.Millisecond)

	require.NoError(t, o.Cancel(firstID))
	waitTerminal(t, o, firstID)

	id := <-secondID
	require.NoError(t, o.Cancel(id))
	waitTerminal(t, o, id)
}

func TestOrchestratorStatusUnknownTask(t *testing.T) {
	o, _ := newTestOrchestrator(t, config.TaskConfig{})
	_, err := o.Status("00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestOrchestratorNotifierOnTerminal(t *testing.T) {
	o, _ := newTestOrchestrator(t, config.TaskConfig{})
	key := cache.BuildKey(cache.NamespaceManager, nil)

	notified := make(chan Snapshot, 1)
	o.SetNotifier(func(snap Snapshot) { notified <- snap })

	taskID := o.Submit(key, func(ctx context.Context, report ProgressFunc) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})

	select {
	case snap := <-notified:
		assert.Equal(t, taskID, snap.ID)
		assert.Equal(t, StateSuccess, snap.State)
	case <-time.After(2 * time.Second):
		t.Fatal("terminal notification never arrived")
	}
}
