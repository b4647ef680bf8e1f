package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"dashboard-backend/internal/config"
	"dashboard-backend/pkg/cache"

	"github.com/google/uuid"
)

// Orchestrator schedules background dashboard computations with a
// single-flight guarantee: at most one non-terminal task exists per
// cache key, and concurrent submitters for the same key all receive
// the same task id. Completed results are committed to the cache
// store through its versioned Put; a superseded commit triggers a
// bounded resubmit instead of surfacing as a failure.
type Orchestrator struct {
	store    cache.Store
	cacheCfg cache.CacheConfig
	cfg      config.TaskConfig

	mu    sync.Mutex
	byKey map[string]*task // non-terminal tasks only
	byID  map[string]*task // all tasks until swept

	notify func(Snapshot)
	done   chan struct{}
}

func NewOrchestrator(store cache.Store, cacheCfg cache.CacheConfig, cfg config.TaskConfig) *Orchestrator {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 60 * time.Second
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Minute
	}
	return &Orchestrator{
		store:    store,
		cacheCfg: cacheCfg,
		cfg:      cfg,
		byKey:    make(map[string]*task),
		byID:     make(map[string]*task),
		done:     make(chan struct{}),
	}
}

// SetNotifier registers a callback invoked with the snapshot of every
// task reaching a terminal state (used for the push channel).
func (o *Orchestrator) SetNotifier(fn func(Snapshot)) {
	o.notify = fn
}

// Start launches the garbage-collection sweep for terminal tasks.
func (o *Orchestrator) Start() {
	go o.sweepLoop()
	log.Println("Task orchestrator started")
}

func (o *Orchestrator) Stop() {
	close(o.done)
}

// Submit schedules a computation for a key, or returns the id of the
// already-running task for that key.
func (o *Orchestrator) Submit(key string, fn ComputeFunc) string {
	return o.submit(key, fn, 1)
}

func (o *Orchestrator) submit(key string, fn ComputeFunc, attempt int) string {
	o.mu.Lock()
	if existing, ok := o.byKey[key]; ok {
		id := existing.snap.ID
		o.mu.Unlock()
		return id
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Deadline)
	t := &task{
		snap: Snapshot{
			ID:        uuid.NewString(),
			Key:       key,
			State:     StatePending,
			Attempt:   attempt,
			CreatedAt: time.Now(),
		},
		cancel: cancel,
	}
	o.byKey[key] = t
	o.byID[t.snap.ID] = t
	o.mu.Unlock()

	// The slot is reserved; read the version outside the registry lock
	// because it may be a network round-trip on the shared backend and
	// must not stall unrelated Submit/Status/Cancel calls.
	version, err := o.store.Version(key)
	if err != nil {
		// A commit against version 0 can only be superseded, never
		// accepted too early, so this fails safe.
		log.Printf("Failed to read version for %s: %v", key, err)
	}
	t.mu.Lock()
	t.snap.StartedAtVersion = version
	t.mu.Unlock()

	go o.run(ctx, cancel, t, fn)
	return t.snap.ID
}

// Status returns a task's snapshot, or ErrTaskNotFound for ids that
// are unknown or already garbage-collected.
func (o *Orchestrator) Status(taskID string) (Snapshot, error) {
	o.mu.Lock()
	t, ok := o.byID[taskID]
	o.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrTaskNotFound
	}
	return t.snapshot(), nil
}

// Cancel requests best-effort cancellation. The task still transitions
// to a terminal FAILURE(cancelled) state rather than vanishing.
func (o *Orchestrator) Cancel(taskID string) error {
	o.mu.Lock()
	t, ok := o.byID[taskID]
	o.mu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// InFlight reports the number of non-terminal tasks.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.byKey)
}

type outcome struct {
	payload json.RawMessage
	err     error
}

func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, t *task, fn ComputeFunc) {
	defer cancel()

	resultCh := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: fmt.Errorf("compute panic: %v", r)}
			}
		}()
		payload, err := fn(ctx, t.progress)
		resultCh <- outcome{payload: payload, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			o.finishFailure(t, res.err, classifyError(res.err))
			return
		}
		o.commit(t, fn, res.payload)
	case <-ctx.Done():
		// The compute goroutine may still be running if fn ignores
		// ctx; the single-flight slot is released regardless so the
		// key is not occupied indefinitely.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			o.finishFailure(t, ErrTimeout, FailureTimeout)
		} else {
			o.finishFailure(t, ErrCancelled, FailureCancelled)
		}
	}
}

// commit writes a completed result through the store's versioned Put.
func (o *Orchestrator) commit(t *task, fn ComputeFunc, payload json.RawMessage) {
	snap := t.snapshot()
	entry := cache.Entry{
		Payload:      payload,
		ComputedAt:   snap.StartedAtVersion,
		Freshness:    cache.FreshnessFresh,
		TTL:          o.cacheCfg.TTLForNamespace(cache.Namespace(snap.Key)),
		SourceTaskID: snap.ID,
	}

	err := o.store.Put(snap.Key, entry)
	switch {
	case errors.Is(err, cache.ErrSuperseded):
		// An invalidation moved the key's version while we computed.
		// The result is still the best answer the original caller can
		// get, so the task succeeds; a follow-up task recomputes
		// against the newer version.
		o.finishSuccess(t, payload)
		o.resubmit(snap, fn)
	case err != nil:
		o.finishFailure(t, fmt.Errorf("failed to commit result: %w", err), FailureComputation)
	default:
		o.finishSuccess(t, payload)
	}
}

func (o *Orchestrator) resubmit(snap Snapshot, fn ComputeFunc) {
	if o.cfg.MaxRetries > 0 && snap.Attempt >= o.cfg.MaxRetries {
		log.Printf("Giving up on %s after %d superseded attempts", snap.Key, snap.Attempt)
		return
	}
	id := o.submit(snap.Key, fn, snap.Attempt+1)
	log.Printf("Result for %s superseded, resubmitted as task %s", snap.Key, id)
}

func (o *Orchestrator) finishSuccess(t *task, payload json.RawMessage) {
	o.finish(t, func(s *Snapshot) {
		s.State = StateSuccess
		s.Result = payload
	})
}

func (o *Orchestrator) finishFailure(t *task, err error, kind string) {
	o.finish(t, func(s *Snapshot) {
		s.State = StateFailure
		s.Error = err.Error()
		s.FailureKind = kind
	})
}

func (o *Orchestrator) finish(t *task, apply func(*Snapshot)) {
	// Free the single-flight slot first so a resubmit or a new Submit
	// can take it immediately.
	o.mu.Lock()
	if cur, ok := o.byKey[t.snap.Key]; ok && cur == t {
		delete(o.byKey, t.snap.Key)
	}
	o.mu.Unlock()

	t.mu.Lock()
	if t.snap.Terminal() {
		t.mu.Unlock()
		return
	}
	apply(&t.snap)
	t.snap.FinishedAt = time.Now()
	snap := t.snap
	t.mu.Unlock()

	if o.notify != nil {
		o.notify(snap)
	}
}

func (o *Orchestrator) sweepLoop() {
	interval := o.cfg.GracePeriod / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			return
		case <-ticker.C:
			o.sweep(time.Now())
		}
	}
}

// sweep drops terminal tasks older than the grace period.
func (o *Orchestrator) sweep(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, t := range o.byID {
		snap := t.snapshot()
		if snap.Terminal() && now.Sub(snap.FinishedAt) > o.cfg.GracePeriod {
			delete(o.byID, id)
		}
	}
}

func classifyError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, context.Canceled):
		return FailureCancelled
	default:
		return FailureComputation
	}
}
