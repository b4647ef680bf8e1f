package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// State is a computation task's lifecycle state. Terminal states are
// final; a task never leaves SUCCESS or FAILURE.
type State string

const (
	StatePending  State = "PENDING"
	StateProgress State = "PROGRESS"
	StateSuccess  State = "SUCCESS"
	StateFailure  State = "FAILURE"
)

// Failure kinds recorded on terminal FAILURE snapshots.
const (
	FailureComputation = "computation"
	FailureTimeout     = "timeout"
	FailureCancelled   = "cancelled"
)

var (
	ErrTaskNotFound = errors.New("tasks: task not found")
	ErrTimeout      = errors.New("tasks: computation exceeded deadline")
	ErrCancelled    = errors.New("tasks: task cancelled")
)

// ProgressFunc lets a compute function report incremental progress.
type ProgressFunc func(current, total int, note string)

// ComputeFunc is the unit of background work. It must honor ctx
// cancellation; whatever it returns or panics with is converted to a
// terminal task state and never propagates further.
type ComputeFunc func(ctx context.Context, report ProgressFunc) (json.RawMessage, error)

// Snapshot is the externally visible view of a task, safe to hand out
// across goroutines.
type Snapshot struct {
	ID          string          `json:"taskId"`
	Key         string          `json:"key"`
	State       State           `json:"state"`
	Current     int             `json:"current,omitempty"`
	Total       int             `json:"total,omitempty"`
	Note        string          `json:"status,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	FailureKind string          `json:"failureKind,omitempty"`
	Attempt     int             `json:"attempt"`
	CreatedAt   time.Time       `json:"createdAt"`
	FinishedAt  time.Time       `json:"finishedAt,omitzero"`

	// Version of the key's data the computation started against.
	StartedAtVersion int64 `json:"-"`
}

// Terminal reports whether the snapshot is in a final state.
func (s Snapshot) Terminal() bool {
	return s.State == StateSuccess || s.State == StateFailure
}

type task struct {
	mu     sync.Mutex
	snap   Snapshot
	cancel context.CancelFunc
}

func (t *task) snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// progress is handed to compute functions as their ProgressFunc.
func (t *task) progress(current, total int, note string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Terminal() {
		return
	}
	t.snap.State = StateProgress
	t.snap.Current = current
	t.snap.Total = total
	t.snap.Note = note
}
