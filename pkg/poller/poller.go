package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"dashboard-backend/pkg/cache"
	"dashboard-backend/pkg/tasks"
)

// State of the client-side reconciliation machine.
type State string

const (
	StateIdle              State = "idle"
	StateRequesting        State = "requesting"
	StateDisplayingPartial State = "displaying_partial"
	StatePolling           State = "polling"
	StateDisplayingFinal   State = "displaying_final"
	StateDisplayingError   State = "displaying_error"
)

// ErrPollBudgetExceeded means the client gave up polling before the
// server-side task reached a terminal state.
var ErrPollBudgetExceeded = errors.New("poller: attempt budget exceeded")

// StatusClient fetches task snapshots; in production it wraps the
// task status endpoint.
type StatusClient interface {
	TaskStatus(ctx context.Context, taskID string) (tasks.Snapshot, error)
}

type Config struct {
	Interval    time.Duration // fixed polling interval
	MaxAttempts int           // independent client-side budget
	StaleAge    time.Duration // visibility-regain prompt threshold
}

func DefaultConfig() Config {
	return Config{
		Interval:    time.Second,
		MaxAttempts: 60,
		StaleAge:    5 * time.Minute,
	}
}

// Callbacks are how the machine drives the display. All of them are
// optional and are invoked from the polling goroutine.
type Callbacks struct {
	OnProgress      func(current, total int, note string)
	OnData          func(payload json.RawMessage, final bool)
	OnError         func(err error)
	OnRefreshPrompt func()
}

// Poller reconciles a displayed dashboard with its background
// computation. It owns exactly one cancellable polling goroutine and
// performs no unconditional periodic refresh: re-fetch happens only on
// explicit user action, a relevant push event, or a user-confirmed
// prompt after the tab regains visibility.
type Poller struct {
	client    StatusClient
	config    Config
	callbacks Callbacks

	mu          sync.Mutex
	state       State
	key         string
	taskID      string
	cancel      context.CancelFunc
	lastPayload json.RawMessage
	lastUpdated time.Time
	refreshFn   func()
}

func New(client StatusClient, config Config, callbacks Callbacks) *Poller {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 60
	}
	return &Poller{
		client:    client,
		config:    config,
		callbacks: callbacks,
		state:     StateIdle,
	}
}

// SetRefreshFunc registers the re-fetch action used when a push event
// matches the displayed key.
func (p *Poller) SetRefreshFunc(fn func()) {
	p.mu.Lock()
	p.refreshFn = fn
	p.mu.Unlock()
}

// Begin feeds a resolved dashboard response into the machine: the
// immediately available payload plus an optional task handle to
// reconcile against.
func (p *Poller) Begin(key string, payload json.RawMessage, taskID string) {
	p.stopPolling()

	p.mu.Lock()
	p.state = StateRequesting
	p.key = key
	p.taskID = taskID
	if payload != nil {
		p.lastPayload = payload
		p.lastUpdated = time.Now()
	}

	if taskID == "" {
		p.state = StateDisplayingFinal
		p.mu.Unlock()
		if payload != nil && p.callbacks.OnData != nil {
			p.callbacks.OnData(payload, true)
		}
		return
	}

	p.state = StateDisplayingPartial
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	if payload != nil && p.callbacks.OnData != nil {
		p.callbacks.OnData(payload, false)
	}
	go p.poll(ctx, taskID)
}

// Stop cancels any in-flight polling and returns the machine to idle.
func (p *Poller) Stop() {
	p.stopPolling()
	p.mu.Lock()
	p.state = StateIdle
	p.mu.Unlock()
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// HandlePushEvent reacts to a pushed invalidation. Only events whose
// patterns cover the currently displayed key trigger a re-fetch.
func (p *Poller) HandlePushEvent(patterns []string) {
	p.mu.Lock()
	key := p.key
	refresh := p.refreshFn
	p.mu.Unlock()

	if key == "" || refresh == nil {
		return
	}
	for _, pattern := range patterns {
		if cache.MatchPattern(pattern, key) {
			refresh()
			return
		}
	}
}

// VisibilityRegained is called when the tab becomes visible again. If
// the displayed data is older than the threshold the user is prompted;
// nothing refreshes automatically.
func (p *Poller) VisibilityRegained() {
	p.mu.Lock()
	stale := !p.lastUpdated.IsZero() && time.Since(p.lastUpdated) > p.config.StaleAge
	prompt := p.callbacks.OnRefreshPrompt
	p.mu.Unlock()

	if stale && prompt != nil {
		prompt()
	}
}

func (p *Poller) poll(ctx context.Context, taskID string) {
	p.mu.Lock()
	if ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.state = StatePolling
	p.mu.Unlock()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for attempts := 0; ; {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		attempts++
		snap, err := p.client.TaskStatus(ctx, taskID)
		if err != nil {
			// Unknown or expired task: stop polling and treat as
			// failure, keeping the last-known-good payload.
			p.finishError(ctx, err)
			return
		}

		switch snap.State {
		case tasks.StateProgress:
			if p.callbacks.OnProgress != nil {
				p.callbacks.OnProgress(snap.Current, snap.Total, snap.Note)
			}
		case tasks.StateSuccess:
			p.finishSuccess(ctx, snap.Result)
			return
		case tasks.StateFailure:
			p.finishError(ctx, errors.New(snap.Error))
			return
		}

		if attempts >= p.config.MaxAttempts {
			p.finishError(ctx, ErrPollBudgetExceeded)
			return
		}
	}
}

func (p *Poller) finishSuccess(ctx context.Context, payload json.RawMessage) {
	p.mu.Lock()
	// A cancelled ctx means this session was replaced or stopped; its
	// result must not overwrite the live session's state.
	if ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.state = StateDisplayingFinal
	p.lastPayload = payload
	p.lastUpdated = time.Now()
	p.cancel = nil
	p.mu.Unlock()

	if p.callbacks.OnData != nil {
		p.callbacks.OnData(payload, true)
	}
}

func (p *Poller) finishError(ctx context.Context, err error) {
	p.mu.Lock()
	if ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.state = StateDisplayingError
	p.cancel = nil
	p.mu.Unlock()

	if p.callbacks.OnError != nil {
		p.callbacks.OnError(err)
	}
}

func (p *Poller) stopPolling() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
