package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event types pushed to connected dashboard clients. Clients use these
// to drive event-based refresh instead of polling timers.
const (
	EventCacheInvalidated = "cache-invalidated"
	EventRecordUpdated    = "record-updated"
	EventTaskCompleted    = "task-completed"
)

// DashboardEvent is one push-channel message.
type DashboardEvent struct {
	Type            string    `json:"type"`
	ChangeType      string    `json:"changeType,omitempty"`
	Patterns        []string  `json:"patterns,omitempty"`
	AffectedRecords []string  `json:"affectedRecords,omitempty"`
	Key             string    `json:"key,omitempty"`
	TaskID          string    `json:"taskId,omitempty"`
	TaskState       string    `json:"taskState,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Filters restricts which events a client receives. Empty means all
// namespaces.
type Filters struct {
	Namespaces []string `json:"namespaces,omitempty"`
}

// Client is one connected dashboard. Filters and LastPing are written
// by the read goroutine while the run loop reads them, so both go
// through the client mutex.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan DashboardEvent

	mu       sync.Mutex
	Filters  Filters
	LastPing time.Time
}

func (c *Client) filters() Filters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Filters
}

func (c *Client) setFilters(f Filters) {
	c.mu.Lock()
	c.Filters = f
	c.mu.Unlock()
}

func (c *Client) touch() {
	c.mu.Lock()
	c.LastPing = time.Now()
	c.mu.Unlock()
}

func (c *Client) idle(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.LastPing)
}

// PushManager is the push-channel contract consumed by the dispatcher
// and the orchestrator notifier.
type PushManager interface {
	RegisterClient(clientID string, conn *websocket.Conn, filters Filters) error
	UnregisterClient(clientID string) error
	Broadcast(event DashboardEvent) error
	ConnectedClients() int
	Start() error
	Stop() error
}
