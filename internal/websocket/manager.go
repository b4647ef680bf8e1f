package websocket

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Manager fans dashboard events out to connected clients. One run loop
// owns registration and broadcast; per-client write goroutines handle
// delivery and keep a slow client from stalling the rest.
type Manager struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan DashboardEvent
	mutex      sync.RWMutex
	upgrader   websocket.Upgrader
	done       chan struct{}
}

func NewManager(checkOrigin func(r *http.Request) bool) *Manager {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Manager{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan DashboardEvent, 256),
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		done: make(chan struct{}),
	}
}

func (m *Manager) Start() error {
	go m.run()
	log.Println("Push channel manager started")
	return nil
}

func (m *Manager) Stop() error {
	close(m.done)

	m.mutex.Lock()
	for _, client := range m.clients {
		close(client.Send)
		if client.Conn != nil {
			client.Conn.Close()
		}
	}
	m.clients = make(map[string]*Client)
	m.mutex.Unlock()

	log.Println("Push channel manager stopped")
	return nil
}

func (m *Manager) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-m.register:
			m.mutex.Lock()
			m.clients[client.ID] = client
			m.mutex.Unlock()
			log.Printf("Dashboard client %s connected", client.ID)
			go m.handleClient(client)

		case client := <-m.unregister:
			m.mutex.Lock()
			if _, ok := m.clients[client.ID]; ok {
				delete(m.clients, client.ID)
				close(client.Send)
				if client.Conn != nil {
					client.Conn.Close()
				}
			}
			m.mutex.Unlock()
			log.Printf("Dashboard client %s disconnected", client.ID)

		case event := <-m.broadcast:
			m.fanOut(event)

		case <-ticker.C:
			m.dropTimedOut()

		case <-m.done:
			return
		}
	}
}

func (m *Manager) RegisterClient(clientID string, conn *websocket.Conn, filters Filters) error {
	client := &Client{
		ID:       clientID,
		Conn:     conn,
		Filters:  filters,
		Send:     make(chan DashboardEvent, 64),
		LastPing: time.Now(),
	}
	m.register <- client
	return nil
}

func (m *Manager) UnregisterClient(clientID string) error {
	m.mutex.RLock()
	client, exists := m.clients[clientID]
	m.mutex.RUnlock()

	if exists {
		m.unregister <- client
	}
	return nil
}

// Broadcast queues an event for delivery; it never blocks the caller.
func (m *Manager) Broadcast(event DashboardEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case m.broadcast <- event:
		return nil
	default:
		return fmt.Errorf("broadcast channel full, dropping %s event", event.Type)
	}
}

func (m *Manager) ConnectedClients() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

func (m *Manager) GetUpgrader() *websocket.Upgrader {
	return &m.upgrader
}

func (m *Manager) fanOut(event DashboardEvent) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, client := range m.clients {
		if !eventMatchesFilters(event, client.filters()) {
			continue
		}
		select {
		case client.Send <- event:
		default:
			log.Printf("Client %s send buffer full, dropping %s event", client.ID, event.Type)
		}
	}
}

// eventMatchesFilters decides relevance by namespace: a client that
// subscribed to namespaces only sees events touching one of them.
func eventMatchesFilters(event DashboardEvent, filters Filters) bool {
	if len(filters.Namespaces) == 0 {
		return true
	}
	for _, ns := range filters.Namespaces {
		if event.Key != "" && strings.HasPrefix(event.Key, ns+":") {
			return true
		}
		for _, pattern := range event.Patterns {
			if strings.HasPrefix(pattern, ns+":") {
				return true
			}
		}
	}
	return false
}

func (m *Manager) handleClient(client *Client) {
	defer func() {
		m.unregister <- client
	}()

	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.touch()
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go m.writeLoop(client)

	// Inbound traffic is limited to filter updates.
	for {
		var message map[string]interface{}
		if err := client.Conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for client %s: %v", client.ID, err)
			}
			return
		}

		if msgType, ok := message["type"].(string); ok && msgType == "update_filters" {
			if raw, ok := message["filters"]; ok {
				encoded, _ := json.Marshal(raw)
				var filters Filters
				if err := json.Unmarshal(encoded, &filters); err == nil {
					client.setFilters(filters)
				}
			}
		}
	}
}

func (m *Manager) writeLoop(client *Client) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteJSON(event); err != nil {
				log.Printf("Error writing to client %s: %v", client.ID, err)
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (m *Manager) dropTimedOut() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now()
	for id, client := range m.clients {
		if client.idle(now) > 90*time.Second {
			log.Printf("Client %s timed out, removing", id)
			delete(m.clients, id)
			close(client.Send)
			if client.Conn != nil {
				client.Conn.Close()
			}
		}
	}
}
