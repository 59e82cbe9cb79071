// Package ws provides a best-effort WebSocket broadcast hub for real-time
// pipeline-state updates: every connected client watching a build receives
// every status update, with no delivery guarantee beyond best-effort.
package ws

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"buildforge/internal/logging"
)

// Hub maintains active client connections grouped by build ID and
// broadcasts status messages to every client watching a build.
type Hub struct {
	builds     map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg
	shutdown   chan struct{}
	mu         sync.RWMutex
}

type broadcastMsg struct {
	buildID string
	data    []byte
}

// Client is one connected WebSocket watching a single build.
type Client struct {
	conn    *websocket.Conn
	buildID string
	send    chan []byte
}

// Message is the wire shape broadcast to clients.
type Message struct {
	Type      string      `json:"type"`
	BuildID   string      `json:"build_id"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		allowed := os.Getenv("CORS_ALLOWED_ORIGINS")
		if allowed == "" {
			return os.Getenv("ENVIRONMENT") != "production"
		}
		for _, o := range strings.Split(allowed, ",") {
			if strings.TrimSpace(o) == origin {
				return true
			}
		}
		return false
	},
}

// NewHub creates an idle hub; call Run to start its event loop.
func NewHub() *Hub {
	return &Hub{
		builds:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMsg),
		shutdown:   make(chan struct{}),
	}
}

// Run drives the hub's event loop until Shutdown is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.shutdown:
			h.mu.Lock()
			for _, clients := range h.builds {
				for c := range clients {
					close(c.send)
				}
			}
			h.builds = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.builds[c.buildID] == nil {
				h.builds[c.buildID] = make(map[*Client]bool)
			}
			h.builds[c.buildID][c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.builds[c.buildID]; ok {
				if _, ok := clients[c]; ok {
					delete(clients, c)
					close(c.send)
				}
				if len(clients) == 0 {
					delete(h.builds, c.buildID)
				}
			}
			h.mu.Unlock()

		case m := <-h.broadcast:
			h.mu.RLock()
			clients := h.builds[m.buildID]
			h.mu.RUnlock()
			for c := range clients {
				select {
				case c.send <- m.data:
				default:
					logging.S().Warnw("ws hub: client send buffer full, dropping update", "build", m.buildID)
				}
			}
		}
	}
}

// Shutdown stops the hub's event loop and closes every client.
func (h *Hub) Shutdown() {
	close(h.shutdown)
}

// Broadcast pushes one status update to every client watching buildID.
// Best-effort: a full client buffer silently drops the update.
func (h *Hub) Broadcast(buildID, msgType string, data interface{}) {
	payload, err := json.Marshal(Message{Type: msgType, BuildID: buildID, Data: data, Timestamp: time.Now()})
	if err != nil {
		logging.S().Warnw("ws hub: failed to marshal broadcast", "build", buildID, "err", err)
		return
	}
	select {
	case h.broadcast <- broadcastMsg{buildID: buildID, data: payload}:
	default:
		logging.S().Warnw("ws hub: broadcast channel full, dropping update", "build", buildID)
	}
}

// BroadcastAll pushes one message to every client connected to the hub,
// regardless of which build it is watching. Used to bridge status updates
// that don't carry a build ID (the status sink contract is package-scoped,
// not build-scoped) to every open dashboard.
func (h *Hub) BroadcastAll(msgType string, data interface{}) {
	payload, err := json.Marshal(Message{Type: msgType, Data: data, Timestamp: time.Now()})
	if err != nil {
		logging.S().Warnw("ws hub: failed to marshal broadcast", "err", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.builds {
		for c := range clients {
			select {
			case c.send <- payload:
			default:
				logging.S().Warnw("ws hub: client send buffer full, dropping update")
			}
		}
	}
}

// HandleWebSocket upgrades an HTTP connection and registers it against the
// ?build_id= query parameter.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	buildID := c.Query("build_id")
	if buildID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "build_id query parameter required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.S().Warnw("ws hub: upgrade failed", "err", err)
		return
	}

	client := &Client{conn: conn, buildID: buildID, send: make(chan []byte, 64)}
	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
