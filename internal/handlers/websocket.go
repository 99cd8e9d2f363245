package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
)

// WebSocketHub fans feedback session events out to connected browsers. A
// client subscribes to one session with ?session_id= and receives only
// that session's events plus server status.
type WebSocketHub struct {
	clients    map[*websocket.Conn]string
	broadcast  chan outbound
	register   chan subscription
	unregister chan *websocket.Conn
	done       chan struct{}
	stopOnce   sync.Once
	mutex      sync.RWMutex
	logger     arbor.ILogger
	heartbeat  time.Duration
}

// SessionEvent is the message written to clients
type SessionEvent struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type subscription struct {
	conn      *websocket.Conn
	sessionID string
}

type outbound struct {
	sessionID string
	payload   []byte
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub(logger arbor.ILogger) *WebSocketHub {
	hub := &WebSocketHub{
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan outbound, 256),
		register:   make(chan subscription),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
		heartbeat:  5 * time.Second,
	}
	go hub.run()
	return hub
}

// run manages client connections and broadcasts
func (h *WebSocketHub) run() {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case sub := <-h.register:
			h.mutex.Lock()
			h.clients[sub.conn] = sub.sessionID
			h.mutex.Unlock()
			h.logger.Debug().Str("session_id", sub.sessionID).Msg("WebSocket client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mutex.Unlock()
			h.logger.Debug().Msg("WebSocket client disconnected")

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client, sessionID := range h.clients {
				if message.sessionID != "" && message.sessionID != sessionID {
					continue
				}
				client.SetWriteDeadline(time.Now().Add(h.heartbeat))
				if err := client.WriteMessage(websocket.TextMessage, message.payload); err != nil {
					h.logger.Warn().Err(err).Msg("Failed to send WebSocket message")
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()

		case <-ticker.C:
			h.SendStatus("online")
		}
	}
}

// Stop disconnects every client and ends the hub
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// SendStatus broadcasts server status to all clients
func (h *WebSocketHub) SendStatus(status string) {
	h.send(SessionEvent{
		Type:      "status",
		Data:      map[string]string{"status": status},
		Timestamp: time.Now().Unix(),
	})
}

// Publish sends a session event to that session's subscribers. Events are
// dropped rather than blocking the caller when the buffer is full, and
// after Stop.
func (h *WebSocketHub) Publish(eventType, sessionID string, data interface{}) {
	h.send(SessionEvent{
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (h *WebSocketHub) send(event SessionEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn().Err(err).Str("type", event.Type).Msg("Failed to encode WebSocket event")
		return
	}

	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.broadcast <- outbound{sessionID: event.SessionID, payload: payload}:
	default:
		h.logger.Warn().Str("type", event.Type).Msg("WebSocket buffer full, event dropped")
	}
}

// Upgrader for WebSocket connections
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the widget may be embedded in a dashboard served elsewhere
	},
}

// WebSocketHandler handles WebSocket connection requests
func (h *WebSocketHub) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	select {
	case h.register <- subscription{conn: conn, sessionID: r.URL.Query().Get("session_id")}:
	case <-h.done:
		conn.Close()
		return
	}

	// Keep connection alive and handle messages
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
