package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

const writeDeadline = 10 * time.Second

// Hub fans engine events out to connected websocket clients. It implements
// game.Broadcaster; delivery is best-effort and never blocks the engine.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan wsEnvelope
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
}

type wsClient struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex
}

type wsEnvelope struct {
	userID  string // empty for broadcast
	payload wsMessage
}

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan wsEnvelope, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WS] client connected: %s (total %d)", client.userID, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WS] client disconnected: %s (total %d)", client.userID, total)

		case env := <-h.broadcast:
			data, err := json.Marshal(env.payload)
			if err != nil {
				log.Printf("[WS] marshal: %v", err)
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				if env.userID != "" && client.userID != env.userID {
					continue
				}
				go client.write(data)
			}
			h.mu.RUnlock()
		}
	}
}

// Publish implements game.Broadcaster for round-wide events.
func (h *Hub) Publish(topic string, payload any) {
	h.enqueue(wsEnvelope{payload: wsMessage{Type: topic, Data: payload}})
}

// PublishTo targets the given user's connections only.
func (h *Hub) PublishTo(userID, topic string, payload any) {
	h.enqueue(wsEnvelope{userID: userID, payload: wsMessage{Type: topic, Data: payload}})
}

func (h *Hub) enqueue(env wsEnvelope) {
	select {
	case h.broadcast <- env:
	default:
		log.Println("[WS] broadcast queue full, dropping message")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) RegisterClient(conn *websocket.Conn, userID string) *wsClient {
	client := &wsClient{conn: conn, userID: userID}
	h.register <- client
	return client
}

func (h *Hub) UnregisterClient(client *wsClient) {
	h.unregister <- client
}

func (c *wsClient) write(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[WS] write to %s: %v", c.userID, err)
	}
}

func (c *wsClient) send(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WS] marshal: %v", err)
		return
	}
	c.write(data)
}
