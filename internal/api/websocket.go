package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lithammer/shortuuid/v4"

	"github.com/orbitlabs/orbit/internal/core"
	"github.com/orbitlabs/orbit/internal/logging"
	"github.com/orbitlabs/orbit/internal/notifications"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 64
)

// wsClient is one websocket connection subscribed to a user's topics
type wsClient struct {
	id     string
	userID core.UserID
	topics map[string]bool
	conn   *websocket.Conn
	send   chan []byte
}

type published struct {
	topic string
	data  []byte
}

// WebSocketHub fans realtime messages out to connected clients by topic.
// It implements notifications.Publisher.
type WebSocketHub struct {
	upgrader   websocket.Upgrader
	clients    map[string]*wsClient
	register   chan *wsClient
	unregister chan *wsClient
	publish    chan published
	done       chan struct{}
	stopOnce   sync.Once

	mu sync.RWMutex
}

// NewWebSocketHub creates a hub. Call Run before serving connections.
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:    make(map[string]*wsClient),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		publish:    make(chan published, 256),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and messages until Stop is called
func (h *WebSocketHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()
			logging.WithFields(map[string]interface{}{
				"user_id": c.userID,
				"client":  c.id,
			}).Debug("WebSocket client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.publish:
			h.mu.Lock()
			for id, c := range h.clients {
				if !c.topics[msg.topic] {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// Slow consumer: drop it rather than block the hub.
					delete(h.clients, id)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the hub down and closes every client
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Publish queues a message for every client subscribed to topic
func (h *WebSocketHub) Publish(ctx context.Context, topic string, msg notifications.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case h.publish <- published{topic: topic, data: data}:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsConnected reports whether the user has at least one open connection
func (h *WebSocketHub) IsConnected(userID core.UserID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.userID == userID {
			return true
		}
	}
	return false
}

// ClientCount returns the number of open connections
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and subscribes the connection to the user's
// notification and event topics.
func (h *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request, userID core.UserID) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.WithField("user_id", userID).WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &wsClient{
		id:     shortuuid.New(),
		userID: userID,
		topics: map[string]bool{
			notifications.Topic(userID):       true,
			notifications.EventsTopic(userID): true,
		},
		conn: conn,
		send: make(chan []byte, clientSendSize),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards client input and detects disconnects
func (h *WebSocketHub) readPump(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WebSocketHub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
