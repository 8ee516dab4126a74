package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Andival-Sei/pennora/backend/internal/logging"
	syncpkg "github.com/Andival-Sei/pennora/backend/internal/sync"
	"github.com/Andival-Sei/pennora/backend/internal/uuid"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// =====================================================
// WebSocket Event Types
// =====================================================

const (
	EventStatus          = "sync.status"
	EventSyncStarted     = string(syncpkg.EventStarted)
	EventSyncCompleted   = string(syncpkg.EventCompleted)
	EventSyncFailed      = string(syncpkg.EventFailed)
	EventCacheInvalidate = "cache.invalidate"
)

// Envelope wraps all WebSocket messages.
type Envelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

type outbound struct {
	typ     string
	payload []byte
}

// wsClient represents a WebSocket client connection.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu            sync.Mutex
	subscriptions map[string]bool
}

// wants reports whether the client receives events of type typ. A client
// without subscriptions receives everything.
func (c *wsClient) wants(typ string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions) == 0 || c.subscriptions[typ]
}

// Hub maintains active client connections and broadcasts messages.
type Hub struct {
	clients    map[string]*wsClient
	broadcast  chan outbound
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// NewHub creates a hub and starts its loop. allowedOrigins lists the
// browser origins allowed to connect; "*" allows any.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{
		clients:    make(map[string]*wsClient),
		broadcast:  make(chan outbound, sendBuffer),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	go h.run()
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		// Same-host connections are always allowed.
		return u.Host == r.Host
	}
}

// Close disconnects all clients and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// run manages client connections and broadcasts.
func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket client connected", map[string]interface{}{"client_id": client.id, "total": total})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket client disconnected", map[string]interface{}{"client_id": client.id, "total": total})

		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				if !client.wants(msg.typ) {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					// Send buffer is full, drop the client.
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to all subscribed clients.
func (h *Hub) Broadcast(messageType string, data map[string]interface{}) {
	bytes, err := encodeEnvelope(messageType, data)
	if err != nil {
		logging.Error("Failed to marshal WebSocket message", err, map[string]interface{}{"type": messageType})
		return
	}
	select {
	case h.broadcast <- outbound{typ: messageType, payload: bytes}:
	case <-h.done:
	}
}

func encodeEnvelope(messageType string, data map[string]interface{}) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// =====================================================
// Sync Event Broadcasters
// =====================================================

// BroadcastStatus pushes a status snapshot.
func (h *Hub) BroadcastStatus(status syncpkg.Status) {
	h.Broadcast(EventStatus, map[string]interface{}{"status": status})
}

// BroadcastSyncEvent relays an engine event.
func (h *Hub) BroadcastSyncEvent(event syncpkg.Event) {
	data := map[string]interface{}{}
	if event.Table != "" {
		data["table"] = event.Table
	}
	if event.Result != nil {
		data["result"] = event.Result
	}
	if event.Error != "" {
		data["error"] = event.Error
	}
	h.Broadcast(string(event.Type), data)
}

// BroadcastCacheInvalidate tells clients to refetch their cached queries.
// It is the engine's cache invalidation hook.
func (h *Hub) BroadcastCacheInvalidate() {
	h.Broadcast(EventCacheInvalidate, map[string]interface{}{})
}

// =====================================================
// Connection Handling
// =====================================================

// ServeWS upgrades the request and registers the client. greeting, when
// set, is the first message the client receives.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, greeting []byte) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	client := &wsClient{
		id:            uuid.New(),
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		hub:           h,
		subscriptions: make(map[string]bool),
	}
	if greeting != nil {
		client.send <- greeting
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// clientMessage is a control message sent by a client.
type clientMessage struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

// readPump pumps messages from the WebSocket connection.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("WebSocket read error", map[string]interface{}{"client_id": c.id, "error": err.Error()})
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logging.Debug("Invalid WebSocket message", map[string]interface{}{"client_id": c.id})
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				c.subscriptions[e] = true
			}
			c.mu.Unlock()
			c.reply(map[string]interface{}{"action": "subscribe_ack", "subscribed": msg.Events})

		case "unsubscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				delete(c.subscriptions, e)
			}
			c.mu.Unlock()

		case "ping":
			c.reply(map[string]interface{}{"action": "pong"})
		}
	}
}

// reply queues a control response. It is dropped if the buffer is full.
func (c *wsClient) reply(envelope map[string]interface{}) {
	envelope["timestamp"] = time.Now().Unix()
	bytes, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- bytes:
	default:
	}
}

// writePump pumps messages to the WebSocket connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
