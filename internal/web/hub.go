package web

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bedtime-stories/server/internal/engine"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 16
)

// Event types pushed to play clients.
const (
	EventCheckpoint = "checkpoint"
	EventError      = "error"
)

// PlayEvent is one message sent to a play client.
type PlayEvent struct {
	Type       string             `json:"type"`
	Checkpoint *engine.Checkpoint `json:"checkpoint,omitempty"`
	Error      string             `json:"error,omitempty"`
	Time       int64              `json:"time"`
}

// playInput is one message received from a play client.
type playInput struct {
	Choice string `json:"choice"`
}

// Client is a websocket connection following one story session. Send is
// never closed; done tells the write pump to stop.
type Client struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	hub       *Hub

	done      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
}

type sessionEvent struct {
	sessionID string
	data      []byte
}

// Hub fans checkpoints out to every client following a session.
type Hub struct {
	clients    map[string]map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan sessionEvent
	done       chan struct{}
	log        *zap.Logger
	mu         sync.RWMutex
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]map[string]*Client),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		broadcast:  make(chan sessionEvent, 256),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run processes registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

// Broadcast queues event for every client of the session.
func (h *Hub) Broadcast(sessionID string, event *PlayEvent) {
	data, err := encodeEvent(event)
	if err != nil {
		h.log.Error("Failed to marshal play event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- sessionEvent{sessionID: sessionID, data: data}:
	default:
		h.log.Warn("Broadcast channel full, dropping event", zap.String("session_id", sessionID))
	}
}

// add hands client to Run. It reports false once the hub has stopped.
func (h *Hub) add(client *Client) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// ClientCount returns the number of clients following a session.
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.SessionID] == nil {
		h.clients[client.SessionID] = make(map[string]*Client)
	}
	h.clients[client.SessionID][client.ID] = client
	h.log.Info("Play client connected",
		zap.String("client_id", client.ID),
		zap.String("session_id", client.SessionID),
		zap.Int("clients", len(h.clients[client.SessionID])))

	go client.writePump(h.log)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	followers := h.clients[client.SessionID]
	if _, ok := followers[client.ID]; !ok {
		return
	}
	delete(followers, client.ID)
	if len(followers) == 0 {
		delete(h.clients, client.SessionID)
	}
	client.stop()
	h.log.Info("Play client disconnected",
		zap.String("client_id", client.ID),
		zap.String("session_id", client.SessionID))
}

func (h *Hub) deliver(event sessionEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients[event.sessionID] {
		select {
		case client.Send <- event.data:
		default:
			h.log.Warn("Client send buffer full", zap.String("client_id", client.ID))
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sessionID, followers := range h.clients {
		for _, client := range followers {
			client.stop()
		}
		delete(h.clients, sessionID)
	}
}

func newClient(id, sessionID string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		ID:        id,
		SessionID: sessionID,
		Conn:      conn,
		Send:      make(chan []byte, sendBuffer),
		hub:       hub,
		done:      make(chan struct{}),
	}
}

// push queues an event for this client only.
func (c *Client) push(event *PlayEvent) {
	data, err := encodeEvent(event)
	if err != nil {
		return
	}
	select {
	case c.Send <- data:
	case <-c.done:
	default:
	}
}

// writePump sends queued messages and keeps the connection alive with pings.
func (c *Client) writePump(log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug("Play client write failed", zap.String("client_id", c.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump hands every client message to onMessage until the connection drops.
func (c *Client) readPump(log *zap.Logger, onMessage func(*Client, playInput)) {
	defer func() {
		c.leave()
		c.close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("Unexpected close from play client", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		var input playInput
		if err := json.Unmarshal(message, &input); err != nil {
			c.push(&PlayEvent{Type: EventError, Error: "messages must be {\"choice\": \"...\"}"})
			continue
		}
		onMessage(c, input)
		// Generation can outlast the pong window.
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// leave asks the hub to drop the client, unless the hub has stopped.
func (c *Client) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

func (c *Client) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *Client) close() {
	c.closeOnce.Do(func() { _ = c.Conn.Close() })
}

func encodeEvent(event *PlayEvent) ([]byte, error) {
	if event.Time == 0 {
		event.Time = time.Now().Unix()
	}
	return json.Marshal(event)
}
