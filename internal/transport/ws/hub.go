package ws

import (
	"sync"

	"go.uber.org/zap"

	"github.com/gorilla/websocket"
)

// outboundMessage is the envelope for every server-to-client event.
type outboundMessage struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// client is one websocket connection with its dedicated writer goroutine,
// which is the only place that writes to the conn.
type client struct {
	id   string
	conn *websocket.Conn
	send chan outboundMessage
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub tracks connections and room membership and implements app.Emitter on
// top of them.
type Hub struct {
	log *zap.Logger

	mu      sync.RWMutex
	clients map[string]*client
	rooms   map[string]map[string]bool
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:     log,
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]bool),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	go func() {
		for msg := range c.send {
			if err := c.conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write failed", zap.String("conn", c.id), zap.Error(err))
				return
			}
		}
	}()
}

func (h *Hub) unregister(connID string) {
	h.mu.Lock()
	c, ok := h.clients[connID]
	delete(h.clients, connID)
	for room, members := range h.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

func (h *Hub) joinRoom(room, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]bool)
		h.rooms[room] = members
	}
	members[connID] = true
}

// BroadcastToRoom fans an event out to every connection in a room. Sends are
// non-blocking; a slow client drops the message rather than stalling the room.
func (h *Hub) BroadcastToRoom(room, event string, payload any) {
	msg := outboundMessage{Event: event, Payload: payload}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID := range h.rooms[room] {
		c, ok := h.clients[connID]
		if !ok {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.log.Warn("dropping event for slow client",
				zap.String("conn", connID), zap.String("event", event))
		}
	}
}

// SendToConnection delivers a private event to a single connection. The send
// happens under the read lock: unregister removes the client from the map
// before closing its channel, so a client found here cannot be closed until
// the lock is released.
func (h *Hub) SendToConnection(connID, event string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	select {
	case c.send <- outboundMessage{Event: event, Payload: payload}:
	default:
		h.log.Warn("dropping event for slow client",
			zap.String("conn", connID), zap.String("event", event))
	}
}
