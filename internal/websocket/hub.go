package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Message represents a WebSocket message
type Message struct {
	Type      string         `json:"type"`
	Payload   any            `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MessageDropped tells a client how many broadcasts it missed while its
// send buffer was full, so it can refetch the console backlog
const MessageDropped = "lines_dropped"

// MessageHandler is called for every message a client sends
type MessageHandler func(client *Client, msg *Message)

// Client is one browser connection in one room
type Client struct {
	ID        string
	Username  string
	Conn      *websocket.Conn
	Room      string
	Send      chan *Message
	Hub       *Hub
	OnMessage MessageHandler

	dropped atomic.Int64
	mu      sync.Mutex
	closed  bool
}

// Hub fans broadcasts out to the clients of a room. Rooms are the console
// and one room per download job.
type Hub struct {
	rooms   map[string]map[*Client]struct{}
	clients map[string]*Client
	mu      sync.RWMutex

	Register   chan *Client
	Unregister chan *Client
	broadcast  chan *BroadcastMessage
}

// BroadcastMessage represents a message to broadcast to a room
type BroadcastMessage struct {
	Room    string
	Message *Message
	Exclude *Client // Optional: exclude this client from broadcast
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 1024),
		clients:    make(map[string]*Client),
	}
}

// NewClient creates a client for conn in room. It still has to be registered.
func NewClient(hub *Hub, conn *websocket.Conn, username, room string) *Client {
	return &Client{
		ID:       uuid.New().String(),
		Username: username,
		Conn:     conn,
		Room:     room,
		Send:     make(chan *Message, sendBufferSize),
		Hub:      hub,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToRoom(message)

		case <-ctx.Done():
			log.Println("[WebSocket] Hub shutting down")
			h.shutdown()
			return
		}
	}
}

// registerClient adds a client to a room
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	if h.rooms[client.Room] == nil {
		h.rooms[client.Room] = make(map[*Client]struct{})
	}
	h.rooms[client.Room][client] = struct{}{}
	size := len(h.rooms[client.Room])
	h.mu.Unlock()

	log.Printf("[WebSocket] Client %s (user=%s) joined room %s. Room size: %d",
		client.ID, client.Username, client.Room, size)

	h.enqueue(&BroadcastMessage{
		Room: client.Room,
		Message: &Message{
			Type: "user_joined",
			Payload: map[string]any{
				"username":  client.Username,
				"client_id": client.ID,
			},
			Timestamp: time.Now(),
		},
		Exclude: client,
	})
}

// unregisterClient removes a client from a room
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	delete(h.clients, client.ID)

	clients := h.rooms[client.Room]
	if _, ok := clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(clients, client)
	client.closeSend()

	remaining := len(clients)
	if remaining == 0 {
		delete(h.rooms, client.Room)
	}
	h.mu.Unlock()

	if remaining == 0 {
		log.Printf("[WebSocket] Room %s is now empty and removed", client.Room)
		return
	}

	log.Printf("[WebSocket] Client %s left room %s. Room size: %d", client.ID, client.Room, remaining)
	h.enqueue(&BroadcastMessage{
		Room: client.Room,
		Message: &Message{
			Type: "user_left",
			Payload: map[string]any{
				"username":  client.Username,
				"client_id": client.ID,
			},
			Timestamp: time.Now(),
		},
	})
}

// broadcastToRoom sends a message to all clients in a room
func (h *Hub) broadcastToRoom(bm *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[bm.Room] {
		if bm.Exclude != nil && client.ID == bm.Exclude.ID {
			continue
		}

		select {
		case client.Send <- bm.Message:
		default:
			// A slow browser loses lines rather than stalling the room
			if client.dropped.Add(1) == 1 {
				log.Printf("[WebSocket] Client %s send channel full, dropping messages", client.ID)
			}
		}
	}
}

func (h *Hub) enqueue(bm *BroadcastMessage) {
	select {
	case h.broadcast <- bm:
	default:
		log.Printf("[WebSocket] Broadcast queue full, dropping %s message for room %s", bm.Message.Type, bm.Room)
	}
}

// GetRoomClients returns all clients in a room
func (h *Hub) GetRoomClients(room string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := []*Client{}
	for client := range h.rooms[room] {
		clients = append(clients, client)
	}
	return clients
}

// GetRoomSize returns the number of clients in a room
func (h *Hub) GetRoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// BroadcastToRoom queues a message for every client in a room. It never blocks.
func (h *Hub) BroadcastToRoom(room string, message *Message) {
	h.enqueue(&BroadcastMessage{
		Room:    room,
		Message: message,
	})
}

// shutdown closes all connections gracefully
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		client.closeSend()
		if client.Conn != nil {
			client.Conn.Close()
		}
	}

	h.rooms = make(map[string]map[*Client]struct{})
	h.clients = make(map[string]*Client)
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Dropped returns the number of broadcasts missed since the last notice
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// ReadPump pumps messages from WebSocket connection to the client's handler
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] Read error: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.SendMessage("error", map[string]any{"error": "invalid message"})
			continue
		}
		msg.Timestamp = time.Now()

		if c.OnMessage != nil {
			c.OnMessage(c, &msg)
		}
	}
}

// WritePump pumps messages from hub to WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteJSON(message); err != nil {
				return
			}
			if n := c.dropped.Swap(0); n > 0 {
				notice := &Message{Type: MessageDropped, Payload: map[string]any{"count": n}, Timestamp: time.Now()}
				if err := c.Conn.WriteJSON(notice); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage sends a message to this specific client
func (c *Client) SendMessage(msgType string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client send channel is closed")
	}

	msg := &Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	select {
	case c.Send <- msg:
		return nil
	default:
		return fmt.Errorf("client send channel is full")
	}
}
