package relay

import (
	"sync"

	"github.com/gorilla/websocket"
)

// frame is a single WebSocket frame queued for delivery, with its
// original frame type preserved so binary data passes through verbatim.
type frame struct {
	messageType int
	data        []byte
}

// Client represents one connected chat participant.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan frame

	mu     sync.Mutex
	closed bool
}

// NewClient creates a client for the given connection.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan frame, 256),
	}
}

// enqueue places a frame on the client's outbound queue without
// blocking. A client that cannot keep up is closed.
func (c *Client) enqueue(f frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- f:
	default:
		c.closeLocked()
	}
}

// Close closes the client's outbound queue.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the outbound frame channel for the client.
func (c *Client) SendChan() <-chan frame {
	return c.send
}

// Hub tracks the connected clients of the single chat room and fans
// inbound frames out to everyone but their origin.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes a client from the hub and closes it.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	client.Close()
}

// Forward delivers a frame to every client except its origin. The
// origin already holds its own copy of the message (optimistic append
// on the sending side), so echoing it back would duplicate the entry.
func (h *Hub) Forward(origin *Client, messageType int, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client == origin {
			continue
		}
		client.enqueue(frame{messageType: messageType, data: data})
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes all client connections and empties the hub.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}
