package liveserver

import (
	"context"
	"sync"
)

// Client is one dashboard subscriber connected over WebSocket, receiving
// every message broadcast through the Hub (the TradeResult, Stats and
// QueueDepth message types).
type Client struct {
	id     string
	send   chan Message
	mu     sync.Mutex
	closed bool
}

// NewClient wraps a subscriber connection identified by id.
func NewClient(id string) *Client {
	return &Client{
		id:   id,
		send: make(chan Message, 256), // buffered so one slow reader can't stall the broadcast loop
	}
}

// Send queues msg for delivery without blocking; it reports false if the
// client's buffer is full or it has already closed.
func (c *Client) Send(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// GetSendChan returns the channel the write pump reads outgoing messages from.
func (c *Client) GetSendChan() <-chan Message {
	return c.send
}

// Close marks the client closed and closes its send channel exactly once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub fans out broadcast messages to every connected dashboard subscriber.
// Registration, unregistration, and broadcast all flow through channels so
// the subscriber map only ever needs to be touched from Run's goroutine.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger Logger
	ctx    context.Context
}

// Logger is the minimal logging surface Hub and Server need; core.Logger
// satisfies it structurally.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// NewHub creates an empty Hub. Call Run to start dispatching.
func NewHub(logger Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run is the hub's event loop; it blocks until ctx is canceled, at which
// point every connected subscriber is closed and Run returns.
func (h *Hub) Run(ctx context.Context) {
	h.ctx = ctx

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Info("dashboard subscriber connected", "client_id", client.id, "total_subscribers", len(h.clients))
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Info("dashboard subscriber disconnected", "client_id", client.id, "total_subscribers", len(h.clients))
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			clientList := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clientList = append(clientList, client)
			}
			h.mu.RUnlock()

			// Send outside the lock; a slow or dead subscriber gets unregistered
			// rather than allowed to back up every future broadcast.
			for _, client := range clientList {
				if !client.Send(message) {
					h.mu.Lock()
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						client.Close()
					}
					h.mu.Unlock()
				}
			}
		}
	}
}

// Register enqueues client for admission by Run.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister enqueues client for removal by Run.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast pushes msg to every connected subscriber. If the broadcast
// channel itself is saturated the message is dropped and logged rather
// than blocking the caller (a worker goroutine, in cmd/dealengine's case).
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		if h.logger != nil {
			h.logger.Warn("broadcast channel full, dropping message", "type", msg.Type)
		}
	}
}

// ClientCount returns the number of currently connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
