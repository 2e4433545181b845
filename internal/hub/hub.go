// Package hub implements the WebSocket fan-out hub (C5): the set of
// connected client send queues and the backpressure-aware broadcast
// that drives them. The hub itself never touches a network connection;
// internal/wsconn owns the per-connection read/write pumps and drains
// the queues this package hands out.
package hub

import (
	"log/slog"
	"sync"
)

// DefaultSendBuffer is the per-client queue capacity used when the
// caller does not override it via configuration.
const DefaultSendBuffer = 256

// Client is a registered broadcast target. The zero value is not
// usable; obtain one from Hub.Register.
type Client struct {
	id        string
	send      chan []byte
	closeOnce sync.Once
}

// Send returns the channel internal/wsconn's write pump drains.
func (c *Client) Send() <-chan []byte { return c.send }

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub maintains the set of connected clients and broadcasts frames to
// all of them with bounded, non-blocking per-client queues. Safe for
// concurrent use from any number of goroutines.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	sendBuffer int
	logger     *slog.Logger
}

// New creates an empty Hub. sendBuffer <= 0 uses DefaultSendBuffer. A
// nil logger is replaced with slog.Default.
func New(sendBuffer int, logger *slog.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		sendBuffer: sendBuffer,
		logger:     logger,
	}
}

// Register admits a new client into the broadcast set and returns its
// handle. The caller must eventually call Unregister.
func (h *Hub) Register(id string) *Client {
	c := &Client{id: id, send: make(chan []byte, h.sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// Unregister removes a client and closes its send queue exactly once.
// Safe to call more than once for the same client.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, present := h.clients[c]
	if present {
		delete(h.clients, c)
	}
	h.mu.Unlock()
	if present {
		c.close()
	}
}

// Broadcast enqueues frame on every registered client's send queue. A
// client whose queue is already full is evicted: removed from the set
// and its queue closed, so internal/wsconn's write pump observes a
// closed channel and tears the connection down. The hot path takes
// only a read lock; the write lock is acquired only when at least one
// client actually needs evicting.
func (h *Hub) Broadcast(frame []byte) {
	var dead []*Client

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			dead = append(dead, c)
		}
	}
	h.mu.RUnlock()

	if len(dead) == 0 {
		return
	}

	evicted := make([]*Client, 0, len(dead))
	h.mu.Lock()
	for _, c := range dead {
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			evicted = append(evicted, c)
		}
	}
	h.mu.Unlock()

	for _, c := range evicted {
		c.close()
	}
	if len(evicted) > 0 {
		h.logger.Warn("hub: evicted slow clients", "count", len(evicted))
	}
}

// ClientCount returns the number of currently registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
