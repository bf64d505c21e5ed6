// Package hub fans telemetry out to websocket clients using the channel
// based register/unregister/broadcast loop. Only the Run goroutine touches
// the client set.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// broadcastBuffer is how many messages may wait for the Run loop.
const broadcastBuffer = 256

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	name string
	log  *slog.Logger

	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	count   int
	dropped uint64
}

// New creates a hub. Call Run to start it.
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		log:        logger.With("hub", name),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns when ctx is done, closing every
// client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			close(c.send)
			delete(h.clients, c)
		}
		h.setCount(0)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount(len(h.clients))
			h.log.Info("client connected", "clients", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.setCount(len(h.clients))
			h.log.Info("client disconnected", "clients", len(h.clients))

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Too slow to keep up; drop the client rather than
					// stall everyone else.
					close(c.send)
					delete(h.clients, c)
					h.log.Warn("dropped slow client")
				}
			}
			h.setCount(len(h.clients))
		}
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// Broadcast queues data for every client. It never blocks; when the
// broadcast buffer is full the message is dropped and false is returned.
func (h *Hub) Broadcast(data []byte) bool {
	select {
	case h.broadcast <- data:
		return true
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		return false
	}
}

// BroadcastJSON encodes v and broadcasts it.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Dropped returns how many broadcasts were discarded because the buffer was
// full.
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
