// Package ws is the WebSocket edge: it upgrades connections, tracks them in
// the shared connection registry, and pushes serialized events to individual
// connections on behalf of the dispatcher.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/feedwire/feedwire/internal/event"
	"github.com/feedwire/feedwire/internal/registry"
)

var ErrConnectionGone = errors.New("connection not registered")

// Hub owns all live WebSocket clients. Registration and teardown go through
// its Run loop; pushes look clients up by connection ID.
type Hub struct {
	reg        *registry.Registry
	sendBuffer int
	logger     *zap.Logger

	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub(reg *registry.Registry, sendBuffer int, logger *zap.Logger) *Hub {
	return &Hub{
		reg:        reg,
		sendBuffer: sendBuffer,
		logger:     logger,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes hub events. Call this in a goroutine.
// Returns when context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down")
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.connID] = client
			h.mu.Unlock()
			h.reg.Add(client.userID, client.connID)
			h.logger.Debug("client registered",
				zap.String("connID", client.connID),
				zap.String("userID", client.userID.String()),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.connID]; ok {
				delete(h.clients, client.connID)
				close(client.send)
			}
			h.mu.Unlock()
			h.reg.Remove(client.connID)
			h.logger.Debug("client unregistered",
				zap.String("connID", client.connID),
			)
		}
	}
}

// shutdown closes all client send channels; the write pumps finish the
// connection teardown. Closing done releases any unregister senders still
// waiting on the now-dead Run loop.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	close(h.done)
	for connID, client := range h.clients {
		close(client.send)
		delete(h.clients, connID)
		h.reg.Remove(connID)
	}
}

// drop hands a client to the Run loop for teardown. After shutdown there is
// no loop left to receive it, so the send must not block forever.
func (h *Hub) drop(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Push serializes an event and queues it on one connection. A full send
// buffer fails only this connection and schedules its disconnect.
func (h *Hub) Push(connectionID string, env *event.Envelope) error {
	h.mu.RLock()
	client, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return ErrConnectionGone
	}

	payload, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", env.EventType, err)
	}

	select {
	case client.send <- payload:
		return nil
	default:
		// Slow consumer; drop the connection rather than the pipeline.
		go h.drop(client)
		return fmt.Errorf("connection %s: send buffer full", connectionID)
	}
}

// CountClients reports the number of live connections.
func (h *Hub) CountClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
