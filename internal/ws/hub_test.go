package ws

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedwire/feedwire/internal/event"
	"github.com/feedwire/feedwire/internal/registry"
)

func newTestClient(h *Hub, userID uuid.UUID, buffer int) *Client {
	return &Client{
		hub:    h,
		send:   make(chan []byte, buffer),
		connID: uuid.New().String(),
		userID: userID,
		logger: zap.NewNop(),
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestRegisterTracksConnection(t *testing.T) {
	reg := registry.New()
	h := NewHub(reg, 8, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	user := uuid.New()
	client := newTestClient(h, user, 8)
	h.register <- client

	waitFor(t, func() bool { return reg.HasUser(user) }, "user never registered")
	if got := h.CountClients(); got != 1 {
		t.Errorf("expected 1 client, got %d", got)
	}

	h.unregister <- client
	waitFor(t, func() bool { return !reg.HasUser(user) }, "user never unregistered")

	// Send channel must be closed after unregister.
	if _, open := <-client.send; open {
		t.Error("expected closed send channel")
	}
}

func TestPushDeliversToConnection(t *testing.T) {
	reg := registry.New()
	h := NewHub(reg, 8, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	user := uuid.New()
	client := newTestClient(h, user, 8)
	h.register <- client
	waitFor(t, func() bool { return h.CountClients() == 1 }, "client never registered")

	env := event.New(event.TrendingUpdate{Message: "hot topic"})
	if err := h.Push(client.connID, env); err != nil {
		t.Fatal(err)
	}

	select {
	case payload := <-client.send:
		if len(payload) == 0 {
			t.Error("expected serialized event")
		}
	default:
		t.Fatal("nothing queued on send channel")
	}
}

func TestPushUnknownConnection(t *testing.T) {
	h := NewHub(registry.New(), 8, zap.NewNop())

	err := h.Push("nope", event.New(event.TrendingUpdate{Message: "x"}))
	if err == nil {
		t.Fatal("expected error for unknown connection")
	}
}

func TestPushFullBufferDisconnects(t *testing.T) {
	reg := registry.New()
	h := NewHub(reg, 1, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	user := uuid.New()
	client := newTestClient(h, user, 1)
	h.register <- client
	waitFor(t, func() bool { return h.CountClients() == 1 }, "client never registered")

	env := event.New(event.TrendingUpdate{Message: "fills the buffer"})
	if err := h.Push(client.connID, env); err != nil {
		t.Fatal(err)
	}
	if err := h.Push(client.connID, env); err == nil {
		t.Fatal("expected error on full send buffer")
	}

	// The slow consumer gets evicted asynchronously.
	waitFor(t, func() bool { return h.CountClients() == 0 }, "slow client never evicted")
	waitFor(t, func() bool { return !reg.HasUser(user) }, "registry entry never removed")
}

func TestDropAfterShutdownDoesNotBlock(t *testing.T) {
	reg := registry.New()
	h := NewHub(reg, 8, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	user := uuid.New()
	client := newTestClient(h, user, 8)
	h.register <- client
	waitFor(t, func() bool { return h.CountClients() == 1 }, "client never registered")

	cancel()
	waitFor(t, func() bool { return h.CountClients() == 0 }, "clients not cleared on shutdown")

	// A read pump winding down after the hub stopped must still return.
	returned := make(chan struct{})
	go func() {
		h.drop(client)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("drop blocked after hub shutdown")
	}
}

func TestShutdownClearsRegistry(t *testing.T) {
	reg := registry.New()
	h := NewHub(reg, 8, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	user := uuid.New()
	h.register <- newTestClient(h, user, 8)
	waitFor(t, func() bool { return h.CountClients() == 1 }, "client never registered")

	cancel()
	waitFor(t, func() bool { return h.CountClients() == 0 }, "clients not cleared on shutdown")
	waitFor(t, func() bool { return reg.CountConnections() == 0 }, "registry not cleared on shutdown")
}
