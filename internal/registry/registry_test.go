package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestAddRemove(t *testing.T) {
	r := New()
	user := uuid.New()

	r.Add(user, "c1")
	r.Add(user, "c2")

	if got := r.CountConnections(); got != 2 {
		t.Errorf("expected 2 connections, got %d", got)
	}

	r.Remove("c1")
	conns := r.ConnectionsFor(user)
	if len(conns) != 1 || conns[0] != "c2" {
		t.Errorf("expected [c2], got %v", conns)
	}

	r.Remove("c2")
	if r.HasUser(user) {
		t.Error("expected user entry removed after last connection")
	}
	if got := r.CountConnections(); got != 0 {
		t.Errorf("expected 0 connections, got %d", got)
	}
	if conns := r.ConnectionsFor(user); conns != nil {
		t.Errorf("expected nil connections for absent user, got %v", conns)
	}
}

func TestRemoveUnknownConnection(t *testing.T) {
	r := New()
	r.Remove("ghost") // must not panic
	if got := r.CountConnections(); got != 0 {
		t.Errorf("expected 0 connections, got %d", got)
	}
}

func TestMultiUser(t *testing.T) {
	r := New()
	u1, u2 := uuid.New(), uuid.New()

	r.Add(u1, "a")
	r.Add(u2, "b")
	r.Add(u2, "c")

	users := r.ConnectedUsers()
	if len(users) != 2 {
		t.Fatalf("expected 2 connected users, got %d", len(users))
	}

	if !r.HasUser(u1) || !r.HasUser(u2) {
		t.Error("expected both users present")
	}

	r.Remove("b")
	if !r.HasUser(u2) {
		t.Error("user with remaining connection must stay present")
	}
}

func TestConnectionsForReturnsCopy(t *testing.T) {
	r := New()
	user := uuid.New()
	r.Add(user, "c1")
	r.Add(user, "c2")

	conns := r.ConnectionsFor(user)
	conns[0] = "mutated"

	again := r.ConnectionsFor(user)
	if again[0] != "c1" {
		t.Error("ConnectionsFor must return a copy, not internal state")
	}
}

func TestConcurrentChurn(t *testing.T) {
	r := New()
	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := users[i%len(users)]
			connID := fmt.Sprintf("conn-%d", i)
			r.Add(user, connID)
			r.Touch(connID)
			_ = r.ConnectionsFor(user)
			_ = r.ConnectedUsers()
			r.Remove(connID)
		}(i)
	}
	wg.Wait()

	if got := r.CountConnections(); got != 0 {
		t.Errorf("expected empty registry after churn, got %d connections", got)
	}
	if got := len(r.ConnectedUsers()); got != 0 {
		t.Errorf("expected no user entries after churn, got %d", got)
	}
}
