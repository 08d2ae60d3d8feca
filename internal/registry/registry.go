// Package registry tracks which users currently have live delivery
// channels open. It is single-process and in-memory; nothing survives a
// restart.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Connection is one live client channel. A user may hold several at once
// (multiple tabs or devices).
type Connection struct {
	ConnectionID string
	UserID       uuid.UUID
	ConnectedAt  time.Time
	LastActivity time.Time
}

// Registry maintains the connection <-> user indices. One mutex guards
// both maps so a reader can never observe them out of step.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*Connection
	byUser map[uuid.UUID][]string
}

func New() *Registry {
	return &Registry{
		byConn: make(map[string]*Connection),
		byUser: make(map[uuid.UUID][]string),
	}
}

// Add registers a connection for a user.
func (r *Registry) Add(userID uuid.UUID, connectionID string) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byConn[connectionID] = &Connection{
		ConnectionID: connectionID,
		UserID:       userID,
		ConnectedAt:  now,
		LastActivity: now,
	}
	r.byUser[userID] = append(r.byUser[userID], connectionID)
}

// Remove deregisters a connection. When a user's last connection goes, the
// user entry goes with it.
func (r *Registry) Remove(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.byConn[connectionID]
	if !ok {
		return
	}
	delete(r.byConn, connectionID)

	conns := r.byUser[conn.UserID]
	for i, id := range conns {
		if id == connectionID {
			conns = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(conns) == 0 {
		delete(r.byUser, conn.UserID)
	} else {
		r.byUser[conn.UserID] = conns
	}
}

// Touch updates a connection's last-activity timestamp.
func (r *Registry) Touch(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.byConn[connectionID]; ok {
		conn.LastActivity = time.Now()
	}
}

// ConnectionsFor returns the connection IDs a user currently holds.
func (r *Registry) ConnectionsFor(userID uuid.UUID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	out := make([]string, len(conns))
	copy(out, conns)
	return out
}

// HasUser reports whether the user has at least one live connection.
func (r *Registry) HasUser(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// ConnectedUsers returns all users with at least one live connection.
func (r *Registry) ConnectedUsers() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]uuid.UUID, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	return users
}

// CountConnections returns the total number of live connections.
func (r *Registry) CountConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
