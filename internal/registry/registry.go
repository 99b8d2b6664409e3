// Package registry tracks which users hold live connections.
package registry

import (
	"context"
	"slices"
	"sync"
)

// Conn is the Registry's view of one live connection. The Registry never
// closes a Conn; Drop only asks its owner to shut it down.
type Conn interface {
	ID() string
	User() int64
	Send(ctx context.Context, payload []byte) error
	Drop()
}

// Registry maps users to their ordered connection sets and connections back
// to their users. Both indexes change together under one lock.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64][]Conn
	byID   map[string]int64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byUser: make(map[int64][]Conn),
		byID:   make(map[string]int64),
	}
}

// Register adds conn to user's set. first reports whether user was offline
// before the call. Registering the same connection twice is a no-op.
func (r *Registry) Register(user int64, conn Conn) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[conn.ID()]; ok {
		return false
	}
	first = len(r.byUser[user]) == 0
	r.byUser[user] = append(r.byUser[user], conn)
	r.byID[conn.ID()] = user
	return first
}

// Deregister removes conn. last reports whether the removal emptied the
// owning user's set; it is true for exactly one call per online period.
// Unknown or already removed connections return (0, false).
func (r *Registry) Deregister(conn Conn) (user int64, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[conn.ID()]
	if !ok {
		return 0, false
	}
	delete(r.byID, conn.ID())

	conns := r.byUser[user]
	if i := slices.IndexFunc(conns, func(c Conn) bool { return c.ID() == conn.ID() }); i >= 0 {
		conns = slices.Delete(conns, i, i+1)
	}
	if len(conns) == 0 {
		delete(r.byUser, user)
		return user, true
	}
	r.byUser[user] = conns
	return user, false
}

// IsOnline reports whether user has at least one connection.
func (r *Registry) IsOnline(user int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[user]) > 0
}

// OnlineUsers returns a sorted snapshot of users with connections.
func (r *Registry) OnlineUsers() []int64 {
	r.mu.RLock()
	users := make([]int64, 0, len(r.byUser))
	for u := range r.byUser {
		users = append(users, u)
	}
	r.mu.RUnlock()
	slices.Sort(users)
	return users
}

// ConnectionsFor returns a snapshot of user's connections in registration order.
func (r *Registry) ConnectionsFor(user int64) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byUser[user])
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.byID))
	for _, conns := range r.byUser {
		out = append(out, conns...)
	}
	return out
}

// Len returns the number of online users and live connections.
func (r *Registry) Len() (users, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser), len(r.byID)
}
