package websocket

import (
	"log"
	"sync"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// Registry tracks the live connections of every session in registration order.
// It is passive: it never sends anything itself.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64][]*Connection
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[int64][]*Connection),
	}
}

// Register adds conn to its session. A connection with the same client ID
// takes over the existing slot in place and the old transport is closed
// asynchronously.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	sessionID := conn.GetSessionID()
	clientID := conn.GetClientID()

	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.sessions[sessionID]
	for i, existing := range conns {
		if existing.GetClientID() != clientID {
			continue
		}
		if existing == conn {
			return nil
		}
		conns[i] = conn
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("Failed to close replaced connection: client=%s err=%v", clientID, err)
			}
		}()
		return nil
	}

	r.sessions[sessionID] = append(conns, conn)
	return nil
}

// Unregister removes conn immediately. It is a no-op when conn is absent or
// has already been replaced by a newer connection for the same client.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}
	sessionID := conn.GetSessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.sessions[sessionID]
	for i, existing := range conns {
		if existing != conn {
			continue
		}
		conns = append(conns[:i], conns[i+1:]...)
		if len(conns) == 0 {
			delete(r.sessions, sessionID)
		} else {
			r.sessions[sessionID] = conns
		}
		return
	}
}

// Count returns the number of connected students in a session.
func (r *Registry) Count(sessionID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.sessions[sessionID] {
		if c.GetRole() == types.RoleStudent {
			n++
		}
	}
	return n
}

// Names returns student display names in registration order. Duplicates are kept.
func (r *Registry) Names(sessionID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := []string{}
	for _, c := range r.sessions[sessionID] {
		if c.GetRole() == types.RoleStudent {
			names = append(names, c.GetName())
		}
	}
	return names
}

// SessionConnections returns every connection of a session, students and instructors.
func (r *Registry) SessionConnections(sessionID int64) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.sessions[sessionID]
	out := make([]*Connection, len(conns))
	copy(out, conns)
	return out
}

// SessionTargets is SessionConnections behind the Connection interface.
func (r *Registry) SessionTargets(sessionID int64) []interfaces.Connection {
	conns := r.SessionConnections(sessionID)
	out := make([]interfaces.Connection, len(conns))
	for i, c := range conns {
		out[i] = c
	}
	return out
}

func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := map[string]int{
		"total_connections": 0,
		"students":          0,
		"instructors":       0,
		"active_sessions":   len(r.sessions),
	}
	for _, conns := range r.sessions {
		for _, c := range conns {
			stats["total_connections"]++
			if c.GetRole() == types.RoleStudent {
				stats["students"]++
			} else {
				stats["instructors"]++
			}
		}
	}
	return stats
}
