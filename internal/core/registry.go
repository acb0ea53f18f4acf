package core

import (
	"sync"

	"github.com/dkeye/Talk/internal/domain"
	"github.com/rs/zerolog/log"
)

type connKey struct {
	Room domain.RoomID
	User domain.UserID
}

// ConnectionRegistry tracks one live signal connection per (room, user)
// pair. It never closes connections itself: eviction hands the old
// connection back to the caller, unregister leaves closing to the adapter
// that owns the transport.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[connKey]SignalConnection
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[connKey]SignalConnection)}
}

// Register binds conn to (room, user). If a connection is already bound
// to the pair it is replaced and returned so the caller can close it and
// notify dependents of the forced disconnect.
func (r *ConnectionRegistry) Register(room domain.RoomID, user domain.UserID, conn SignalConnection) SignalConnection {
	key := connKey{Room: room, User: user}
	r.mu.Lock()
	old := r.conns[key]
	r.conns[key] = conn
	r.mu.Unlock()
	if old != nil {
		log.Info().Str("module", "core.registry").Str("room", string(room)).Str("user", string(user)).Msg("evicted stale connection")
	}
	return old
}

// UnregisterConn removes the pair only if it is still bound to conn.
// Keeps a late teardown of an evicted connection from tearing down its
// replacement, and the bool lets teardown paths deduplicate leave
// broadcasts: only the caller that actually removed the pair announces
// the departure.
func (r *ConnectionRegistry) UnregisterConn(room domain.RoomID, user domain.UserID, conn SignalConnection) bool {
	key := connKey{Room: room, User: user}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[key]; ok && cur == conn {
		delete(r.conns, key)
		return true
	}
	return false
}

// Lookup returns the connection for the pair. Absence is a normal state,
// not an error.
func (r *ConnectionRegistry) Lookup(room domain.RoomID, user domain.UserID) (SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connKey{Room: room, User: user}]
	return conn, ok
}

// MembersOf returns the users with a live connection in the room.
func (r *ConnectionRegistry) MembersOf(room domain.RoomID) []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, 8)
	for key := range r.conns {
		if key.Room == room {
			out = append(out, key.User)
		}
	}
	return out
}

// ConnectionCount is a metrics helper.
func (r *ConnectionRegistry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
