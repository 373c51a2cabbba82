package registry

import (
	"errors"
	"sync"
)

// Conn is the transport-side handle the registry tracks. The websocket layer
// provides the production implementation; tests use in-memory fakes.
type Conn interface {
	ID() string
	WriteMessage(data []byte) error
	Close() error
}

var ErrDuplicateConnection = errors.New("connection already registered")

// Session carries the per-connection state the coordinator serializes events
// on. Lock/Unlock bracket every event for the connection, so one connection's
// stream is processed in arrival order and a disconnect is terminal.
type Session struct {
	mu     sync.Mutex
	conn   Conn
	closed bool
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Closed reports whether the connection has been unbound. Callers must hold
// the session lock.
func (s *Session) Closed() bool { return s.closed }

// Registry owns the connection table: which connections are alive and which
// identity each one carries. It never calls into the membership index or the
// broadcaster.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session        // conn id -> session
	identity map[string]string          // conn id -> identity
	byUser   map[string]map[string]Conn // identity -> conn id -> conn
}

func New() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		identity: make(map[string]string),
		byUser:   make(map[string]map[string]Conn),
	}
}

// Register adds a connection with no identity yet.
func (r *Registry) Register(c Conn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[c.ID()]; ok {
		return s, ErrDuplicateConnection
	}
	s := &Session{conn: c}
	r.sessions[c.ID()] = s
	return s, nil
}

// Bind associates an identity with the connection, replacing any prior one
// (a client may re-announce itself over the same channel).
func (r *Registry) Bind(c Conn, identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[c.ID()]; !ok {
		return
	}
	if prev, ok := r.identity[c.ID()]; ok && prev != identity {
		r.dropUserConn(prev, c.ID())
	}
	r.identity[c.ID()] = identity
	conns, ok := r.byUser[identity]
	if !ok {
		conns = make(map[string]Conn)
		r.byUser[identity] = conns
	}
	conns[c.ID()] = c
}

// Unbind removes the connection entirely and returns the identity it carried.
// Unknown connections return ok=false; transports may signal close twice.
func (r *Registry) Unbind(c Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[c.ID()]
	if !ok {
		return "", false
	}
	s.closed = true
	delete(r.sessions, c.ID())

	identity, had := r.identity[c.ID()]
	if had {
		delete(r.identity, c.ID())
		r.dropUserConn(identity, c.ID())
	}
	return identity, had
}

func (r *Registry) IdentityOf(c Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.identity[c.ID()]
	return identity, ok
}

// LiveConnectionsFor returns every live connection bound to the identity.
// Multi-tab clients legitimately hold more than one.
func (r *Registry) LiveConnectionsFor(identity string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.byUser[identity]))
	for _, c := range r.byUser[identity] {
		conns = append(conns, c)
	}
	return conns
}

// SessionOf resolves the live session for a connection.
func (r *Registry) SessionOf(c Conn) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[c.ID()]
	return s, ok
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// caller must hold r.mu
func (r *Registry) dropUserConn(identity, connID string) {
	conns, ok := r.byUser[identity]
	if !ok {
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, identity)
	}
}
