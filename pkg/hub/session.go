package hub

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"sync"
	"time"
)

// Conn is one live client connection. Transports implement it; Emit drops
// the event silently when the connection is no longer writable.
type Conn interface {
	ID() string
	Emit(event Event)
}

var instancePattern = regexp.MustCompile(`^[a-zA-Z0-9]{25}$`)

const instanceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewInstanceID mints a 25 character alphanumeric instance identifier using
// crypto-grade randomness.
func NewInstanceID() string {
	out := make([]byte, 25)
	max := big.NewInt(int64(len(instanceAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Sprintf("reading random bytes: %v", err))
		}
		out[i] = instanceAlphabet[n.Int64()]
	}
	return string(out)
}

// ValidInstanceID reports whether a client-supplied instance id has the
// shape the hub mints.
func ValidInstanceID(instance string) bool {
	return instancePattern.MatchString(instance)
}

// Session is the server-side state for one instance: a mutable data bag plus
// the live connections currently bound to it. Multiple connections (browser
// tabs) may share one session.
type Session struct {
	Instance string

	mu      sync.Mutex
	data    map[string]any
	conns   []Conn
	touched time.Time
}

// Data returns a deep copy of the session's data bag.
func (s *Session) Data() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CloneEvent(s.data)
}

// SetData replaces the session's data bag.
func (s *Session) SetData(data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data == nil {
		data = map[string]any{}
	}
	s.data = data
	s.touched = time.Now()
}

// Username returns the bound username, or "" for an unauthenticated session.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	username, _ := s.data["username"].(string)
	return username
}

// Conns returns a snapshot of the bound connections.
func (s *Session) Conns() []Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conn, len(s.conns))
	copy(out, s.conns)
	return out
}

func (s *Session) bind(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		if c.ID() == conn.ID() {
			return
		}
	}
	s.conns = append(s.conns, conn)
	s.touched = time.Now()
}

func (s *Session) unbind(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.conns {
		if c.ID() == conn.ID() {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			break
		}
	}
	s.touched = time.Now()
}

// Registry maps instance identifiers to sessions. At most one session exists
// per instance; unknown instances resolve to nil.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byConn   map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: map[string]*Session{},
		byConn:   map[string]*Session{},
	}
}

// Resolve returns the session for an instance id, or nil if unknown.
func (r *Registry) Resolve(instance string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[instance]
}

// Create mints a fresh instance id and session. With a non-empty instance
// argument the session adopts that id instead, recreating a known instance
// a client carried across a server restart.
func (r *Registry) Create(instance string) *Session {
	if instance == "" {
		instance = NewInstanceID()
	}
	session := &Session{
		Instance: instance,
		data:     map[string]any{},
		touched:  time.Now(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[instance] = session
	return session
}

// Bind attaches a connection to a session, detaching it from any session it
// was previously bound to.
func (r *Registry) Bind(session *Session, conn Conn) {
	r.mu.Lock()
	previous := r.byConn[conn.ID()]
	r.byConn[conn.ID()] = session
	r.mu.Unlock()

	if previous != nil && previous != session {
		previous.unbind(conn)
	}
	session.bind(conn)
}

// Unbind detaches a connection. The session stays registered; idle sessions
// are reclaimed by GC.
func (r *Registry) Unbind(conn Conn) *Session {
	r.mu.Lock()
	session := r.byConn[conn.ID()]
	delete(r.byConn, conn.ID())
	r.mu.Unlock()

	if session != nil {
		session.unbind(conn)
	}
	return session
}

// SessionFor returns the session a connection is bound to, or nil.
func (r *Registry) SessionFor(conn Conn) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byConn[conn.ID()]
}

// ByUsername returns sessions bound to a username, or every session for the
// literal "all".
func (r *Registry) ByUsername(username string) []*Session {
	if username == "all" {
		return r.All()
	}
	var out []*Session
	for _, session := range r.All() {
		if session.Username() == username {
			out = append(out, session)
		}
	}
	return out
}

// All returns a snapshot of every registered session.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		out = append(out, session)
	}
	return out
}

// Reap removes sessions with no live connections that have been idle longer
// than ttl and returns them so the caller can run logout bookkeeping.
func (r *Registry) Reap(ttl time.Duration) []*Session {
	cutoff := time.Now().Add(-ttl)
	var reaped []*Session

	r.mu.Lock()
	for instance, session := range r.sessions {
		session.mu.Lock()
		idle := len(session.conns) == 0 && session.touched.Before(cutoff)
		session.mu.Unlock()
		if idle {
			delete(r.sessions, instance)
			reaped = append(reaped, session)
		}
	}
	r.mu.Unlock()

	return reaped
}

// Remove drops a session outright.
func (r *Registry) Remove(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, session.Instance)
}
