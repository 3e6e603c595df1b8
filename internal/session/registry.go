// Package session maps live connections to the driver or rider they
// speak for.
package session

import (
	"errors"
	"sync"
)

var ErrNoSession = errors.New("no session")

// Conn is the slice of the transport a session needs. The websocket
// adapter lives in the http layer; tests substitute their own.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Session is one identified connection.
type Session struct {
	ConnID    string
	Role      string
	SubjectID string

	conn Conn
	mu   sync.Mutex
}

// Send serializes writes; gorilla connections allow one concurrent writer.
func (s *Session) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNoSession
	}
	return s.conn.WriteJSON(v)
}

type key struct {
	role    string
	subject string
}

// Registry holds at most one session per (role, subject). A later
// Identify for the same pair replaces the mapping; the superseded
// connection is left open and callers must not assume otherwise.
type Registry struct {
	mu       sync.RWMutex
	bySubj   map[key]*Session
	byConnID map[string]key
}

func NewRegistry() *Registry {
	return &Registry{
		bySubj:   make(map[key]*Session),
		byConnID: make(map[string]key),
	}
}

func (r *Registry) Identify(connID, role, subjectID string, conn Conn) *Session {
	s := &Session{ConnID: connID, Role: role, SubjectID: subjectID, conn: conn}
	k := key{role: role, subject: subjectID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.bySubj[k]; ok {
		delete(r.byConnID, old.ConnID)
	}
	r.bySubj[k] = s
	r.byConnID[connID] = k
	return s
}

// For returns the live session for a subject, absence is a normal outcome.
func (r *Registry) For(role, subjectID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.bySubj[key{role: role, subject: subjectID}]
	return s, ok
}

// ForConn returns the session a connection identified as, if any.
func (r *Registry) ForConn(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.byConnID[connID]
	if !ok {
		return nil, false
	}
	s, ok := r.bySubj[k]
	return s, ok
}

// Remove drops whatever mapping the connection holds. Called on
// disconnect; removing an unknown connection is a no-op.
func (r *Registry) Remove(connID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.byConnID[connID]
	if !ok {
		return nil, false
	}
	s := r.bySubj[k]
	delete(r.byConnID, connID)
	// the mapping may have been superseded by a newer connection
	if s != nil && s.ConnID == connID {
		delete(r.bySubj, k)
		return s, true
	}
	return nil, false
}
