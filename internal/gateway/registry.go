package gateway

import "sync"

// Session is the gateway's view of a live tutoring session. Implemented by
// *bridge.Bridge; tests substitute their own.
type Session interface {
	HandleAudioChunk(chunk []byte) error
	HandleTranscript(text string) error
	Close() error
}

// Registry tracks the single live session per user. All compound operations
// run under one mutex so the at-most-one-session invariant holds even with
// connections racing on separate goroutines.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// Get returns the live session for the user, or nil.
func (r *Registry) Get(userID string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[userID]
}

// Set installs the session for the user and returns the session it displaced,
// or nil. The caller owns closing the displaced session.
func (r *Registry) Set(userID string, s Session) Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.sessions[userID]
	r.sessions[userID] = s
	if prev == s {
		return nil
	}
	return prev
}

// EvictAndClose removes the user's session and closes it before returning.
// Reports whether a session was evicted. The close happens outside the lock
// but before control returns, so a subsequent registration observes a fully
// torn-down predecessor.
func (r *Registry) EvictAndClose(userID string) bool {
	r.mu.Lock()
	prev := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()

	if prev == nil {
		return false
	}
	_ = prev.Close()
	return true
}

// Release removes the mapping only if it still points at s. A connection
// tearing down after being displaced must not remove its successor's entry.
func (r *Registry) Release(userID string, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[userID] == s {
		delete(r.sessions, userID)
	}
}

// All returns a snapshot of every live session.
func (r *Registry) All() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Clear drops every mapping without closing the sessions.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.sessions)
}
