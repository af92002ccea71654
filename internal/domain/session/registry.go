package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry holds the open sessions of a process by opaque id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	newID    func() string
}

// NewRegistry creates an empty registry issuing random UUIDs.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		newID:    uuid.NewString,
	}
}

// Add registers s and returns its id.
func (r *Registry) Add(s *Session) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.newID()
	r.sessions[id] = s
	return id
}

// Get returns the session registered under id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return s, nil
}

// Remove closes the session registered under id.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Stats returns a snapshot of every session keyed by id, ordered by id.
func (r *Registry) Stats() []IdentifiedStats {
	r.mu.RLock()
	out := make([]IdentifiedStats, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, IdentifiedStats{ID: id, Stats: s.Stats()})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IdentifiedStats pairs session stats with the session id.
type IdentifiedStats struct {
	ID string
	Stats
}
