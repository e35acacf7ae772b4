package nera

import (
	"sort"
	"sync"
)

// Registry holds the list of known sessions and which one is active. Purely
// data; protocol logic lives in the channels and orchestrator.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session
	activeID string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
	}
}

// Upsert inserts or replaces the session with the same id.
func (r *Registry) Upsert(session Session) {
	if session.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
}

// Remove deletes the session. If it was active, the active id moves to the
// most recently updated remaining session, or clears when none remain.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	if r.activeID == id {
		r.activeID = r.mostRecentLocked()
	}
}

// ReplaceAll swaps the full session list. The active id is kept when it still
// references a known session, otherwise reassigned to the most recently
// updated one.
func (r *Registry) ReplaceAll(sessions []Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]Session, len(sessions))
	for _, session := range sessions {
		if session.ID == "" {
			continue
		}
		r.sessions[session.ID] = session
	}
	if _, ok := r.sessions[r.activeID]; !ok {
		r.activeID = r.mostRecentLocked()
	}
}

// SetActive binds the active session id. Ids not present in the registry are
// rejected; an empty id clears the binding.
func (r *Registry) SetActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		r.activeID = ""
		return true
	}
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	r.activeID = id
	return true
}

// ActiveID returns the active session id, or "" when none is bound.
func (r *Registry) ActiveID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[r.activeID]; !ok {
		r.activeID = ""
	}
	return r.activeID
}

// Active returns the active session.
func (r *Registry) Active() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[r.activeID]
	if !ok {
		r.activeID = ""
	}
	return session, ok
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	return session, ok
}

// List returns all sessions, most recently updated first.
func (r *Registry) List() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (r *Registry) mostRecentLocked() string {
	best := ""
	for id, session := range r.sessions {
		if best == "" || session.UpdatedAt.After(r.sessions[best].UpdatedAt) {
			best = id
		}
	}
	return best
}
