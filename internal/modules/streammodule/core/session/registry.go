package session

import (
	"sort"
	"sync"

	streamerrors "github.com/mantonx/rtsphls/internal/modules/streammodule/errors"
)

// Registry maps session ids to live sessions. It is the single source of
// truth for which workers the supervisor owns. Sessions must be fully built
// before Insert so readers never observe a partial session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Insert adds a session, failing if the id is already present
func (r *Registry) Insert(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID]; exists {
		return streamerrors.DuplicateID("insert", s.ID)
	}
	r.sessions[s.ID] = s
	return nil
}

// Get looks up a session
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, streamerrors.NotFound("get", id)
	}
	return s, nil
}

// Remove deletes and returns a session. Exactly one concurrent caller wins.
func (r *Registry) Remove(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, streamerrors.NotFound("remove", id)
	}
	delete(r.sessions, id)
	return s, nil
}

// List returns the sessions ordered by creation time
func (r *Registry) List() []*Session {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// Len returns the number of tracked sessions, failed ones included
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
