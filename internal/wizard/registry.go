package wizard

import (
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/ayo6706/branch-transactions/internal/observability"
	"github.com/jonboulle/clockwork"
)

var ErrSessionNotFound = fmt.Errorf("wizard session not found: %w", models.ErrNotFound)

// Registry maps session ids to live sequencers, scoped to the owning user.
type Registry struct {
	ttl   time.Duration
	clock clockwork.Clock

	mu       sync.Mutex
	sessions map[string]*Sequencer
}

func NewRegistry(ttl time.Duration, clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{ttl: ttl, clock: clock, sessions: map[string]*Sequencer{}}
}

func (r *Registry) Add(s *Sequencer) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	n := len(r.sessions)
	r.mu.Unlock()
	observability.SetActiveSessions(n)
}

// Get hides sessions owned by someone else behind the same not-found error.
func (r *Registry) Get(id, owner string) (*Sequencer, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok || s.Owner() != owner {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (r *Registry) Remove(id, owner string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok || s.Owner() != owner {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	s.Close()
	observability.SetActiveSessions(n)
	return nil
}

// Sweep closes sessions idle for longer than the TTL and returns how many it closed.
func (r *Registry) Sweep() int {
	cutoff := r.clock.Now().Add(-r.ttl)

	r.mu.Lock()
	var stale []*Sequencer
	for id, s := range r.sessions {
		if s.LastActive().Before(cutoff) || s.Closed() {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	observability.SetActiveSessions(n)
	return len(stale)
}

// CloseAll releases every session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = map[string]*Sequencer{}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	observability.SetActiveSessions(0)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
