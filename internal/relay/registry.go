package relay

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry is the authoritative, concurrency-safe mapping of connected
// client IDs to their live sessions. It is the single source of truth
// for who is currently reachable; nothing else caches membership beyond
// the scope of one broadcast snapshot.
type Registry struct {
	// Sessions map protected by RWMutex
	sessions map[string]*Session
	mu       sync.RWMutex

	// Join-order sequence, assigned at registration
	joinSeq atomic.Uint64

	// Metrics
	totalRegistered   atomic.Uint64
	totalDeregistered atomic.Uint64
	peakClients       int

	// Logger
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger.With("component", "registry"),
	}
}

// Register adds a session under its client ID.
// Returns ErrDuplicateID if the ID is already present. IDs are generated
// UUIDs so a collision indicates a programming error; the offending
// registration is rejected rather than corrupting the map.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()

	if _, exists := r.sessions[s.ID]; exists {
		r.mu.Unlock()
		r.logger.Error("duplicate client id rejected", "client_id", s.ID)
		return ErrDuplicateID
	}

	s.joinSeq = r.joinSeq.Add(1)
	r.sessions[s.ID] = s
	r.totalRegistered.Add(1)
	if len(r.sessions) > r.peakClients {
		r.peakClients = len(r.sessions)
	}
	active := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("client registered",
		"client_id", s.ID,
		"name", s.Name,
		"active_clients", active)

	return nil
}

// Deregister removes and returns the session for the given client ID.
// It is idempotent: a second call for the same ID returns ErrNotFound
// without any other effect.
func (r *Registry) Deregister(id string) (*Session, error) {
	r.mu.Lock()
	s, exists := r.sessions[id]
	if !exists {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	delete(r.sessions, id)
	r.totalDeregistered.Add(1)
	active := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("client deregistered",
		"client_id", id,
		"name", s.Name,
		"active_clients", active)

	return s, nil
}

// Get retrieves a session by client ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns a consistent point-in-time view of all registered
// sessions, ordered by join sequence. The returned slice is owned by
// the caller; concurrent Register/Deregister calls do not disturb it.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].joinSeq < out[j].joinSeq
	})
	return out
}

// Names returns the display names of all registered clients in join order.
func (r *Registry) Names() []string {
	snapshot := r.Snapshot()
	names := make([]string, len(snapshot))
	for i, s := range snapshot {
		names[i] = s.Name
	}
	return names
}

// Stats returns aggregated registry statistics.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	active := len(r.sessions)
	peak := r.peakClients
	r.mu.RUnlock()

	return RegistryStats{
		Active:            active,
		TotalRegistered:   r.totalRegistered.Load(),
		TotalDeregistered: r.totalDeregistered.Load(),
		Peak:              peak,
	}
}

// RegistryStats contains aggregated registry statistics.
type RegistryStats struct {
	Active            int
	TotalRegistered   uint64
	TotalDeregistered uint64
	Peak              int
}
