package consistency

import (
	"sync"

	"github.com/google/uuid"

	"demoforge/internal/domain"
)

// Registry maps session IDs to their stores. Sessions are created on
// demand and live for the process lifetime; persistence is handled by
// the snapshot repositories, not here.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]*Store
}

func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]*Store)}
}

// Create opens a new session and returns its ID.
func (r *Registry) Create() string {
	id := uuid.NewString()
	r.mu.Lock()
	r.stores[id] = NewStore(id)
	r.mu.Unlock()
	return id
}

// Get returns the store for a session, or domain.ErrNotFound.
func (r *Registry) Get(sessionID string) (*Store, error) {
	r.mu.RLock()
	store, ok := r.stores[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return store, nil
}

// Put registers a restored store under its session ID.
func (r *Registry) Put(store *Store) {
	state := store.Snapshot()
	r.mu.Lock()
	r.stores[state.SessionID] = store
	r.mu.Unlock()
}
