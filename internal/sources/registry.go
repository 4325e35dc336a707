package sources

import (
	"errors"
	"fmt"
	"sync"

	"github.com/helixir/paper-harvester/internal/domain"
)

var (
	// ErrDuplicateSource is returned when an ID is registered twice.
	ErrDuplicateSource = errors.New("duplicate source")

	// ErrSealed is returned when registering after Seal.
	ErrSealed = errors.New("registry sealed")
)

// Registry holds adapters in registration order, which is their priority.
// Registration happens at startup; after Seal the registry is read-only.
type Registry struct {
	mu     sync.RWMutex
	order  []Adapter
	byID   map[domain.SourceID]Adapter
	sealed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[domain.SourceID]Adapter),
	}
}

// Register appends an adapter.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register %s: %w", a.ID(), ErrSealed)
	}
	if _, dup := r.byID[a.ID()]; dup {
		return fmt.Errorf("register %s: %w", a.ID(), ErrDuplicateSource)
	}
	r.byID[a.ID()] = a
	r.order = append(r.order, a)
	return nil
}

// MustRegister is Register that panics on error. For startup wiring only.
func (r *Registry) MustRegister(adapters ...Adapter) {
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
}

// Seal forbids further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Get returns the adapter with the given ID.
func (r *Registry) Get(id domain.SourceID) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	return a, ok
}

// All returns a snapshot of the adapters in priority order.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, len(r.order))
	copy(out, r.order)
	return out
}

// IDs returns the registered IDs in priority order.
func (r *Registry) IDs() []domain.SourceID {
	all := r.All()
	ids := make([]domain.SourceID, len(all))
	for i, a := range all {
		ids[i] = a.ID()
	}
	return ids
}
