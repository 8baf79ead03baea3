// Package registry holds the fixed, ordered set of backends shared by the
// selection engine, the connection accounting and the health prober.
//
// Membership is decided once by New and never changes afterwards, so the
// registry itself needs no lock; per-backend state is synchronized inside
// backend.Backend.
package registry

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angeloszaimis/hybrid-lb/internal/backend"
)

var (
	ErrNoBackends       = errors.New("registry: no backends")
	ErrDuplicateBackend = errors.New("registry: duplicate backend")
)

// Registry is an ordered collection of backends with unique identifiers.
type Registry struct {
	backends []*backend.Backend
	byID     map[string]*backend.Backend
}

// New builds a registry preserving the given order. Every duplicate
// identifier is reported in the returned error.
func New(backends ...*backend.Backend) (*Registry, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}

	r := &Registry{
		backends: make([]*backend.Backend, 0, len(backends)),
		byID:     make(map[string]*backend.Backend, len(backends)),
	}

	var err error
	for _, b := range backends {
		if _, exists := r.byID[b.ID()]; exists {
			err = multierr.Append(err, fmt.Errorf("%w: %s", ErrDuplicateBackend, b.ID()))
			continue
		}
		r.byID[b.ID()] = b
		r.backends = append(r.backends, b)
	}

	if err != nil {
		return nil, err
	}

	return r, nil
}

// SnapshotHealthy returns the backends currently marked healthy, in registry
// order. The slice is a fresh copy; take a new one for every decision.
func (r *Registry) SnapshotHealthy() []*backend.Backend {
	healthy := make([]*backend.Backend, 0, len(r.backends))

	for _, b := range r.backends {
		if b.IsHealthy() {
			healthy = append(healthy, b)
		}
	}

	return healthy
}

// Get returns the backend with the given identifier.
func (r *Registry) Get(id string) (*backend.Backend, bool) {
	b, ok := r.byID[id]
	return b, ok
}

// All returns every backend in registry order.
func (r *Registry) All() []*backend.Backend {
	all := make([]*backend.Backend, len(r.backends))
	copy(all, r.backends)
	return all
}

// Len returns the number of backends.
func (r *Registry) Len() int {
	return len(r.backends)
}
