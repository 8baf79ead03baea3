package loadbalancer

import (
	"errors"
	"fmt"

	"github.com/angeloszaimis/hybrid-lb/internal/backend"
	"github.com/angeloszaimis/hybrid-lb/internal/registry"
	"github.com/angeloszaimis/hybrid-lb/internal/strategy"
)

var ErrNoHealthyBackend = errors.New("no healthy backend available")

// Selection is the outcome of one routing decision.
type Selection struct {
	Backend *backend.Backend
	Reason  strategy.Reason
}

type LoadBalancer struct {
	registry *registry.Registry
	strategy strategy.Strategy
}

func NewLoadBalancer(reg *registry.Registry, strategy strategy.Strategy) *LoadBalancer {
	return &LoadBalancer{
		registry: reg,
		strategy: strategy,
	}
}

// Select snapshots the healthy backends and asks the strategy for one of
// them. It fails only with ErrNoHealthyBackend.
func (lb *LoadBalancer) Select(clientID string) (Selection, error) {
	healthy := lb.registry.SnapshotHealthy()
	if len(healthy) == 0 {
		return Selection{}, ErrNoHealthyBackend
	}

	chosen, reason := lb.strategy.SelectBackend(healthy, clientID)
	if chosen == nil {
		return Selection{}, fmt.Errorf("%w: strategy returned nil backend", ErrNoHealthyBackend)
	}

	return Selection{Backend: chosen, Reason: reason}, nil
}

// GetAndReserveServer selects a backend for clientID and acquires a
// connection slot on it. The caller must Release the reservation.
func (lb *LoadBalancer) GetAndReserveServer(clientID string) (*Reservation, error) {
	sel, err := lb.Select(clientID)
	if err != nil {
		return nil, err
	}

	Acquire(sel.Backend)

	return &Reservation{Selection: sel}, nil
}
