package strategy

import (
	"github.com/angeloszaimis/hybrid-lb/internal/backend"
)

// Reason tells which branch of the policy produced a selection.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonAffinity    Reason = "affinity"
	ReasonRoundRobin  Reason = "round_robin"
	ReasonLeastLoaded Reason = "least_loaded"
)

func (r Reason) String() string {
	if r == ReasonNone {
		return "none"
	}
	return string(r)
}

// Strategy picks one backend out of a healthy snapshot. key is the client
// identifier and may be empty. A nil backend is returned only for an empty
// snapshot.
type Strategy interface {
	SelectBackend(backends []*backend.Backend, key string) (*backend.Backend, Reason)
}
