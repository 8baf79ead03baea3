package strategy

import (
	"github.com/angeloszaimis/hybrid-lb/internal/backend"
)

// Name identifies the hybrid policy in metrics and logs.
const Name = "hybrid"

const (
	// DefaultAffinityTolerance lets sticky routing cost at most 20% extra
	// load ratio compared to the optimum.
	DefaultAffinityTolerance = 1.2
	// DefaultTieTolerance treats ratios within 10% of the optimum as tied.
	DefaultTieTolerance = 1.1
)

// HybridOptions configures NewHybridStrategy. Zero values select defaults.
type HybridOptions struct {
	AffinityTolerance float64
	TieTolerance      float64
	Cursor            *Cursor
}

// Hybrid combines weighted least connections, client affinity and
// round-robin tie breaking.
type Hybrid struct {
	affinityTolerance float64
	tieTolerance      float64
	cursor            *Cursor
}

func NewHybridStrategy(opts HybridOptions) *Hybrid {
	if opts.AffinityTolerance <= 0 {
		opts.AffinityTolerance = DefaultAffinityTolerance
	}
	if opts.TieTolerance <= 0 {
		opts.TieTolerance = DefaultTieTolerance
	}
	if opts.Cursor == nil {
		opts.Cursor = NewCursor()
	}

	return &Hybrid{
		affinityTolerance: opts.AffinityTolerance,
		tieTolerance:      opts.TieTolerance,
		cursor:            opts.Cursor,
	}
}

// SelectBackend runs one decision:
//  1. find the least loaded backend (best ratio);
//  2. if key is set and its hashed backend is within the affinity tolerance
//     of the best ratio, return it;
//  3. if several backends are within the tie tolerance, rotate among them;
//  4. otherwise return the least loaded backend.
func (h *Hybrid) SelectBackend(backends []*backend.Backend, key string) (*backend.Backend, Reason) {
	if len(backends) == 0 {
		return nil, ReasonNone
	}

	ratios := loads(backends)
	best, bestRatio := leastLoaded(ratios)

	if key != "" {
		candidate := AffinityIndex(key, len(backends))
		if ratios[candidate] <= bestRatio*h.affinityTolerance {
			return backends[candidate], ReasonAffinity
		}
	}

	tied := nearTied(ratios, bestRatio*h.tieTolerance)
	if len(tied) > 1 {
		return backends[tied[h.cursor.Next(len(tied))]], ReasonRoundRobin
	}

	return backends[best], ReasonLeastLoaded
}

// AffinityTolerance returns the configured affinity multiplier.
func (h *Hybrid) AffinityTolerance() float64 {
	return h.affinityTolerance
}

// TieTolerance returns the configured tie multiplier.
func (h *Hybrid) TieTolerance() float64 {
	return h.tieTolerance
}
