package backend

import (
	"math"
	"net/url"
	"sync"
	"time"
)

// latencyCalibration is the latency, in milliseconds, at which the effective
// weight roughly equals the base weight.
const latencyCalibration = 100.0

// MinWeight is the floor for every effective weight.
const MinWeight = 1.0

// Backend represents a backend server with health status, connection tracking,
// and a latency-adjusted weight.
type Backend struct {
	url        *url.URL
	id         string
	baseWeight int

	mutex             sync.Mutex
	weight            float64
	activeConnections int
	isHealthy         bool
	lastLatency       time.Duration
	hasLatency        bool
}

// State is a consistent copy of a backend's fields taken under its lock.
type State struct {
	ID                string        `json:"id"`
	BaseWeight        int           `json:"base_weight"`
	Weight            float64       `json:"weight"`
	ActiveConnections int           `json:"active_connections"`
	Healthy           bool          `json:"healthy"`
	LastLatency       time.Duration `json:"last_latency"`
	HasLatency        bool          `json:"has_latency"`
}

// New creates a new Backend with the given URL and configured weight.
// The backend starts healthy with its effective weight equal to the base
// weight, so it can serve traffic before the first probe completes.
func New(u *url.URL, baseWeight int) *Backend {
	return &Backend{
		url:        u,
		id:         u.String(),
		baseWeight: baseWeight,
		weight:     math.Max(MinWeight, float64(baseWeight)),
		isHealthy:  true,
	}
}

// ID returns the stable identifier of the backend (its URL string).
func (b *Backend) ID() string {
	return b.id
}

// URL returns the backend server URL.
func (b *Backend) URL() *url.URL {
	return b.url
}

// BaseWeight returns the configured nominal weight.
func (b *Backend) BaseWeight() int {
	return b.baseWeight
}

// Weight returns the current effective weight. It is never below MinWeight.
func (b *Backend) Weight() float64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.weight
}

// IncrementConn increments the active connection count.
func (b *Backend) IncrementConn() {
	b.mutex.Lock()
	b.activeConnections++
	b.mutex.Unlock()
}

// DecrementConn decrements the active connection count, never below zero.
func (b *Backend) DecrementConn() {
	b.mutex.Lock()
	if b.activeConnections > 0 {
		b.activeConnections--
	}
	b.mutex.Unlock()
}

// ActiveConnections returns the current number of active connections.
func (b *Backend) ActiveConnections() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.activeConnections
}

// Ratio returns active connections divided by effective weight.
// Lower is less loaded.
func (b *Backend) Ratio() float64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return float64(b.activeConnections) / b.weight
}

// IsHealthy returns true if the backend is eligible for selection.
func (b *Backend) IsHealthy() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.isHealthy
}

// SetHealthy updates the backend's health status.
// Returns true if the status changed, false if it was already in that state.
func (b *Backend) SetHealthy(healthy bool) (changed bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.isHealthy == healthy {
		return false
	}

	b.isHealthy = healthy
	return true
}

// RecordProbe stores the latency of a successful probe and recomputes the
// effective weight from it. The new weight is returned.
func (b *Backend) RecordProbe(latency time.Duration) float64 {
	weight := EffectiveWeight(b.baseWeight, latency)

	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.lastLatency = latency
	b.hasLatency = true
	b.weight = weight

	return weight
}

// LastLatency returns the latency of the most recent successful probe.
// ok is false until a probe has succeeded.
func (b *Backend) LastLatency() (latency time.Duration, ok bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.lastLatency, b.hasLatency
}

// State returns a snapshot of every field of the backend.
func (b *Backend) State() State {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return State{
		ID:                b.id,
		BaseWeight:        b.baseWeight,
		Weight:            b.weight,
		ActiveConnections: b.activeConnections,
		Healthy:           b.isHealthy,
		LastLatency:       b.lastLatency,
		HasLatency:        b.hasLatency,
	}
}

// EffectiveWeight derives a weight from a base weight and a probe latency:
// base * 100 / (latencyMs + 1), clamped to MinWeight. Lower latency yields a
// higher weight; around 100ms the result is close to base.
func EffectiveWeight(baseWeight int, latency time.Duration) float64 {
	ms := float64(latency) / float64(time.Millisecond)
	if ms < 0 {
		ms = 0
	}

	weight := float64(baseWeight) * (latencyCalibration / (ms + 1))

	return math.Max(MinWeight, weight)
}
