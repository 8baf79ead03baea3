package metrics

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// maxSamples bounds the response time window kept per backend.
const maxSamples = 1000

// Metrics aggregates events per backend for the JSON stats view.
type Metrics struct {
	mutex       sync.RWMutex
	backends    map[string]*backendStats
	unavailable int64
	startTime   time.Time
}

type backendStats struct {
	requests    int64
	byReason    map[string]int64
	statusCodes map[int]int64
	proxyErrors int64
	healthy     bool

	probeOK      int64
	probeFailed  int64
	probeLatency time.Duration
	weight       float64

	// ring of the last maxSamples response times
	window []time.Duration
	next   int
}

func (bs *backendStats) observe(d time.Duration) {
	if len(bs.window) < maxSamples {
		bs.window = append(bs.window, d)
		return
	}
	bs.window[bs.next] = d
	bs.next = (bs.next + 1) % maxSamples
}

type Snapshot struct {
	TotalRequests int64                     `json:"total_requests"`
	Unavailable   int64                     `json:"unavailable"`
	DroppedEvents int64                     `json:"dropped_events"`
	Uptime        time.Duration             `json:"uptime"`
	Backends      map[string]BackendMetrics `json:"backends"`
	Algorithm     string                    `json:"algorithm"`
}

type BackendMetrics struct {
	Requests      int64            `json:"requests"`
	Selections    int64            `json:"selections"`
	ByReason      map[string]int64 `json:"selections_by_reason,omitempty"`
	ProxyErrors   int64            `json:"proxy_errors"`
	Healthy       bool             `json:"healthy"`
	Weight        float64          `json:"weight"`
	ProbeLatency  time.Duration    `json:"probe_latency"`
	ProbeFailures int64            `json:"probe_failures"`
	AvgResponse   time.Duration    `json:"avg_response"`
	P50Response   time.Duration    `json:"p50_response"`
	P95Response   time.Duration    `json:"p95_response"`
	P99Response   time.Duration    `json:"p99_response"`
	StatusCodes   map[int]int64    `json:"status_codes"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		backends:  make(map[string]*backendStats),
		startTime: time.Now(),
	}
}

// backend returns the stats entry for name, creating it. Callers hold the
// write lock.
func (m *Metrics) backend(name string) *backendStats {
	bs, ok := m.backends[name]
	if !ok {
		bs = &backendStats{
			byReason:    make(map[string]int64),
			statusCodes: make(map[int]int64),
		}
		m.backends[name] = bs
	}
	return bs
}

func (m *Metrics) IncrementRequests(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.backend(backend).requests++
}

func (m *Metrics) RecordBackendSelection(backend, reason string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.backend(backend).byReason[reason]++
}

func (m *Metrics) RecordResponse(backend string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	bs := m.backend(backend)
	bs.observe(duration)
	bs.statusCodes[statusCode]++
}

func (m *Metrics) RecordProxyError(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.backend(backend).proxyErrors++
}

// RecordUnavailable counts a request rejected because no backend was healthy.
func (m *Metrics) RecordUnavailable() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.unavailable++
}

func (m *Metrics) UpdateHealthStatus(backend string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.backend(backend).healthy = healthy
}

// RecordProbe stores the outcome of one health probe. Latency and weight
// are kept only for successful probes.
func (m *Metrics) RecordProbe(backend string, success bool, latency time.Duration, weight float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	bs := m.backend(backend)
	if !success {
		bs.probeFailed++
		return
	}
	bs.probeOK++
	bs.probeLatency = latency
	bs.weight = weight
}

func (m *Metrics) Snapshot(algorithm string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Algorithm:   algorithm,
		Unavailable: m.unavailable,
		Uptime:      time.Since(m.startTime),
		Backends:    make(map[string]BackendMetrics, len(m.backends)),
	}

	for name, bs := range m.backends {
		snap.TotalRequests += bs.requests
		snap.Backends[name] = bs.export()
	}

	return snap
}

func (bs *backendStats) export() BackendMetrics {
	out := BackendMetrics{
		Requests:      bs.requests,
		ProxyErrors:   bs.proxyErrors,
		Healthy:       bs.healthy,
		Weight:        bs.weight,
		ProbeLatency:  bs.probeLatency,
		ProbeFailures: bs.probeFailed,
	}

	if len(bs.statusCodes) > 0 {
		out.StatusCodes = maps.Clone(bs.statusCodes)
	}
	if len(bs.byReason) > 0 {
		out.ByReason = maps.Clone(bs.byReason)
		for _, n := range bs.byReason {
			out.Selections += n
		}
	}

	if len(bs.window) > 0 {
		sorted := slices.Clone(bs.window)
		slices.Sort(sorted)

		var sum time.Duration
		for _, d := range sorted {
			sum += d
		}
		out.AvgResponse = sum / time.Duration(len(sorted))
		out.P50Response = nearestRank(sorted, 50)
		out.P95Response = nearestRank(sorted, 95)
		out.P99Response = nearestRank(sorted, 99)
	}

	return out
}

// nearestRank expects sorted, non-empty input.
func nearestRank(sorted []time.Duration, pct int) time.Duration {
	rank := (pct*len(sorted) + 99) / 100
	return sorted[max(rank-1, 0)]
}
