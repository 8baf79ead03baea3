package main

import (
	"math"
	"slices"
	"time"
)

const unknownBackend = "(unknown)"

// Sample is the outcome of a single request.
type Sample struct {
	Index    int
	At       time.Time
	Backend  string
	Status   int
	Duration time.Duration
	Err      error
}

func (s Sample) ok() bool {
	return s.Err == nil && s.Status >= 200 && s.Status <= 299
}

type BackendSummary struct {
	Total   int     `json:"total"`
	Success int     `json:"success"`
	Failure int     `json:"failure"`
	Min     float64 `json:"min_ms"`
	Avg     float64 `json:"avg_ms"`
	Max     float64 `json:"max_ms"`
	P50     float64 `json:"p50_ms"`
	P90     float64 `json:"p90_ms"`
	P95     float64 `json:"p95_ms"`
	P99     float64 `json:"p99_ms"`
}

// Efficiency grades a run on a 0-10 scale. Score weighs latency 40%,
// throughput 30%, uniformity 20% and the inverse error rate 10%.
type Efficiency struct {
	Latency    float64 `json:"latency"`
	Throughput float64 `json:"throughput"`
	Uniformity float64 `json:"uniformity"`
	ErrorRate  float64 `json:"error_rate"`
	Score      float64 `json:"score"`
}

type Summary struct {
	Target        string                    `json:"target"`
	Requests      int                       `json:"requests"`
	Concurrency   int                       `json:"concurrency"`
	TotalSent     int                       `json:"total_sent"`
	Success       int                       `json:"success"`
	Failure       int                       `json:"failure"`
	DurationMs    int64                     `json:"duration_ms"`
	ThroughputRPS float64                   `json:"throughput_rps"`
	Latency       BackendSummary            `json:"latency"`
	StatusCodes   map[int]int               `json:"status_codes"`
	Backends      map[string]BackendSummary `json:"backends"`
	Efficiency    Efficiency                `json:"efficiency"`
}

// Summarize folds samples into a Summary. Requests that never reached the
// balancer count as failures but not towards any backend.
func Summarize(samples []Sample, elapsed time.Duration) Summary {
	s := Summary{
		TotalSent:   len(samples),
		StatusCodes: make(map[int]int),
		Backends:    make(map[string]BackendSummary),
	}

	all := make([]time.Duration, 0, len(samples))
	perBackend := make(map[string][]Sample)
	var okTotal time.Duration

	for _, sm := range samples {
		all = append(all, sm.Duration)
		if sm.ok() {
			s.Success++
			okTotal += sm.Duration
		} else {
			s.Failure++
		}
		if sm.Err != nil {
			continue
		}
		s.StatusCodes[sm.Status]++
		name := sm.Backend
		if name == "" {
			name = unknownBackend
		}
		perBackend[name] = append(perBackend[name], sm)
	}

	s.Latency = latencySummary(all)
	s.Latency.Total = s.TotalSent
	s.Latency.Success = s.Success
	s.Latency.Failure = s.Failure

	counts := make([]int, 0, len(perBackend))
	for name, group := range perBackend {
		durations := make([]time.Duration, len(group))
		var ok int
		for i, sm := range group {
			durations[i] = sm.Duration
			if sm.ok() {
				ok++
			}
		}
		bs := latencySummary(durations)
		bs.Total = len(group)
		bs.Success = ok
		bs.Failure = len(group) - ok
		s.Backends[name] = bs
		if name != unknownBackend {
			counts = append(counts, len(group))
		}
	}

	s.DurationMs = elapsed.Milliseconds()
	if elapsed > 0 {
		s.ThroughputRPS = float64(s.TotalSent) / elapsed.Seconds()
	}

	var errorRate float64
	if s.TotalSent > 0 {
		errorRate = float64(s.Failure) / float64(s.TotalSent) * 10
	}
	// only successful requests count towards the latency grade
	var avg time.Duration
	if s.Success > 0 {
		avg = okTotal / time.Duration(s.Success)
	}
	s.Efficiency = Efficiency{
		Latency:    LatencyScore(avg),
		Throughput: ThroughputScore(s.ThroughputRPS),
		Uniformity: UniformityScore(counts),
		ErrorRate:  errorRate,
	}
	s.Efficiency.Score = EfficiencyScore(s.Efficiency)

	return s
}

func latencySummary(durations []time.Duration) BackendSummary {
	var bs BackendSummary
	if len(durations) == 0 {
		return bs
	}

	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	bs.Min = ms(sorted[0])
	bs.Max = ms(sorted[len(sorted)-1])
	bs.Avg = ms(sum / time.Duration(len(sorted)))
	bs.P50 = ms(percentile(sorted, 0.50))
	bs.P90 = ms(percentile(sorted, 0.90))
	bs.P95 = ms(percentile(sorted, 0.95))
	bs.P99 = ms(percentile(sorted, 0.99))
	return bs
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[max(0, min(idx, len(sorted)-1))]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

func LatencyScore(avg time.Duration) float64 {
	switch {
	case avg > time.Second:
		return 2
	case avg > 500*time.Millisecond:
		return 5
	case avg > 200*time.Millisecond:
		return 7
	default:
		return 10
	}
}

func ThroughputScore(rps float64) float64 {
	switch {
	case rps < 50:
		return 3
	case rps < 100:
		return 5
	case rps < 200:
		return 7
	default:
		return 10
	}
}

// UniformityScore is 10 for a perfectly even spread of requests and falls
// with the coefficient of variation of the per-backend counts.
func UniformityScore(counts []int) float64 {
	if len(counts) == 0 {
		return 0
	}

	var sum float64
	for _, c := range counts {
		sum += float64(c)
	}
	mean := sum / float64(len(counts))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, c := range counts {
		d := float64(c) - mean
		variance += d * d
	}
	cv := math.Sqrt(variance/float64(len(counts))) / mean

	return 10 * math.Max(0, 1-cv)
}

func EfficiencyScore(e Efficiency) float64 {
	return 0.4*e.Latency + 0.3*e.Throughput + 0.2*e.Uniformity + 0.1*(10-e.ErrorRate)
}
