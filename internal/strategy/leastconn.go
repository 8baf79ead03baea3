package strategy

import (
	"github.com/angeloszaimis/hybrid-lb/internal/backend"
)

// loads reads the connections/weight ratio of every backend exactly once so a
// single decision works on one consistent set of numbers.
func loads(backends []*backend.Backend) []float64 {
	ratios := make([]float64, len(backends))

	for i, b := range backends {
		ratios[i] = b.Ratio()
	}

	return ratios
}

// leastLoaded returns the index and ratio of the least loaded entry.
// Ties go to the first occurrence.
func leastLoaded(ratios []float64) (int, float64) {
	best := 0
	bestRatio := ratios[0]

	for i, ratio := range ratios[1:] {
		if ratio < bestRatio {
			best = i + 1
			bestRatio = ratio
		}
	}

	return best, bestRatio
}

// nearTied returns, in order, the indices whose ratio does not exceed limit.
func nearTied(ratios []float64, limit float64) []int {
	var tied []int

	for i, ratio := range ratios {
		if ratio <= limit {
			tied = append(tied, i)
		}
	}

	return tied
}
