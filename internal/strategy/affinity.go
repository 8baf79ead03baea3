package strategy

import (
	"github.com/cespare/xxhash/v2"
)

// HashKey returns a stable 64-bit digest of a client identifier.
func HashKey(key string) uint64 {
	return xxhash.Sum64String(key)
}

// AffinityIndex maps a client identifier onto one of n slots.
// n must be positive.
func AffinityIndex(key string, n int) int {
	return int(HashKey(key) % uint64(n))
}
