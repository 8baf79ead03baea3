// Package strategy implements the hybrid backend selection policy.
//
// A decision blends three classic algorithms over a snapshot of healthy
// backends:
//
//   - Weighted Least Connections: the load of a backend is its ratio of
//     in-flight connections to effective weight; the lowest ratio wins.
//   - IP Hash: a client identifier maps to a fixed backend, which is used
//     whenever its ratio is within the affinity tolerance of the best one.
//   - Round Robin: when several backends are within the tie tolerance of the
//     best ratio, a shared cursor rotates through them.
//
// Strategies never filter by health; callers pass healthy backends only.
package strategy
