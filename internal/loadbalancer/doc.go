// Package loadbalancer ties the backend registry to a selection strategy and
// owns connection accounting: every request that is handed a backend holds a
// Reservation and must release it exactly once when the exchange ends.
package loadbalancer
