// Package healthcheck implements periodic health checking for backend servers.
// A Prober sends a bounded GET to each backend's health path, marks it up or
// down, and feeds the measured latency back into the backend's effective
// weight.
package healthcheck
