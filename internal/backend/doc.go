// Package backend models one upstream server and its mutable runtime state:
// effective weight, in-flight connection count, health and last probe latency.
// Every field is guarded by a per-backend mutex so the selection path, the
// connection accounting and the health prober can share a Backend safely.
package backend
