// Package logger builds the structured slog loggers used across the load
// balancer: one process logger from the configured level and environment,
// and per-component children of it.
package logger
