// Package handler implements the dispatcher: the HTTP handler that picks a
// backend for each request, holds a connection slot on it for the length of
// the exchange and relays the request through a proxy.Forwarder.
//
// Status codes produced here are 503 when no backend is healthy and 502 when
// the chosen backend cannot be reached. Every other response is the
// backend's own.
package handler
