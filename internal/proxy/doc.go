// Package proxy relays requests to backend servers.
//
// All targets share one http.Transport sized for many concurrent upstream
// connections. A transport failure is answered with 502 Bad Gateway and
// reported to the caller as an error wrapping ErrTransport; it never touches
// backend health.
package proxy
