package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"
)

// ErrTransport wraps any failure to obtain a response from a backend.
var ErrTransport = errors.New("backend transport error")

// Forwarder relays one request to a chosen target and writes the response.
// A returned error wraps ErrTransport; a 502 has already been written.
type Forwarder interface {
	Forward(w http.ResponseWriter, r *http.Request, target *url.URL) error
}

type Options struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxIdleConns:        10000,
		MaxIdleConnsPerHost: 1024,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         5 * time.Second,
	}
}

// ReverseProxy forwards through one shared, pooled transport and keeps one
// httputil.ReverseProxy per target.
type ReverseProxy struct {
	transport *http.Transport
	logger    *slog.Logger

	mutex   sync.RWMutex
	proxies map[string]*httputil.ReverseProxy
}

type errorHolderKey struct{}

type errorHolder struct {
	err error
}

func NewReverseProxy(opts Options, logger *slog.Logger) *ReverseProxy {
	dialer := &net.Dialer{
		Timeout:   opts.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	return &ReverseProxy{
		transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          opts.MaxIdleConns,
			MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
			IdleConnTimeout:       opts.IdleConnTimeout,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		logger:  logger,
		proxies: make(map[string]*httputil.ReverseProxy),
	}
}

func (p *ReverseProxy) Forward(w http.ResponseWriter, r *http.Request, target *url.URL) error {
	holder := &errorHolder{}
	r = r.WithContext(context.WithValue(r.Context(), errorHolderKey{}, holder))

	p.proxyFor(target).ServeHTTP(w, r)

	if holder.err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransport, target.Host, holder.err)
	}
	return nil
}

// Targets returns how many per-target proxies have been built.
func (p *ReverseProxy) Targets() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return len(p.proxies)
}

// Close releases idle upstream connections.
func (p *ReverseProxy) Close() {
	p.transport.CloseIdleConnections()
}

func (p *ReverseProxy) proxyFor(target *url.URL) *httputil.ReverseProxy {
	key := target.String()

	p.mutex.RLock()
	rp, ok := p.proxies[key]
	p.mutex.RUnlock()
	if ok {
		return rp
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if rp, ok = p.proxies[key]; ok {
		return rp
	}

	rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport:    p.transport,
		ErrorLog:     slog.NewLogLogger(p.logger.Handler(), slog.LevelWarn),
		ErrorHandler: recordError,
	}
	p.proxies[key] = rp

	return rp
}

func recordError(w http.ResponseWriter, r *http.Request, err error) {
	if holder, ok := r.Context().Value(errorHolderKey{}).(*errorHolder); ok {
		holder.err = err
	}
	w.WriteHeader(http.StatusBadGateway)
}
