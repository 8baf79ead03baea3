// Backend is a demo upstream server for trying out the load balancer.
// It serves /health and / and can be slowed down or made to fail its health
// check.
//
// Usage:
//
//	go run ./cmd/backend -port 3001
//	PORT=3002 go run ./cmd/backend -latency 80ms
//	go run ./cmd/backend -port 3003 -fail-health
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/hybrid-lb/internal/httpserver"
	"github.com/angeloszaimis/hybrid-lb/pkg/logger"
)

type options struct {
	port       int
	latency    time.Duration
	failHealth bool
}

type demoBackend struct {
	opts     options
	log      *slog.Logger
	served   atomic.Int64
	healthOK atomic.Bool
}

func newDemoBackend(opts options, log *slog.Logger) *demoBackend {
	b := &demoBackend{opts: opts, log: log}
	b.healthOK.Store(!opts.failHealth)
	return b
}

func (b *demoBackend) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", b.health)
	mux.HandleFunc("POST /health/toggle", b.toggleHealth)
	mux.HandleFunc("/", b.root)
	return mux
}

func (b *demoBackend) health(w http.ResponseWriter, r *http.Request) {
	if !b.healthOK.Load() {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// toggleHealth flips the health answer so failover can be watched live.
func (b *demoBackend) toggleHealth(w http.ResponseWriter, r *http.Request) {
	now := !b.healthOK.Load()
	b.healthOK.Store(now)
	b.log.Info("Health toggled", slog.Bool("healthy", now))
	_, _ = w.Write([]byte(strconv.FormatBool(now)))
}

func (b *demoBackend) root(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if b.opts.latency > 0 {
		select {
		case <-time.After(b.opts.latency):
		case <-r.Context().Done():
			return
		}
	}

	n := b.served.Add(1)
	b.log.Debug("request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("from", r.Header.Get("X-Forwarded-For")),
		slog.String("request_id", requestID),
		slog.Int64("served", n))

	w.Header().Set("X-Request-ID", requestID)
	_, _ = fmt.Fprintf(w, "Response from backend server on port %d", b.opts.port)
}

func defaultPort() int {
	if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && p > 0 {
		return p
	}
	return 3001
}

func main() {
	var opts options
	flag.IntVar(&opts.port, "port", defaultPort(), "port to listen on (env PORT)")
	flag.DurationVar(&opts.latency, "latency", 0, "artificial delay added to every / response")
	flag.BoolVar(&opts.failHealth, "fail-health", false, "answer /health with 503")
	level := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	log := logger.New(*level, false, "dev").With(slog.Int("port", opts.port))
	b := newDemoBackend(opts, log)

	srv, err := httpserver.New(fmt.Sprintf(":%d", opts.port), b.routes(), httpserver.DefaultOptions())
	if err != nil {
		log.Error("invalid listen address", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("shutdown failed", slog.Any("err", err))
		}
	}()

	log.Info("Backend server running", slog.Duration("latency", opts.latency), slog.Bool("fail_health", opts.failHealth))
	if err := srv.Start(); err != nil {
		log.Error("server failed", slog.Any("err", err))
		os.Exit(1)
	}
}
