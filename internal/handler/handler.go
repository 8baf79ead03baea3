package handler

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/hybrid-lb/internal/loadbalancer"
	"github.com/angeloszaimis/hybrid-lb/internal/metrics"
	"github.com/angeloszaimis/hybrid-lb/internal/proxy"
)

const (
	HeaderBackendServer = "X-Backend-Server"
	HeaderRequestID     = "X-Request-ID"
	HeaderForwardedFor  = "X-Forwarded-For"
)

type LoadBalancerHandler struct {
	logger           *slog.Logger
	balancer         *loadbalancer.LoadBalancer
	forwarder        proxy.Forwarder
	metricsCollector *metrics.Collector
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func NewLoadBalancerHandler(
	logger *slog.Logger,
	lb *loadbalancer.LoadBalancer,
	forwarder proxy.Forwarder,
	collector *metrics.Collector,
) *LoadBalancerHandler {
	return &LoadBalancerHandler{
		logger:           logger,
		balancer:         lb,
		forwarder:        forwarder,
		metricsCollector: collector,
	}
}

func (lb *LoadBalancerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := extractClientIP(r)

	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
		r.Header.Set(HeaderRequestID, requestID)
	}
	w.Header().Set(HeaderRequestID, requestID)

	log := lb.logger.With(slog.String("request_id", requestID))

	log.Debug("Received request",
		slog.String("from", clientIP),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("proto", r.Proto),
		slog.String("host", r.Host),
		slog.String("user_agent", r.UserAgent()))

	reservation, err := lb.balancer.GetAndReserveServer(clientIP)
	if err != nil {
		log.Warn("No healthy backends available",
			slog.String("client", clientIP),
			slog.String("error", err.Error()))
		lb.metricsCollector.Emit(metrics.MetricEvent{Type: metrics.EventNoHealthyBackend})
		http.Error(w, "No healthy server available", http.StatusServiceUnavailable)
		return
	}
	defer reservation.Release()

	target := reservation.Backend
	start := time.Now()

	lb.metricsCollector.Emit(metrics.MetricEvent{
		Type:    metrics.EventRequestReceived,
		Backend: target.ID(),
	})
	lb.metricsCollector.Emit(metrics.MetricEvent{
		Type:    metrics.EventBackendSelected,
		Backend: target.ID(),
		Reason:  reservation.Reason.String(),
	})

	log.Debug("Forwarding to backend",
		slog.String("client", clientIP),
		slog.String("backend", target.ID()),
		slog.String("reason", reservation.Reason.String()))

	w.Header().Set(HeaderBackendServer, target.ID())

	wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	if err := lb.forwarder.Forward(wrapped, r, target.URL()); err != nil {
		if r.Context().Err() != nil {
			log.Debug("Client went away before the backend answered",
				slog.String("backend", target.ID()),
				slog.String("error", err.Error()))
		} else {
			log.Warn("Proxy error",
				slog.String("client", clientIP),
				slog.String("backend", target.ID()),
				slog.String("error", err.Error()))
		}
		lb.metricsCollector.Emit(metrics.MetricEvent{
			Type:    metrics.EventProxyError,
			Backend: target.ID(),
		})
	}

	lb.metricsCollector.Emit(metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		Backend:    target.ID(),
		Duration:   time.Since(start),
		StatusCode: wrapped.statusCode,
	})
}

// extractClientIP returns the first X-Forwarded-For entry, else the host
// part of the remote address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get(HeaderForwardedFor); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets streamed responses through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
