package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

type EventType string

const (
	EventRequestReceived   EventType = "request_received"
	EventBackendSelected   EventType = "backend_selected"
	EventResponseCompleted EventType = "response_completed"
	EventProxyError        EventType = "proxy_error"
	EventNoHealthyBackend  EventType = "no_healthy_backend"
	EventHealthChanged     EventType = "health_changed"
	EventProbeCompleted    EventType = "probe_completed"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Backend    string
	Reason     string
	Duration   time.Duration
	StatusCode int
	Healthy    bool
	Success    bool
	Weight     float64
}

type Collector struct {
	eventCh    chan MetricEvent
	metrics    *Metrics
	prometheus *Prometheus
	logger     *slog.Logger
	dropped    atomic.Int64
	done       chan struct{}
}

// Option configures a Collector.
type Option func(*Collector)

// WithPrometheus mirrors every processed event into p.
func WithPrometheus(p *Prometheus) Option {
	return func(c *Collector) {
		c.prometheus = p
	}
}

func NewCollector(bufferSize int, logger *slog.Logger, opts ...Option) *Collector {
	if bufferSize <= 0 {
		bufferSize = 1
	}

	c := &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Emit queues an event without blocking. When the buffer is full the event
// is dropped and counted. A nil Collector discards everything.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the collector has drained its buffer after ctx ends.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")
	defer close(c.done)

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestReceived:
		c.metrics.IncrementRequests(event.Backend)

	case EventBackendSelected:
		c.metrics.RecordBackendSelection(event.Backend, event.Reason)

	case EventResponseCompleted:
		c.metrics.RecordResponse(event.Backend, event.Duration, event.StatusCode)

	case EventProxyError:
		c.metrics.RecordProxyError(event.Backend)

	case EventNoHealthyBackend:
		c.metrics.RecordUnavailable()

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Backend, event.Healthy)

	case EventProbeCompleted:
		c.metrics.RecordProbe(event.Backend, event.Success, event.Duration, event.Weight)

	default:
		c.logger.Debug("Unknown metric event", "type", event.Type)
		return
	}

	c.prometheus.Observe(event)
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot(algorithm string) Snapshot {
	snap := c.metrics.Snapshot(algorithm)
	snap.DroppedEvents = c.Dropped()
	return snap
}
