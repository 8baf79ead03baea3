// Package metrics collects load balancer metrics off the request path.
//
// Events are queued on a buffered channel with Emit, which never blocks: a
// full buffer drops the event and counts it. A single goroutine applies them
// to an in-memory store, served as JSON by Collector.Handler, and mirrors
// them into a Prometheus registry when one is attached:
//
//	prom := metrics.NewPrometheus(metrics.DefaultNamespace)
//	prom.MustRegister(metrics.NewBackendCollector(metrics.DefaultNamespace, reg))
//
//	collector := metrics.NewCollector(1024, logger, metrics.WithPrometheus(prom))
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventResponseCompleted,
//		Backend:    "http://localhost:5001",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
// BackendCollector reads weights, connection counts and health straight from
// the registry at scrape time, so those gauges never lag behind the events.
// When ctx is cancelled the collector drains whatever is still buffered and
// closes Done.
package metrics
