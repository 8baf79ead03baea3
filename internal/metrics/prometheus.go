package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "hybridlb"

// Prometheus holds the exported counters and histograms of the balancer.
type Prometheus struct {
	requestsTotal    *prometheus.CounterVec
	selectionsTotal  *prometheus.CounterVec
	responsesTotal   *prometheus.CounterVec
	responseDuration *prometheus.HistogramVec
	proxyErrorsTotal *prometheus.CounterVec
	unavailableTotal prometheus.Counter
	probesTotal      *prometheus.CounterVec
	probeLatency     *prometheus.HistogramVec

	registry *prometheus.Registry
}

// PrometheusOption is a functional option for configuring Prometheus.
type PrometheusOption func(*Prometheus)

// WithRegistry sets a custom Prometheus registry.
func WithRegistry(registry *prometheus.Registry) PrometheusOption {
	return func(p *Prometheus) {
		p.registry = registry
	}
}

func NewPrometheus(namespace string, opts ...PrometheusOption) *Prometheus {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	p := &Prometheus{}
	for _, opt := range opts {
		opt(p)
	}

	if p.registry == nil {
		p.registry = prometheus.NewRegistry()
	}

	p.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of requests dispatched per backend",
		},
		[]string{"backend"},
	)

	p.selectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_total",
			Help:      "Total number of backend selections by selection reason",
		},
		[]string{"backend", "reason"},
	)

	p.responsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Total number of completed responses by status code",
		},
		[]string{"backend", "code"},
	)

	p.responseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_duration_seconds",
			Help:      "Time from selection to the end of the proxied response",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	p.proxyErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_errors_total",
			Help:      "Total number of transport failures while proxying",
		},
		[]string{"backend"},
	)

	p.unavailableTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unavailable_total",
			Help:      "Total number of requests rejected with no healthy backend",
		},
	)

	p.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Total number of health probes by result",
		},
		[]string{"backend", "result"},
	)

	p.probeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_latency_seconds",
			Help:      "Latency of successful health probes",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"backend"},
	)

	p.registry.MustRegister(
		p.requestsTotal,
		p.selectionsTotal,
		p.responsesTotal,
		p.responseDuration,
		p.proxyErrorsTotal,
		p.unavailableTotal,
		p.probesTotal,
		p.probeLatency,
	)

	return p
}

// MustRegister adds extra collectors, such as a BackendCollector.
func (p *Prometheus) MustRegister(cs ...prometheus.Collector) {
	p.registry.MustRegister(cs...)
}

// Observe translates one event into metric updates. Safe on a nil receiver.
func (p *Prometheus) Observe(event MetricEvent) {
	if p == nil {
		return
	}

	switch event.Type {
	case EventRequestReceived:
		p.requestsTotal.WithLabelValues(event.Backend).Inc()
	case EventBackendSelected:
		p.selectionsTotal.WithLabelValues(event.Backend, event.Reason).Inc()
	case EventResponseCompleted:
		p.responsesTotal.WithLabelValues(event.Backend, strconv.Itoa(event.StatusCode)).Inc()
		p.responseDuration.WithLabelValues(event.Backend).Observe(event.Duration.Seconds())
	case EventProxyError:
		p.proxyErrorsTotal.WithLabelValues(event.Backend).Inc()
	case EventNoHealthyBackend:
		p.unavailableTotal.Inc()
	case EventProbeCompleted:
		result := "failure"
		if event.Success {
			result = "success"
			p.probeLatency.WithLabelValues(event.Backend).Observe(event.Duration.Seconds())
		}
		p.probesTotal.WithLabelValues(event.Backend, result).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
