package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angeloszaimis/hybrid-lb/internal/registry"
)

// BackendCollector exports the live state of every registered backend at
// scrape time.
type BackendCollector struct {
	registry *registry.Registry

	weight            *prometheus.Desc
	baseWeight        *prometheus.Desc
	activeConnections *prometheus.Desc
	healthy           *prometheus.Desc
}

func NewBackendCollector(namespace string, reg *registry.Registry) *BackendCollector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	labels := []string{"backend"}

	return &BackendCollector{
		registry: reg,
		weight: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "backend", "weight"),
			"Current latency-adjusted weight", labels, nil,
		),
		baseWeight: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "backend", "base_weight"),
			"Configured base weight", labels, nil,
		),
		activeConnections: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "backend", "active_connections"),
			"Requests currently in flight", labels, nil,
		),
		healthy: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "backend", "healthy"),
			"1 if the backend is eligible for selection", labels, nil,
		),
	}
}

func (c *BackendCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.weight
	ch <- c.baseWeight
	ch <- c.activeConnections
	ch <- c.healthy
}

func (c *BackendCollector) Collect(ch chan<- prometheus.Metric) {
	for _, b := range c.registry.All() {
		st := b.State()

		healthy := 0.0
		if st.Healthy {
			healthy = 1
		}

		ch <- prometheus.MustNewConstMetric(c.weight, prometheus.GaugeValue, st.Weight, st.ID)
		ch <- prometheus.MustNewConstMetric(c.baseWeight, prometheus.GaugeValue, float64(st.BaseWeight), st.ID)
		ch <- prometheus.MustNewConstMetric(c.activeConnections, prometheus.GaugeValue, float64(st.ActiveConnections), st.ID)
		ch <- prometheus.MustNewConstMetric(c.healthy, prometheus.GaugeValue, healthy, st.ID)
	}
}
