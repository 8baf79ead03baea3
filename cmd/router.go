package main

import (
	"net/http"

	"github.com/angeloszaimis/hybrid-lb/config"
	"github.com/angeloszaimis/hybrid-lb/internal/handler"
	"github.com/angeloszaimis/hybrid-lb/internal/metrics"
	"github.com/angeloszaimis/hybrid-lb/internal/strategy"
)

func setupRouter(cfg config.MetricsConfig, loadBalancerHandler *handler.LoadBalancerHandler, collector *metrics.Collector, prom *metrics.Prometheus) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/", loadBalancerHandler)

	if cfg.Enabled {
		mux.HandleFunc(cfg.StatsPath, collector.Handler(strategy.Name))
		if prom != nil {
			mux.Handle(cfg.Path, prom.Handler())
		}
	}

	return mux
}
