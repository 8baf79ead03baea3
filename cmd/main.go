package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/hybrid-lb/config"
	"github.com/angeloszaimis/hybrid-lb/internal/backend"
	"github.com/angeloszaimis/hybrid-lb/internal/handler"
	"github.com/angeloszaimis/hybrid-lb/internal/healthcheck"
	"github.com/angeloszaimis/hybrid-lb/internal/httpserver"
	"github.com/angeloszaimis/hybrid-lb/internal/loadbalancer"
	"github.com/angeloszaimis/hybrid-lb/internal/metrics"
	"github.com/angeloszaimis/hybrid-lb/internal/proxy"
	"github.com/angeloszaimis/hybrid-lb/internal/registry"
	"github.com/angeloszaimis/hybrid-lb/internal/strategy"
	"github.com/angeloszaimis/hybrid-lb/pkg/logger"
)

var errNoValidBackends = errors.New("no valid backends configured")

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Server.Environment != config.EnvProd, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, log)
	if err != nil {
		log.Error("Failed to initialize load balancer", slog.Any("err", err))
		os.Exit(1)
	}

	if err := a.run(ctx); err != nil {
		log.Error("Load balancer stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
}

type app struct {
	cfg       *config.Config
	log       *slog.Logger
	registry  *registry.Registry
	collector *metrics.Collector
	prober    *healthcheck.Prober
	proxy     *proxy.ReverseProxy
	server    *httpserver.Server
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	backends, err := initializeBackends(cfg.Backends, log)
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(backends...)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	var (
		prom *metrics.Prometheus
		opts []metrics.Option
	)
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus(metrics.DefaultNamespace)
		prom.MustRegister(metrics.NewBackendCollector(metrics.DefaultNamespace, reg))
		opts = append(opts, metrics.WithPrometheus(prom))
	}
	collector := metrics.NewCollector(cfg.Metrics.BufferSize, logger.Component(log, "metrics"), opts...)

	strat := strategy.NewHybridStrategy(strategy.HybridOptions{
		AffinityTolerance: cfg.Selection.AffinityTolerance,
		TieTolerance:      cfg.Selection.TieTolerance,
	})
	lb := loadbalancer.NewLoadBalancer(reg, strat)

	prober := healthcheck.NewProber(reg, healthcheck.Config{
		Interval:    cfg.HealthCheck.Interval,
		Timeout:     cfg.HealthCheck.Timeout,
		Path:        cfg.HealthCheck.Path,
		Recover:     cfg.HealthCheck.Recover,
		Concurrency: cfg.HealthCheck.Concurrency,
	}, logger.Component(log, "healthcheck"), collector)

	rp := proxy.NewReverseProxy(proxy.Options{
		MaxIdleConns:        cfg.Proxy.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Proxy.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Proxy.IdleConnTimeout,
		DialTimeout:         cfg.Proxy.DialTimeout,
	}, logger.Component(log, "proxy"))

	loadBalancerHandler := handler.NewLoadBalancerHandler(logger.Component(log, "handler"), lb, rp, collector)
	router := setupRouter(cfg.Metrics, loadBalancerHandler, collector, prom)

	srv, err := httpserver.New(cfg.Server.Address, router, httpserver.Options{
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create server: %w", err)
	}

	return &app{
		cfg:       cfg,
		log:       log,
		registry:  reg,
		collector: collector,
		prober:    prober,
		proxy:     rp,
		server:    srv,
	}, nil
}

// run serves until ctx is cancelled or the listener fails, then shuts the
// server down, stops probing and drains the metrics buffer.
func (a *app) run(ctx context.Context) error {
	collectorCtx, stopCollector := context.WithCancel(context.Background())
	a.collector.Start(collectorCtx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.prober.Run(gctx)
	})

	g.Go(func() error {
		a.log.Info("Hybrid load balancer listening",
			slog.String("address", a.server.Addr()),
			slog.Int("backends", a.registry.Len()))
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("Shutting down gracefully...")
		defer a.proxy.Close()
		if err := a.server.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()

	stopCollector()
	<-a.collector.Done()

	return err
}

// initializeBackends parses every configured backend. Invalid entries are
// logged and skipped; only an empty result is an error.
func initializeBackends(cfgs []config.BackendConfig, log *slog.Logger) ([]*backend.Backend, error) {
	var (
		backends []*backend.Backend
		errs     error
	)

	for _, bc := range cfgs {
		if err := config.ValidateBackend(bc); err != nil {
			log.Error("Skipping backend",
				slog.String("url", bc.URL),
				slog.String("error", err.Error()))
			errs = multierr.Append(errs, fmt.Errorf("backend %q: %w", bc.URL, err))
			continue
		}

		u, _ := url.Parse(bc.URL)
		backends = append(backends, backend.New(u, bc.Weight))
	}

	if len(backends) == 0 {
		return nil, multierr.Append(errNoValidBackends, errs)
	}

	return backends, nil
}
