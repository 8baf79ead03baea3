package healthcheck

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/hybrid-lb/internal/backend"
	"github.com/angeloszaimis/hybrid-lb/internal/metrics"
	"github.com/angeloszaimis/hybrid-lb/internal/registry"
)

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Path     string
	// Recover lets a successful probe bring an unhealthy backend back.
	Recover     bool
	Concurrency int
}

func DefaultConfig() Config {
	return Config{
		Interval:    10 * time.Second,
		Timeout:     1000 * time.Millisecond,
		Path:        "/health",
		Recover:     true,
		Concurrency: 8,
	}
}

// Result describes one probe of one backend.
type Result struct {
	Backend    string
	Healthy    bool
	StatusCode int
	Latency    time.Duration
	Weight     float64
	Err        error
}

// Prober periodically probes every backend of a registry and updates their
// health, latency and effective weight.
type Prober struct {
	registry  *registry.Registry
	config    Config
	client    *http.Client
	logger    *slog.Logger
	collector *metrics.Collector
}

func NewProber(reg *registry.Registry, cfg Config, logger *slog.Logger, collector *metrics.Collector) *Prober {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Path == "" {
		cfg.Path = def.Path
	}

	return &Prober{
		registry:  reg,
		config:    cfg,
		client:    &http.Client{},
		logger:    logger,
		collector: collector,
	}
}

// Run probes all backends once right away and then once per interval until
// ctx is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	p.logger.Info("Health checks started",
		slog.Duration("interval", p.config.Interval),
		slog.Int("backends", p.registry.Len()))

	p.ProbeAll(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Health checks stopped")
			return nil

		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// ProbeAll probes every backend concurrently and returns the results in
// registry order. A slow backend only delays its own result.
func (p *Prober) ProbeAll(ctx context.Context) []Result {
	backends := p.registry.All()
	results := make([]Result, len(backends))

	var g errgroup.Group
	if p.config.Concurrency > 0 {
		g.SetLimit(p.config.Concurrency)
	}

	for i, b := range backends {
		g.Go(func() error {
			results[i] = p.Probe(ctx, b)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Probe performs one bounded GET against the backend's health path. Any 2xx
// within the timeout counts as success.
func (p *Prober) Probe(ctx context.Context, b *backend.Backend) Result {
	res := Result{Backend: b.ID()}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := time.Now()
	status, err := p.get(ctx, b.URL().ResolveReference(&url.URL{Path: p.config.Path}))
	res.Latency = time.Since(start)
	res.StatusCode = status

	if err == nil && (status < 200 || status > 299) {
		err = fmt.Errorf("unexpected status %d", status)
	}

	if err != nil {
		res.Err = err
		res.Weight = b.Weight()
		res.Healthy = b.IsHealthy()
		if parent.Err() != nil {
			// the prober is stopping; says nothing about the backend
			return res
		}
		res.Healthy = false
		p.markDown(b, err)
		p.collector.Emit(metrics.MetricEvent{
			Type:    metrics.EventProbeCompleted,
			Backend: b.ID(),
			Success: false,
		})
		return res
	}

	res.Weight = b.RecordProbe(res.Latency)
	res.Healthy = p.markUp(b)

	p.collector.Emit(metrics.MetricEvent{
		Type:     metrics.EventProbeCompleted,
		Backend:  b.ID(),
		Success:  true,
		Duration: res.Latency,
		Weight:   res.Weight,
	})

	return res
}

func (p *Prober) get(ctx context.Context, healthURL *url.URL) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return resp.StatusCode, fmt.Errorf("read probe body: %w", err)
	}

	return resp.StatusCode, nil
}

func (p *Prober) markUp(b *backend.Backend) bool {
	if !p.config.Recover && !b.IsHealthy() {
		p.logger.Debug("Probe succeeded but recovery is disabled",
			slog.String("server", b.ID()))
		return false
	}

	if b.SetHealthy(true) {
		p.logger.Info("Server is back up",
			slog.String("server", b.ID()),
			slog.Float64("weight", b.Weight()))
		p.emitHealth(b.ID(), true)
	}
	return true
}

func (p *Prober) markDown(b *backend.Backend, err error) {
	if b.SetHealthy(false) {
		p.logger.Warn("Server is down",
			slog.String("server", b.ID()),
			slog.String("error", err.Error()))
		p.emitHealth(b.ID(), false)
		return
	}

	p.logger.Debug("Probe failed",
		slog.String("server", b.ID()),
		slog.String("error", err.Error()))
}

func (p *Prober) emitHealth(id string, healthy bool) {
	p.collector.Emit(metrics.MetricEvent{
		Type:    metrics.EventHealthChanged,
		Backend: id,
		Healthy: healthy,
	})
}
