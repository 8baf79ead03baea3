package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

type runConfig struct {
	URL         string
	Method      string
	Body        string
	ContentType string
	Requests    int
	Concurrency int
	Timeout     time.Duration
	// Clients is the number of distinct fake client IPs sent in
	// X-Forwarded-For. Zero sends no header.
	Clients int
}

type runner struct {
	cfg    runConfig
	client *http.Client
	log    *slog.Logger
}

func newRunner(cfg runConfig, log *slog.Logger) *runner {
	return &runner{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

func fakeClientIP(idx, clients int) string {
	n := idx % clients
	return fmt.Sprintf("192.168.%d.%d", n/254, n%254+1)
}

// Run fires cfg.Requests requests with at most cfg.Concurrency in flight and
// returns one Sample per request in index order. Cancelling ctx stops new
// requests from starting.
func (r *runner) Run(ctx context.Context) ([]Sample, time.Duration, error) {
	samples := make([]Sample, r.cfg.Requests)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.cfg.Concurrency))

	began := time.Now()
	launched := 0
	for i := range r.cfg.Requests {
		if gctx.Err() != nil {
			break
		}
		launched++
		g.Go(func() error {
			samples[i] = r.do(gctx, i)
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(began)

	samples = samples[:launched]
	if err := ctx.Err(); err != nil {
		return samples, elapsed, fmt.Errorf("load test interrupted: %w", err)
	}
	return samples, elapsed, nil
}

func (r *runner) do(ctx context.Context, idx int) Sample {
	sm := Sample{Index: idx, At: time.Now()}

	var body io.Reader
	if r.cfg.Body != "" {
		body = strings.NewReader(r.cfg.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.cfg.Method, r.cfg.URL, body)
	if err != nil {
		sm.Err = err
		return sm
	}
	if body != nil && r.cfg.ContentType != "" {
		req.Header.Set("Content-Type", r.cfg.ContentType)
	}
	if r.cfg.Clients > 0 {
		req.Header.Set("X-Forwarded-For", fakeClientIP(idx, r.cfg.Clients))
	}

	resp, err := r.client.Do(req)
	if err != nil {
		sm.Duration = time.Since(sm.At)
		sm.Err = err
		r.log.Debug("request failed", slog.Int("idx", idx), slog.Any("err", err))
		return sm
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	sm.Duration = time.Since(sm.At)
	sm.Status = resp.StatusCode
	sm.Backend = resp.Header.Get("X-Backend-Server")

	r.log.Debug("request",
		slog.Int("idx", idx),
		slog.String("backend", sm.Backend),
		slog.Int("status", sm.Status),
		slog.Duration("duration", sm.Duration))

	return sm
}
