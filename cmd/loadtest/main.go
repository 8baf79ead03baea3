// Loadtest drives concurrent traffic through the load balancer and reports
// throughput, latency percentiles, the per-backend spread taken from the
// X-Backend-Server header, and an overall efficiency score.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080 -concurrency 10 -requests 1000
//	go run ./cmd/loadtest -concurrency 50 -requests 5000 -csv results.csv -out summary.json
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/angeloszaimis/hybrid-lb/pkg/logger"
)

func main() {
	var cfg runConfig
	flag.StringVar(&cfg.URL, "url", "http://localhost:8080/", "target URL")
	flag.IntVar(&cfg.Concurrency, "concurrency", 10, "maximum requests in flight")
	flag.IntVar(&cfg.Requests, "requests", 100, "total number of requests to send")
	flag.StringVar(&cfg.Method, "method", "GET", "HTTP method")
	flag.StringVar(&cfg.Body, "body", "", "request body")
	flag.StringVar(&cfg.ContentType, "content-type", "application/json", "Content-Type sent with a body")
	flag.DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "per-request timeout")
	flag.IntVar(&cfg.Clients, "clients", 50, "distinct fake client IPs sent in X-Forwarded-For (0 disables)")
	outJSON := flag.String("out", "", "write the JSON summary to this file")
	outCSV := flag.String("csv", "", "write per-request rows to this file")
	verbose := flag.Bool("v", false, "log every request")
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log := logger.New(level, false, "dev")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	samples, elapsed, runErr := newRunner(cfg, log).Run(ctx)

	summary := Summarize(samples, elapsed)
	summary.Target = cfg.URL
	summary.Requests = cfg.Requests
	summary.Concurrency = cfg.Concurrency
	printSummary(os.Stdout, summary)

	err := runErr
	if *outCSV != "" {
		err = multierr.Append(err, writeFile(*outCSV, func(w io.Writer) error { return writeCSV(w, samples) }))
	}
	if *outJSON != "" {
		err = multierr.Append(err, writeFile(*outJSON, func(w io.Writer) error { return writeJSON(w, summary) }))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}

	if summary.Failure > 0 {
		os.Exit(2)
	}
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	return write(f)
}

func writeCSV(w io.Writer, samples []Sample) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"idx", "timestamp", "backend", "status", "duration_ms", "error"})
	for _, s := range samples {
		errText := ""
		if s.Err != nil {
			errText = s.Err.Error()
		}
		_ = cw.Write([]string{
			strconv.Itoa(s.Index),
			s.At.Format(time.RFC3339Nano),
			s.Backend,
			strconv.Itoa(s.Status),
			strconv.FormatFloat(ms(s.Duration), 'f', 3, 64),
			errText,
		})
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func printSummary(w io.Writer, s Summary) {
	fmt.Fprintln(w, "--- Load Test Summary ---")
	fmt.Fprintf(w, "Target: %s\n", s.Target)
	fmt.Fprintf(w, "Requests: %d  Concurrency: %d\n", s.Requests, s.Concurrency)
	fmt.Fprintf(w, "Total sent: %d  Success: %d  Failure: %d\n", s.TotalSent, s.Success, s.Failure)
	fmt.Fprintf(w, "Duration: %dms  Throughput: %.2f req/s\n", s.DurationMs, s.ThroughputRPS)

	fmt.Fprintln(w, "\nStatus codes:")
	codes := make([]int, 0, len(s.StatusCodes))
	for c := range s.StatusCodes {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	for _, c := range codes {
		fmt.Fprintf(w, "  %d -> %d\n", c, s.StatusCodes[c])
	}

	fmt.Fprintln(w, "\nBackend distribution:")
	names := make([]string, 0, len(s.Backends))
	for n := range s.Backends {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		b := s.Backends[n]
		share := 0.0
		if s.TotalSent > 0 {
			share = float64(b.Total) / float64(s.TotalSent) * 100
		}
		fmt.Fprintf(w, "  %s -> total=%d (%.1f%%) success=%d failure=%d\n", n, b.Total, share, b.Success, b.Failure)
		fmt.Fprintf(w, "    min=%.2fms avg=%.2fms max=%.2fms p50=%.2fms p95=%.2fms p99=%.2fms\n",
			b.Min, b.Avg, b.Max, b.P50, b.P95, b.P99)
	}

	l := s.Latency
	fmt.Fprintln(w, "\nOverall latencies:")
	fmt.Fprintf(w, "  min=%.2fms avg=%.2fms max=%.2fms p50=%.2fms p90=%.2fms p95=%.2fms p99=%.2fms\n",
		l.Min, l.Avg, l.Max, l.P50, l.P90, l.P95, l.P99)

	e := s.Efficiency
	fmt.Fprintln(w, "\nEfficiency:")
	fmt.Fprintf(w, "  latency=%.1f throughput=%.1f uniformity=%.1f error_rate=%.2f\n",
		e.Latency, e.Throughput, e.Uniformity, e.ErrorRate)
	fmt.Fprintf(w, "  score=%.2f/10\n", e.Score)
}
