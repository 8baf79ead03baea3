package handler_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/hybrid-lb/internal/backend"
	"github.com/angeloszaimis/hybrid-lb/internal/handler"
	"github.com/angeloszaimis/hybrid-lb/internal/loadbalancer"
	"github.com/angeloszaimis/hybrid-lb/internal/metrics"
	"github.com/angeloszaimis/hybrid-lb/internal/proxy"
	"github.com/angeloszaimis/hybrid-lb/internal/registry"
	"github.com/angeloszaimis/hybrid-lb/internal/strategy"
)

// forwarderFunc adapts a function to proxy.Forwarder.
type forwarderFunc func(w http.ResponseWriter, r *http.Request, target *url.URL) error

func (f forwarderFunc) Forward(w http.ResponseWriter, r *http.Request, target *url.URL) error {
	return f(w, r, target)
}

func newUpstream(name string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Request-ID", r.Header.Get(handler.HeaderRequestID))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(name))
	}))
}

func totalConnections(backends []*backend.Backend) int {
	total := 0
	for _, b := range backends {
		total += b.ActiveConnections()
	}
	return total
}

var _ = Describe("LoadBalancerHandler", func() {
	var (
		log       *slog.Logger
		upstreams []*httptest.Server
		backends  []*backend.Backend
		lb        *loadbalancer.LoadBalancer
		rp        *proxy.ReverseProxy
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))

		upstreams = []*httptest.Server{newUpstream("backend1"), newUpstream("backend2"), newUpstream("backend3")}
		backends = make([]*backend.Backend, len(upstreams))
		for i, u := range upstreams {
			backends[i] = backend.New(mustParseURL(u.URL), 10)
		}

		reg, err := registry.New(backends...)
		Expect(err).NotTo(HaveOccurred())

		lb = loadbalancer.NewLoadBalancer(reg, strategy.NewHybridStrategy(strategy.HybridOptions{}))
		rp = proxy.NewReverseProxy(proxy.DefaultOptions(), log)
	})

	AfterEach(func() {
		rp.Close()
		for _, u := range upstreams {
			u.Close()
		}
	})

	Describe("ServeHTTP", func() {
		It("should proxy the request and name the backend that served it", func() {
			h := handler.NewLoadBalancerHandler(log, lb, rp, nil)
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			served := rec.Header().Get(handler.HeaderBackendServer)
			Expect(served).NotTo(BeEmpty())

			idx := -1
			for i, b := range backends {
				if b.ID() == served {
					idx = i
				}
			}
			Expect(idx).NotTo(Equal(-1))
			Expect(rec.Body.String()).To(Equal(fmt.Sprintf("backend%d", idx+1)))
			Expect(totalConnections(backends)).To(BeZero())
		})

		It("should generate a request ID and pass it upstream", func() {
			h := handler.NewLoadBalancerHandler(log, lb, rp, nil)
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			id := rec.Header().Get(handler.HeaderRequestID)
			Expect(id).To(HaveLen(36))
			Expect(rec.Header().Get("X-Seen-Request-ID")).To(Equal(id))
		})

		It("should keep an incoming request ID", func() {
			h := handler.NewLoadBalancerHandler(log, lb, rp, nil)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(handler.HeaderRequestID, "abc-123")
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			Expect(rec.Header().Get(handler.HeaderRequestID)).To(Equal("abc-123"))
			Expect(rec.Header().Get("X-Seen-Request-ID")).To(Equal("abc-123"))
		})

		It("should hold a connection slot only while the request is in flight", func() {
			var during int
			fwd := forwarderFunc(func(w http.ResponseWriter, r *http.Request, target *url.URL) error {
				during = totalConnections(backends)
				w.WriteHeader(http.StatusNoContent)
				return nil
			})
			h := handler.NewLoadBalancerHandler(log, lb, fwd, nil)
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(during).To(Equal(1))
			Expect(totalConnections(backends)).To(BeZero())
		})

		It("should release the slot when forwarding aborts with a panic", func() {
			fwd := forwarderFunc(func(w http.ResponseWriter, r *http.Request, target *url.URL) error {
				panic(http.ErrAbortHandler)
			})
			h := handler.NewLoadBalancerHandler(log, lb, fwd, nil)

			Expect(func() {
				h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
			}).To(PanicWith(http.ErrAbortHandler))
			Expect(totalConnections(backends)).To(BeZero())
		})

		It("should keep the same backend for a returning client while idle", func() {
			h := handler.NewLoadBalancerHandler(log, lb, rp, nil)

			serve := func() string {
				req := httptest.NewRequest(http.MethodGet, "/", nil)
				req.Header.Set(handler.HeaderForwardedFor, "198.51.100.23")
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, req)
				return rec.Header().Get(handler.HeaderBackendServer)
			}

			first := serve()
			for i := 0; i < 5; i++ {
				Expect(serve()).To(Equal(first))
			}
		})

		Context("with no healthy backends", func() {
			BeforeEach(func() {
				for _, b := range backends {
					b.SetHealthy(false)
				}
			})

			It("should return 503 Service Unavailable", func() {
				h := handler.NewLoadBalancerHandler(log, lb, rp, nil)
				rec := httptest.NewRecorder()

				h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

				Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
				Expect(rec.Header().Get(handler.HeaderBackendServer)).To(BeEmpty())
				Expect(totalConnections(backends)).To(BeZero())
			})

			It("should count the rejection", func() {
				ctx, cancel := context.WithCancel(context.Background())
				collector := metrics.NewCollector(16, log)
				collector.Start(ctx)

				h := handler.NewLoadBalancerHandler(log, lb, rp, collector)
				h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

				cancel()
				Eventually(collector.Done()).Should(BeClosed())
				Expect(collector.Snapshot("hybrid").Unavailable).To(Equal(int64(1)))
			})
		})

		Context("when the chosen backend is unreachable", func() {
			BeforeEach(func() {
				for _, u := range upstreams {
					u.Close()
				}
			})

			It("should return 502, release the slot and leave health alone", func() {
				ctx, cancel := context.WithCancel(context.Background())
				collector := metrics.NewCollector(16, log)
				collector.Start(ctx)

				h := handler.NewLoadBalancerHandler(log, lb, rp, collector)
				rec := httptest.NewRecorder()

				h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

				Expect(rec.Code).To(Equal(http.StatusBadGateway))
				Expect(totalConnections(backends)).To(BeZero())
				for _, b := range backends {
					Expect(b.IsHealthy()).To(BeTrue())
				}

				cancel()
				Eventually(collector.Done()).Should(BeClosed())

				served := rec.Header().Get(handler.HeaderBackendServer)
				bm := collector.Snapshot("hybrid").Backends[served]
				Expect(bm.ProxyErrors).To(Equal(int64(1)))
				Expect(bm.StatusCodes[http.StatusBadGateway]).To(Equal(int64(1)))
			})
		})

		It("should serve many concurrent clients and return every slot", func() {
			h := handler.NewLoadBalancerHandler(log, lb, rp, nil)
			server := httptest.NewServer(h)
			defer server.Close()

			var (
				wg     sync.WaitGroup
				mutex  sync.Mutex
				served = make(map[string]int)
			)

			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()

					req, err := http.NewRequest(http.MethodGet, server.URL+"/", nil)
					Expect(err).NotTo(HaveOccurred())
					req.Header.Set(handler.HeaderForwardedFor, fmt.Sprintf("10.0.%d.%d", i/250, i%250+1))

					resp, err := http.DefaultClient.Do(req)
					Expect(err).NotTo(HaveOccurred())
					defer resp.Body.Close()
					_, _ = io.Copy(io.Discard, resp.Body)

					Expect(resp.StatusCode).To(Equal(http.StatusOK))

					mutex.Lock()
					served[resp.Header.Get(handler.HeaderBackendServer)]++
					mutex.Unlock()
				}(i)
			}
			wg.Wait()

			known := make(map[string]bool)
			for _, b := range backends {
				known[b.ID()] = true
			}

			total := 0
			for id, n := range served {
				Expect(known).To(HaveKey(id))
				total += n
			}
			Expect(total).To(Equal(100))
			Expect(totalConnections(backends)).To(BeZero())
		})
	})

	DescribeTable("ExtractClientIP",
		func(xff, remote, expected string) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = remote
			if xff != "" {
				req.Header.Set(handler.HeaderForwardedFor, xff)
			}
			Expect(handler.ExtractClientIP(req)).To(Equal(expected))
		},
		Entry("first forwarded entry", "203.0.113.5, 10.0.0.1", "10.9.9.9:1234", "203.0.113.5"),
		Entry("single forwarded entry with spaces", "  203.0.113.6 ", "10.9.9.9:1234", "203.0.113.6"),
		Entry("remote address host", "", "192.0.2.10:5555", "192.0.2.10"),
		Entry("IPv6 remote address", "", "[2001:db8::1]:443", "2001:db8::1"),
		Entry("remote address without port", "", "192.0.2.11", "192.0.2.11"),
	)
})

func mustParseURL(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return u
}
